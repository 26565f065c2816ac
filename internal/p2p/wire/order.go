package wire

import (
	"errors"
	"fmt"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

// Gossip frames carry exactly one JSON-encoded signed order. The frame
// format matches the v3 mesh network, so nodes interoperate with existing
// relays on the order topic.

// MaxMessageSize caps gossip frames; anything larger is dropped before
// parsing.
const MaxMessageSize = 262144

var (
	ErrOversizeFrame = errors.New("wire: frame exceeds size cap")
	ErrBadFrame      = errors.New("wire: malformed order frame")
)

// EncodeOrder renders the gossip frame for one signed order.
func EncodeOrder(o *zeroex.SignedOrder) ([]byte, error) {
	b, err := o.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("wire: encode order: %w", err)
	}
	if len(b) > MaxMessageSize {
		return nil, ErrOversizeFrame
	}
	return b, nil
}

// DecodeOrder parses a gossip frame. Size is checked before any parsing;
// parse failures wrap ErrBadFrame so callers can distinguish framing
// violations from semantic invalidity.
func DecodeOrder(data []byte) (*zeroex.SignedOrder, error) {
	if len(data) > MaxMessageSize {
		return nil, ErrOversizeFrame
	}
	if len(data) == 0 {
		return nil, ErrBadFrame
	}
	var o zeroex.SignedOrder
	if err := o.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadFrame, err)
	}
	return &o, nil
}
