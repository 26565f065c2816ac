package wire

import (
	"encoding/json"
	"errors"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

// OrderSync transfers a peer's full order set in pages over a dedicated
// stream protocol. Request and response ride as internally tagged JSON
// objects; the cursor subprotocol (v1) pages by minimum order hash, the
// legacy snapshot subprotocol (v0) by snapshot id and page number.

const (
	ProtocolOrderSync = "/0x-mesh/order-sync/version/0"
	SubprotocolV0     = "/pagination-with-filter/version/0"
	SubprotocolV1     = "/pagination-with-filter/version/1"

	// ZeroCursor is the v1 starting cursor.
	ZeroCursor = "0x0000000000000000000000000000000000000000000000000000000000000000"
)

const (
	TypeRequest  = "Request"
	TypeResponse = "Response"
)

var ErrUnexpectedMessage = errors.New("wire: unexpected ordersync message type")

type Request struct {
	Type         string                   `json:"type"`
	Subprotocols []string                 `json:"subprotocols"`
	Metadata     RequestMetadataContainer `json:"metadata"`
}

type RequestMetadataContainer struct {
	Metadata []RequestMetadata `json:"metadata"`
}

// RequestMetadata folds both subprotocol shapes into one struct; v1 uses
// MinOrderHash, v0 uses SnapshotID and Page.
type RequestMetadata struct {
	MinOrderHash string             `json:"minOrderHash,omitempty"`
	SnapshotID   *string            `json:"snapshotID,omitempty"`
	Page         *int64             `json:"page,omitempty"`
	OrderFilter  zeroex.OrderFilter `json:"orderfilter"`
}

type Response struct {
	Type        string            `json:"type"`
	Orders      []json.RawMessage `json:"orders"`
	Complete    bool              `json:"complete"`
	Subprotocol string            `json:"subprotocol"`
	Metadata    ResponseMetadata  `json:"metadata"`
}

type ResponseMetadata struct {
	SnapshotID       *string `json:"snapshotID,omitempty"`
	Page             *int64  `json:"page,omitempty"`
	NextMinOrderHash string  `json:"nextMinOrderHash,omitempty"`
}

// NewRequest builds the opening request for a filter, offering the cursor
// subprotocol first and the snapshot one as fallback.
func NewRequest(filter zeroex.OrderFilter) Request {
	var page int64
	snap := ""
	return Request{
		Type:         TypeRequest,
		Subprotocols: []string{SubprotocolV1, SubprotocolV0},
		Metadata: RequestMetadataContainer{
			Metadata: []RequestMetadata{
				{MinOrderHash: ZeroCursor, OrderFilter: filter},
				{SnapshotID: &snap, Page: &page, OrderFilter: filter},
			},
		},
	}
}

// NextRequest derives the follow-up request from a response, or nil when
// the transfer is complete.
func (r Response) NextRequest(filter zeroex.OrderFilter) *Request {
	if r.Complete {
		return nil
	}
	req := Request{
		Type:         TypeRequest,
		Subprotocols: []string{r.Subprotocol},
		Metadata:     RequestMetadataContainer{Metadata: []RequestMetadata{{OrderFilter: filter}}},
	}
	switch r.Subprotocol {
	case SubprotocolV0:
		var page int64
		if r.Metadata.Page != nil {
			page = *r.Metadata.Page + 1
		}
		snap := ""
		if r.Metadata.SnapshotID != nil {
			snap = *r.Metadata.SnapshotID
		}
		req.Metadata.Metadata[0].SnapshotID = &snap
		req.Metadata.Metadata[0].Page = &page
	default:
		cursor := r.Metadata.NextMinOrderHash
		if cursor == "" {
			cursor = ZeroCursor
		}
		req.Metadata.Metadata[0].MinOrderHash = cursor
	}
	return &req
}

// PickSubprotocol returns the first offered subprotocol this node speaks,
// preferring the cursor one.
func (r Request) PickSubprotocol() (string, bool) {
	for _, sp := range r.Subprotocols {
		if sp == SubprotocolV1 {
			return sp, true
		}
	}
	for _, sp := range r.Subprotocols {
		if sp == SubprotocolV0 {
			return sp, true
		}
	}
	return "", false
}

// MetadataFor returns the request metadata matching the subprotocol.
func (r Request) MetadataFor(subprotocol string) (RequestMetadata, bool) {
	for _, md := range r.Metadata.Metadata {
		switch {
		case subprotocol == SubprotocolV1 && md.MinOrderHash != "":
			return md, true
		case subprotocol == SubprotocolV0 && md.SnapshotID != nil:
			return md, true
		}
	}
	if len(r.Metadata.Metadata) > 0 {
		return r.Metadata.Metadata[0], true
	}
	return RequestMetadata{}, false
}
