package oracle

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
)

// Status is an oracle verdict. Indeterminate means the oracle could not
// decide (transient dependency failure, signature kinds needing contract
// state); callers retry within a bounded budget and then treat the order
// as invalid.
type Status int

const (
	StatusValid Status = iota
	StatusInvalid
	StatusIndeterminate
)

func (s Status) String() string {
	switch s {
	case StatusValid:
		return "valid"
	case StatusInvalid:
		return "invalid"
	case StatusIndeterminate:
		return "indeterminate"
	default:
		return "unknown"
	}
}

// Result is the oracle's answer for one order. Expiry is the confirmed
// expiration the store should index; Reason is set for invalid verdicts.
type Result struct {
	Status      Status
	Fingerprint common.Hash
	Expiry      time.Time
	Reason      string
}

// Oracle decides order fillability. Implementations must be safe for
// concurrent use; a returned error means the check itself failed and the
// caller should treat the attempt as indeterminate.
type Oracle interface {
	Validate(ctx context.Context, order *zeroex.SignedOrder) (Result, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, order *zeroex.SignedOrder) (Result, error)

func (f Func) Validate(ctx context.Context, order *zeroex.SignedOrder) (Result, error) {
	return f(ctx, order)
}

// Chain composes oracles front to back: an invalid verdict or an error
// short-circuits, otherwise the last oracle's result stands. A stateless
// pre-check composed in front of an on-chain binding lets the latter
// resolve what the former left indeterminate.
func Chain(oracles ...Oracle) Oracle {
	return Func(func(ctx context.Context, order *zeroex.SignedOrder) (Result, error) {
		var last Result
		for _, o := range oracles {
			res, err := o.Validate(ctx, order)
			if err != nil {
				return res, err
			}
			if res.Status == StatusInvalid {
				return res, nil
			}
			last = res
		}
		return last, nil
	})
}
