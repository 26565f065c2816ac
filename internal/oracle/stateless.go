package oracle

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Stateless checks everything that needs no chain access: shape, filter
// match, declared expiry, ECDSA signature recovery. Signature kinds that
// live in contract state come back indeterminate for a downstream oracle.
type Stateless struct {
	Filter zeroex.OrderFilter
	Clock  clock.Clock
}

func NewStateless(filter zeroex.OrderFilter, clk clock.Clock) *Stateless {
	if clk == nil {
		clk = clock.New()
	}
	return &Stateless{Filter: filter, Clock: clk}
}

func (s *Stateless) Validate(_ context.Context, order *zeroex.SignedOrder) (Result, error) {
	if err := order.Validate(); err != nil {
		return s.invalid(Result{}, "malformed"), nil
	}
	if err := s.Filter.Match(order); err != nil {
		reason := "wrong_chain"
		if errors.Is(err, zeroex.ErrWrongExchange) {
			reason = "wrong_exchange"
		}
		return s.invalid(Result{}, reason), nil
	}
	fp, err := order.Hash()
	if err != nil {
		return s.invalid(Result{}, "unhashable"), nil
	}
	res := Result{Fingerprint: fp, Expiry: order.ExpirationTime()}
	if order.ExpiredAt(s.Clock.Now()) {
		return s.invalid(res, "expired"), nil
	}
	switch err := order.VerifySignature(); {
	case err == nil:
		res.Status = StatusValid
		metrics.Inc("oracle_checks_total", map[string]string{"result": "valid"})
		return res, nil
	case errors.Is(err, zeroex.ErrSignatureNeedsChain):
		res.Status = StatusIndeterminate
		res.Reason = "signature_needs_chain"
		metrics.Inc("oracle_checks_total", map[string]string{"result": "indeterminate"})
		return res, nil
	default:
		return s.invalid(res, "bad_signature"), nil
	}
}

func (s *Stateless) invalid(res Result, reason string) Result {
	res.Status = StatusInvalid
	res.Reason = reason
	metrics.Inc("oracle_checks_total", map[string]string{"result": "invalid"})
	metrics.Inc("oracle_invalid_total", map[string]string{"reason": reason})
	return res
}

var _ Oracle = (*Stateless)(nil)
