package oracle

import (
	"context"
	"math/rand"
	"time"

	"github.com/zrxmesh/ordermesh/internal/zeroex"
	"github.com/zrxmesh/ordermesh/pkg/metrics"
)

// Policy bounds the retry loop around indeterminate oracle answers:
// exponential backoff with cap and jitter, then give up.
type Policy struct {
	MaxAttempts int           // e.g. 3
	BaseDelay   time.Duration // e.g. 500ms
	MaxDelay    time.Duration // e.g. 5s
	Jitter      time.Duration // e.g. 100ms

	// OnRetry is an optional hook for logging/metrics.
	OnRetry func(attempt int, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, Jitter: 100 * time.Millisecond}
}

// ValidateWithRetry runs the oracle until it returns a final verdict or
// the attempt budget is spent. Exhaustion and context cancellation demote
// the order to invalid so it never enters the store unvalidated.
func ValidateWithRetry(ctx context.Context, o Oracle, p Policy, order *zeroex.SignedOrder) Result {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}

	var last Result
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return Result{Status: StatusInvalid, Fingerprint: last.Fingerprint, Expiry: last.Expiry, Reason: "canceled"}
		}

		res, err := o.Validate(ctx, order)
		if err == nil && res.Status != StatusIndeterminate {
			return res
		}
		last = res
		if err != nil {
			metrics.Inc("oracle_errors_total", nil)
		}
		if attempt == p.MaxAttempts {
			break
		}

		wait := p.BaseDelay << (attempt - 1)
		if wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if p.Jitter > 0 {
			wait += time.Duration(rand.Int63n(int64(p.Jitter)))
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait)
		}
		metrics.Inc("oracle_retries_total", nil)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Result{Status: StatusInvalid, Fingerprint: last.Fingerprint, Expiry: last.Expiry, Reason: "canceled"}
		case <-timer.C:
		}
	}
	last.Status = StatusInvalid
	if last.Reason == "" {
		last.Reason = "indeterminate_exhausted"
	} else {
		last.Reason = "indeterminate_exhausted:" + last.Reason
	}
	metrics.Inc("oracle_exhausted_total", nil)
	return last
}
