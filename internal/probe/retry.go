package probe

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// RetryProber re-runs transient failures (timeouts and connection errors)
// before reporting them. Every other status is returned as is.
type RetryProber struct {
	Inner    Prober
	Attempts int
	Backoff  time.Duration
}

func (r *RetryProber) Probe(ctx context.Context, target domain.Target, p Params) domain.CheckOutcome {
	attempts := r.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var last domain.CheckOutcome
	for i := 0; i < attempts; i++ {
		last = r.Inner.Probe(ctx, target, p)
		if !transient(last.Status) {
			return last
		}
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return last
			case <-time.After(r.Backoff):
			}
		}
	}
	if attempts > 1 {
		last.Detail += " (after retries)"
	}
	return last
}

func transient(s domain.StatusKind) bool {
	return s == domain.StatusTimeoutError || s == domain.StatusConnectionError
}
