package probe

import (
	"context"
	"time"

	"github.com/hamed0406/sitewatch/internal/domain"
)

// Params are the per-cycle knobs a probe is evaluated against.
type Params struct {
	Timeout                time.Duration
	ExpectedStatus         int
	PerformanceThresholdMs int64
}

// ParamsFrom extracts probe parameters from monitoring settings.
func ParamsFrom(s domain.Settings) Params {
	return Params{
		Timeout:                s.Timeout,
		ExpectedStatus:         s.ExpectedStatus,
		PerformanceThresholdMs: s.PerformanceThresholdMs,
	}
}

// Prober performs one classified check of a target. Failures are reported
// through the outcome status, never as errors.
type Prober interface {
	Probe(ctx context.Context, target domain.Target, p Params) domain.CheckOutcome
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context, target domain.Target, p Params) domain.CheckOutcome

func (f ProberFunc) Probe(ctx context.Context, target domain.Target, p Params) domain.CheckOutcome {
	return f(ctx, target, p)
}
