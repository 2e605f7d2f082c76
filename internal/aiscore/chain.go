package aiscore

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/subsidy-match/internal/resilience"
)

// Named attaches a name to an adapter for logging.
type Named struct {
	Name string
	Adapter
}

// Chain tries adapters in order and returns the first signal. When all fail
// it returns ErrAdapterUnavailable.
type Chain []Named

// Refine implements Adapter.
func (c Chain) Refine(ctx context.Context, req Request) (float64, error) {
	var lastErr error
	for _, a := range c {
		if err := ctx.Err(); err != nil {
			return 0, eris.Wrap(ErrAdapterUnavailable, err.Error())
		}
		v, err := a.Refine(ctx, req)
		if err == nil {
			return clamp01(v), nil
		}
		lastErr = err
		zap.L().Warn("aiscore: adapter failed, trying next",
			zap.String("adapter", a.Name),
			zap.String("subsidy", req.SubsidyCode),
			zap.Error(err),
		)
	}
	if lastErr == nil {
		return 0, ErrAdapterUnavailable
	}
	return 0, eris.Wrap(ErrAdapterUnavailable, lastErr.Error())
}

// Guarded runs an adapter behind a circuit breaker with retries.
type Guarded struct {
	Next  Adapter
	Guard *resilience.Guard
}

// Refine implements Adapter.
func (g Guarded) Refine(ctx context.Context, req Request) (float64, error) {
	v, err := resilience.Call(ctx, g.Guard, func(ctx context.Context) (float64, error) {
		return g.Next.Refine(ctx, req)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return 0, eris.Wrap(ErrAdapterUnavailable, "circuit open")
	}
	return v, err
}

// Limited throttles calls to an adapter.
type Limited struct {
	Next    Adapter
	Limiter *rate.Limiter
}

// Refine implements Adapter.
func (l Limited) Refine(ctx context.Context, req Request) (float64, error) {
	if err := l.Limiter.Wait(ctx); err != nil {
		return 0, eris.Wrap(err, "aiscore: rate limit wait")
	}
	return l.Next.Refine(ctx, req)
}
