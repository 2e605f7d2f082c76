package aiscore

import (
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/subsidy-match/internal/resilience"
	"github.com/sells-group/subsidy-match/pkg/anthropic"
)

// Providers accepted by Build.
const (
	ProviderNone      = "none"
	ProviderHeuristic = "heuristic"
	ProviderClaude    = "claude"
)

// Options select and configure the adapter stack.
type Options struct {
	Provider  string
	Client    anthropic.Client
	Model     string
	MaxTokens int64

	// RatePerSecond caps model calls; zero means unlimited.
	RatePerSecond float64
	Burst         int

	// Guard wraps model calls; nil disables breaker and retries.
	Guard *resilience.Guard

	// NoFallback disables the heuristic behind the claude provider.
	NoFallback bool
}

// Build assembles the adapter for opts. It returns nil for ProviderNone.
// Unless NoFallback is set, the claude provider falls back to the heuristic
// when the model fails or no client is configured.
func Build(opts Options) (Adapter, error) {
	switch opts.Provider {
	case "", ProviderNone:
		return nil, nil
	case ProviderHeuristic:
		return Heuristic{}, nil
	case ProviderClaude:
		if opts.Client == nil {
			if opts.NoFallback {
				return nil, eris.New("aiscore: claude provider needs a client")
			}
			return Heuristic{}, nil
		}
		var model Adapter = NewClaude(opts.Client, opts.Model, opts.MaxTokens)
		if opts.Guard != nil {
			model = Guarded{Next: model, Guard: opts.Guard}
		}
		if opts.RatePerSecond > 0 {
			burst := opts.Burst
			if burst <= 0 {
				burst = 1
			}
			model = Limited{Next: model, Limiter: rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)}
		}
		if opts.NoFallback {
			return model, nil
		}
		return Chain{
			{Name: ProviderClaude, Adapter: model},
			{Name: ProviderHeuristic, Adapter: Heuristic{}},
		}, nil
	default:
		return nil, eris.Errorf("aiscore: unknown provider %q", opts.Provider)
	}
}
