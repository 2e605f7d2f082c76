package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/subsidy-match/internal/aiscore"
	"github.com/sells-group/subsidy-match/internal/catalog"
	"github.com/sells-group/subsidy-match/internal/matcher"
	"github.com/sells-group/subsidy-match/internal/profile"
	"github.com/sells-group/subsidy-match/internal/resilience"
	"github.com/sells-group/subsidy-match/internal/store"
	anthropicpkg "github.com/sells-group/subsidy-match/pkg/anthropic"
)

// matchEnv holds everything the serve and match commands need.
type matchEnv struct {
	Store    store.Store // nil when persistence is off
	Catalog  *catalog.Registry
	Profiles *profile.DirSource
	Matcher  *matcher.Matcher
}

// Close releases resources held by the environment.
func (e *matchEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initMatchEnv validates config for mode, loads the catalog, opens the store
// (unless persist is false) and builds the matcher. Callers should defer
// env.Close().
func initMatchEnv(ctx context.Context, mode string, persist bool) (*matchEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	reg, err := initCatalog()
	if err != nil {
		return nil, err
	}

	ai, err := initAI()
	if err != nil {
		return nil, err
	}

	env := &matchEnv{
		Catalog:  reg,
		Profiles: profile.NewDirSource(cfg.Profiles.Dir),
	}

	var sink matcher.Sink
	if persist {
		st, err := initStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
		sink = st
	}

	env.Matcher = matcher.New(reg, env.Profiles, sink, ai, matcher.Config{
		Concurrency:     cfg.Matcher.Concurrency,
		AITimeout:       cfg.Matcher.AITimeout(),
		AIEligibleOnly:  cfg.Matcher.AIEligibleOnly,
		Recommendations: cfg.Matcher.Recommendations,
	})
	return env, nil
}

// initStore opens the configured run store.
func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "subsidy-match.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.Pool.MaxConns,
			MinConns: cfg.Store.Pool.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initCatalog loads the catalog file into a registry.
func initCatalog() (*catalog.Registry, error) {
	reg := catalog.NewRegistry(cfg.Catalog.Path, catalog.Options{Strict: cfg.Catalog.Strict})
	if _, err := reg.Load(); err != nil {
		return nil, eris.Wrap(err, "load catalog")
	}
	return reg, nil
}

// initAI builds the AI signal adapter; nil means no signal.
func initAI() (aiscore.Adapter, error) {
	ai := cfg.AI
	opts := aiscore.Options{
		Provider:      ai.Provider,
		Model:         ai.Anthropic.Model,
		MaxTokens:     ai.Anthropic.MaxTokens,
		RatePerSecond: ai.RatePerSecond,
		Burst:         ai.Burst,
		NoFallback:    !ai.FallbackHeuristic,
	}

	if ai.Provider == aiscore.ProviderClaude {
		if ai.Anthropic.Key != "" {
			opts.Client = anthropicpkg.NewClient(anthropicpkg.Options{
				APIKey:  ai.Anthropic.Key,
				BaseURL: ai.Anthropic.BaseURL,
				Timeout: time.Duration(ai.Anthropic.TimeoutSecs) * time.Second,
			})
		} else {
			zap.L().Warn("SUBSIDY_AI_ANTHROPIC_KEY not set, using heuristic AI signal")
		}
		opts.Guard = resilience.NewGuard("anthropic",
			resilience.FromCircuitConfig("anthropic", ai.Circuit.FailureThreshold, ai.Circuit.ResetTimeoutSecs),
			resilience.FromRetryConfig(ai.Retry.MaxAttempts, ai.Retry.InitialBackoffMs, ai.Retry.MaxBackoffMs, ai.Retry.Multiplier, ai.Retry.JitterFraction),
		)
	}

	adapter, err := aiscore.Build(opts)
	if err != nil {
		return nil, eris.Wrap(err, "init ai signal")
	}
	if adapter != nil {
		zap.L().Info("ai signal enabled", zap.String("provider", ai.Provider))
	}
	return adapter, nil
}
