package engine

import (
	"cohortq/internal/config"
	"cohortq/internal/connector/memory"
	"cohortq/internal/connector/rest"
	"cohortq/internal/federation"
	"cohortq/internal/identitycache"
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// buildHandles turns the cohort file into handles, keeping the file's order.
func buildHandles(cf *config.CohortFile, cfg *config.Config, logger *zap.Logger) ([]namedHandle, error) {
	out := make([]namedHandle, 0, len(cf.Repositories))
	for _, spec := range cf.Repositories {
		h, err := buildHandle(spec, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("repository %q: %w", spec.Name, err)
		}
		if cfg.Retry.Attempts > 1 {
			h = federation.NewRetryingHandle(h, retryPolicy(cfg.Retry), logger.With(zap.String("repository", spec.Name)))
		}
		out = append(out, namedHandle{name: spec.Name, kind: spec.Kind, handle: h})
	}
	return out, nil
}

func buildHandle(spec config.RepositorySpec, cfg *config.Config, logger *zap.Logger) (federation.Handle, error) {
	switch spec.Kind {
	case config.KindREST:
		h, err := rest.New(spec.URL,
			rest.WithToken(spec.Token()),
			rest.WithLogger(logger.With(zap.String("repository", spec.Name))),
			rest.WithVerbose(cfg.Runtime.Verbose),
			rest.WithTimeout(spec.Timeout),
			rest.WithRateLimit(spec.RateLimit, spec.Burst),
		)
		if err != nil {
			return nil, err
		}
		return h, nil
	case config.KindMemory:
		id := federation.RepositoryID(spec.ID)
		if id == "" {
			id = federation.RepositoryID(spec.Name)
		}
		opts := []memory.Option{memory.WithLatency(spec.Latency)}
		if spec.Seed != "" {
			seed, err := memory.LoadSeed(spec.Seed)
			if err != nil {
				return nil, err
			}
			opts = append(opts, memory.WithSeed(seed))
		}
		switch strings.ToLower(strings.TrimSpace(spec.Failure)) {
		case "unavailable":
			opts = append(opts, memory.WithFailure(federation.Unavailable(id, errors.New("injected failure"))))
		case "malformed":
			opts = append(opts, memory.WithFailure(federation.Malformed(id, errors.New("injected failure"))))
		}
		return memory.New(id, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported kind %q", spec.Kind)
	}
}

func retryPolicy(r config.Retry) federation.RetryPolicy {
	return federation.RetryPolicy{
		MaxAttempts: r.Attempts,
		Delay: federation.ExponentialBackoff{
			Initial:    r.Delay,
			Max:        r.MaxDelay,
			Multiplier: 2,
			Jitter:     true,
		},
		Retryable: federation.IsRetryable,
	}
}

// newIdentityResolver shares identities through Redis when an address is
// configured and keeps them in memory otherwise. The returned close func is
// never nil.
func newIdentityResolver(ctx context.Context, cf *config.CohortFile, cfg *config.Config, logger *zap.Logger) (*federation.IdentityResolver, func() error, error) {
	cacheCfg := cf.IdentityCache
	if cfg.Cohort.RedisAddr != "" {
		cacheCfg.Addr = cfg.Cohort.RedisAddr
	}
	if cacheCfg.Addr == "" {
		return federation.NewIdentityResolver(federation.NewMemoryIdentityCache(), logger), func() error { return nil }, nil
	}

	cache, err := identitycache.Connect(ctx, cacheCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return federation.NewIdentityResolver(cache, logger), cache.Close, nil
}

func callerID(cf *config.CohortFile, cfg *config.Config) string {
	if cfg.Cohort.CallerID != "" {
		return cfg.Cohort.CallerID
	}
	return cf.CallerID
}
