// Package paradigm turns validated experiment configurations into trial
// plans: ordered trials with scheduled stimulus elements, honoring
// probability targets and ordering constraints. All randomness flows
// through named streams so plans reproduce bit-for-bit from the seed.
package paradigm

import (
	"fmt"
	"log/slog"

	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/rng"
	"github.com/aurelab/hibiki/internal/schema"
)

// Adapter is the shared contract: one call producing the full trial plan.
// Plans are deterministic given the configuration seed.
type Adapter interface {
	// Name identifies the paradigm for logs and the manifest.
	Name() string

	// Plan generates n trials. Warnings report non-fatal degradations
	// such as an ordering constraint that could not be satisfied.
	Plan(nTrials int) (*model.TrialPlan, []model.Warning, error)
}

// RetryPolicy bounds the constrained reshuffle loop. When no ordering
// satisfies the constraints within MaxAttempts, the best attempt is used
// and a warning raised instead of failing the compile.
type RetryPolicy struct {
	MaxAttempts int
}

// DefaultRetryPolicy matches the historical bound.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 1000}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultRetryPolicy.MaxAttempts
	}
	return p.MaxAttempts
}

// Options configures adapter construction.
type Options struct {
	Policy RetryPolicy
	Logger *slog.Logger
}

// New returns the adapter for a validated, normalized configuration.
func New(cfg *schema.NormalizedConfig, mgr *rng.Manager, sampler *rng.Sampler, opts Options) (Adapter, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	timing, err := resolveTiming(cfg, sampler)
	if err != nil {
		return nil, err
	}

	switch cfg.Paradigm {
	case schema.ParadigmOddball:
		if cfg.Oddball == nil || len(cfg.Oddball.Tokens) == 0 {
			return nil, fmt.Errorf("paradigm: oddball: no tokens configured")
		}
		return &Oddball{
			tokens:         cfg.Oddball.Tokens,
			mode:           cfg.Mode,
			maxConsecutive: cfg.MaxConsecutive,
			policy:         opts.Policy,
			stream:         mgr.Stream("oddball:selection"),
			timing:         timing,
			blockSize:      cfg.BlockSize,
			logger:         logger,
		}, nil

	case schema.ParadigmLocalGlobal:
		if cfg.LocalGlobal == nil || len(cfg.LocalGlobal.Patterns) == 0 {
			return nil, fmt.Errorf("paradigm: local_global: no patterns configured")
		}
		return &LocalGlobal{
			spec:           cfg.LocalGlobal,
			mode:           cfg.Mode,
			maxConsecutive: cfg.MaxConsecutive,
			policy:         opts.Policy,
			stream:         mgr.Stream("local_global:selection"),
			timing:         timing,
			blockSize:      cfg.BlockSize,
			logger:         logger,
		}, nil

	case schema.ParadigmForeperiod:
		if cfg.Foreperiod == nil {
			return nil, fmt.Errorf("paradigm: foreperiod: section missing")
		}
		return &Foreperiod{
			spec:      cfg.Foreperiod,
			sampler:   sampler,
			stream:    mgr.Stream("foreperiod:omission"),
			timing:    timing,
			blockSize: cfg.BlockSize,
			logger:    logger,
		}, nil
	}
	return nil, fmt.Errorf("paradigm: unknown paradigm %q", cfg.Paradigm)
}

// planTiming carries the session-level intervals resolved to scalars.
type planTiming struct {
	itiMs        float64
	refractoryMs float64
}

// resolveTiming samples the session-scoped timing fields once.
func resolveTiming(cfg *schema.NormalizedConfig, sampler *rng.Sampler) (planTiming, error) {
	var t planTiming
	iti, err := sampler.Sample("timing.iti_ms", cfg.ITI, rng.ScopeUnit{})
	if err != nil {
		return t, fmt.Errorf("paradigm: resolve iti_ms: %w", err)
	}
	t.itiMs = clampMs(iti)

	if !cfg.Refractory.IsZero() {
		ref, err := sampler.Sample("timing.refractory_ms", cfg.Refractory, rng.ScopeUnit{})
		if err != nil {
			return t, fmt.Errorf("paradigm: resolve refractory_ms: %w", err)
		}
		t.refractoryMs = clampMs(ref)
	}
	return t, nil
}

// clampMs floors sampled intervals at zero. Distributions with mass below
// zero (a wide normal) otherwise produce negative gaps.
func clampMs(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
