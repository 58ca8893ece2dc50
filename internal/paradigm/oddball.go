package paradigm

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/schema"
)

// Oddball generates single-element trials whose labels follow the token
// probabilities, either independently per trial (iid) or as an exact-count
// balanced shuffle.
type Oddball struct {
	tokens         []model.Token
	mode           model.SelectionMode
	maxConsecutive map[string]int
	policy         RetryPolicy
	stream         *rand.Rand
	timing         planTiming
	blockSize      int
	logger         *slog.Logger
}

// Name implements Adapter.
func (o *Oddball) Name() string { return schema.ParadigmOddball }

// Plan implements Adapter.
func (o *Oddball) Plan(nTrials int) (*model.TrialPlan, []model.Warning, error) {
	if nTrials <= 0 {
		return nil, nil, fmt.Errorf("paradigm: oddball: n_trials must be positive, got %d", nTrials)
	}

	choices := make([]weighted, len(o.tokens))
	byLabel := make(map[string]model.Token, len(o.tokens))
	for i, tok := range o.tokens {
		choices[i] = weighted{label: tok.Label, prob: tok.BaseProbability}
		byLabel[tok.Label] = tok
	}

	labels, warnings := selectLabels(o.stream, choices, nTrials, o.mode,
		o.maxConsecutive, o.policy, o.logger)

	trials := make([]model.Trial, nTrials)
	for i, label := range labels {
		tok := byLabel[label]
		trials[i] = model.Trial{
			TrialIndex: i,
			Label:      label,
			Elements: []model.Element{{
				StimulusRef:      tok.StimulusRef,
				ScheduledOnsetMs: 0,
				DurationMs:       tok.DurationMs,
				TTLCode:          tok.Code,
			}},
		}
	}

	o.logger.Debug("paradigm: oddball plan generated",
		"trials", nTrials, "mode", string(o.mode), "warnings", len(warnings))
	return &model.TrialPlan{
		NTrials:      nTrials,
		ITIMs:        o.timing.itiMs,
		RefractoryMs: o.timing.refractoryMs,
		BlockSize:    o.blockSize,
		Trials:       trials,
	}, warnings, nil
}
