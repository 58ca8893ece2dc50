package paradigm

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/rng"
	"github.com/aurelab/hibiki/internal/schema"
)

// OmissionLabel marks foreperiod trials whose outcome is withheld.
const OmissionLabel = "omission"

// Foreperiod generates cue-outcome trials: the cue at trial onset, the
// outcome after a sampled foreperiod. On omission trials the outcome is
// withheld and only the cue plays.
type Foreperiod struct {
	spec      *schema.ForeperiodSpec
	sampler   *rng.Sampler
	stream    *rand.Rand
	timing    planTiming
	blockSize int
	logger    *slog.Logger
}

// Name implements Adapter.
func (f *Foreperiod) Name() string { return schema.ParadigmForeperiod }

// Plan implements Adapter.
func (f *Foreperiod) Plan(nTrials int) (*model.TrialPlan, []model.Warning, error) {
	if nTrials <= 0 {
		return nil, nil, fmt.Errorf("paradigm: foreperiod: n_trials must be positive, got %d", nTrials)
	}

	cue := f.spec.Cue
	outcome := f.spec.Outcome
	blockSize := f.blockSize

	trials := make([]model.Trial, nTrials)
	omissions := 0
	for i := 0; i < nTrials; i++ {
		unit := rng.ScopeUnit{Trial: i, Block: blockIndex(i, blockSize)}
		fp, err := f.sampler.Sample("foreperiod.foreperiod_ms", f.spec.Foreperiod, unit)
		if err != nil {
			return nil, nil, fmt.Errorf("paradigm: foreperiod: trial %d: %w", i, err)
		}
		fp = clampMs(fp)

		elements := []model.Element{{
			StimulusRef:      cue.StimulusRef,
			ScheduledOnsetMs: 0,
			DurationMs:       cue.DurationMs,
			Role:             model.RoleCue,
			TTLCode:          cue.Code,
		}}

		label := outcome.Label
		if f.stream.Float64() < f.spec.OmissionProbability {
			label = OmissionLabel
			omissions++
		} else {
			elements = append(elements, model.Element{
				StimulusRef:      outcome.StimulusRef,
				ScheduledOnsetMs: cue.DurationMs + fp,
				DurationMs:       outcome.DurationMs,
				Role:             model.RoleOutcome,
				TTLCode:          outcome.Code,
			})
		}
		trials[i] = model.Trial{TrialIndex: i, Label: label, Elements: elements}
	}

	f.logger.Debug("paradigm: foreperiod plan generated",
		"trials", nTrials, "omissions", omissions)
	return &model.TrialPlan{
		NTrials:      nTrials,
		ITIMs:        f.timing.itiMs,
		RefractoryMs: f.timing.refractoryMs,
		BlockSize:    blockSize,
		Trials:       trials,
	}, nil, nil
}

// blockIndex mirrors TrialPlan.BlockIndex before the plan exists.
func blockIndex(trial, blockSize int) int {
	if blockSize <= 0 {
		return 0
	}
	return trial / blockSize
}
