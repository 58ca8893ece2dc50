package paradigm

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/schema"
)

// LocalGlobal generates multi-element trials: each trial presents one
// pattern (a symbol sequence like "AAAB") at a fixed inter-onset
// interval. The trial label is the pattern label.
type LocalGlobal struct {
	spec           *schema.LocalGlobalSpec
	mode           model.SelectionMode
	maxConsecutive map[string]int
	policy         RetryPolicy
	stream         *rand.Rand
	timing         planTiming
	blockSize      int
	logger         *slog.Logger
}

// Name implements Adapter.
func (l *LocalGlobal) Name() string { return schema.ParadigmLocalGlobal }

// Plan implements Adapter.
func (l *LocalGlobal) Plan(nTrials int) (*model.TrialPlan, []model.Warning, error) {
	if nTrials <= 0 {
		return nil, nil, fmt.Errorf("paradigm: local_global: n_trials must be positive, got %d", nTrials)
	}

	choices := make([]weighted, len(l.spec.Patterns))
	byLabel := make(map[string]model.Pattern, len(l.spec.Patterns))
	for i, pat := range l.spec.Patterns {
		choices[i] = weighted{label: pat.Label, prob: pat.Probability}
		byLabel[pat.Label] = pat
	}

	labels, warnings := selectLabels(l.stream, choices, nTrials, l.mode,
		l.maxConsecutive, l.policy, l.logger)

	trials := make([]model.Trial, nTrials)
	for i, label := range labels {
		pat := byLabel[label]
		elements := make([]model.Element, 0, len(pat.Sequence))
		pos := 0
		for _, r := range pat.Sequence {
			sym := string(r)
			tok, ok := l.spec.Symbols[sym]
			if !ok {
				return nil, nil, fmt.Errorf("paradigm: local_global: pattern %q uses unknown symbol %q",
					label, sym)
			}
			elements = append(elements, model.Element{
				StimulusRef:      tok.StimulusRef,
				ScheduledOnsetMs: float64(pos) * l.spec.IOIMs,
				DurationMs:       tok.DurationMs,
				Symbol:           sym,
				TTLCode:          tok.Code,
			})
			pos++
		}
		trials[i] = model.Trial{TrialIndex: i, Label: label, Elements: elements}
	}

	l.logger.Debug("paradigm: local_global plan generated",
		"trials", nTrials, "patterns", len(l.spec.Patterns), "warnings", len(warnings))
	return &model.TrialPlan{
		NTrials:      nTrials,
		ITIMs:        l.timing.itiMs,
		RefractoryMs: l.timing.refractoryMs,
		BlockSize:    l.blockSize,
		Trials:       trials,
	}, warnings, nil
}
