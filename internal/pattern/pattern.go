// Package pattern flattens trial plans into element tables: every scheduled
// element resolved to an absolute onset on the session timeline, trials
// separated by the refractory period and inter-trial interval.
package pattern

import (
	"fmt"
	"log/slog"

	"github.com/aurelab/hibiki/internal/model"
)

// Builder expands a TrialPlan into an ElementTable. Building is pure: the
// plan is read-only and the same plan always yields the same table.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder returns a Builder logging through the given logger.
func NewBuilder(logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{logger: logger}
}

// Build walks the trials in order, placing each at the running cursor and
// advancing the cursor by the trial's duration plus the refractory period
// and the inter-trial interval. A trial's duration is the latest element
// end within it; a trial with no elements has zero duration and contributes
// no rows. The returned table satisfies the ordering invariants checked by
// ElementTable.CheckMonotonic.
func (b *Builder) Build(plan *model.TrialPlan) (*model.ElementTable, error) {
	if plan == nil {
		return nil, fmt.Errorf("pattern: nil trial plan")
	}
	if len(plan.Trials) != plan.NTrials {
		return nil, fmt.Errorf("pattern: plan declares %d trials but carries %d",
			plan.NTrials, len(plan.Trials))
	}

	nElements := 0
	for _, trial := range plan.Trials {
		nElements += len(trial.Elements)
	}

	table := &model.ElementTable{
		Rows:   make([]model.ElementRow, 0, nElements),
		Trials: make([]model.TrialRow, 0, len(plan.Trials)),
	}

	cursor := 0.0
	for _, trial := range plan.Trials {
		duration := 0.0
		for j, el := range trial.Elements {
			if el.ScheduledOnsetMs < 0 || el.DurationMs < 0 {
				return nil, fmt.Errorf("pattern: trial %d element %d: negative onset or duration",
					trial.TrialIndex, j)
			}
			if end := el.ScheduledOnsetMs + el.DurationMs; end > duration {
				duration = end
			}
			table.Rows = append(table.Rows, model.ElementRow{
				TrialIndex:      trial.TrialIndex,
				ElementIndex:    j,
				StimulusRef:     el.StimulusRef,
				AbsoluteOnsetMs: cursor + el.ScheduledOnsetMs,
				DurationMs:      el.DurationMs,
				Label:           trial.Label,
				Role:            el.Role,
				Symbol:          el.Symbol,
				TTLCode:         el.TTLCode,
			})
		}
		table.Trials = append(table.Trials, model.TrialRow{
			TrialIndex: trial.TrialIndex,
			Label:      trial.Label,
			OnsetMs:    cursor,
			DurationMs: duration,
			NElements:  len(trial.Elements),
		})
		cursor += duration + plan.RefractoryMs + plan.ITIMs
	}
	table.TotalDurationMs = cursor

	if err := table.CheckMonotonic(); err != nil {
		return nil, fmt.Errorf("pattern: invariant violated: %w", err)
	}

	b.logger.Debug("pattern: element table built",
		"trials", len(table.Trials), "rows", len(table.Rows),
		"total_ms", table.TotalDurationMs)
	return table, nil
}
