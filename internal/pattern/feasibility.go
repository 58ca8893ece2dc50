package pattern

import (
	"fmt"

	"github.com/aurelab/hibiki/internal/model"
)

// CheckFeasibility scans a plan for timing problems the schema cannot see,
// currently overlapping elements within a trial (an element still sounding
// when the next one starts). Overlap is reported as an advisory warning, not
// an error: the compiler mixes overlapping snippets additively, which some
// designs use on purpose. Trial windows are derived from the latest element
// end, so elements can never spill into the refractory period or the next
// trial; only intra-trial overlap is checkable here.
func CheckFeasibility(plan *model.TrialPlan) []model.Warning {
	if plan == nil {
		return nil
	}

	overlapping := 0
	firstTrial := -1
	for _, trial := range plan.Trials {
		if trialOverlaps(trial) {
			overlapping++
			if firstTrial < 0 {
				firstTrial = trial.TrialIndex
			}
		}
	}
	if overlapping == 0 {
		return nil
	}
	return []model.Warning{{
		Code: model.WarnTimingInfeasible,
		Message: fmt.Sprintf("elements overlap within %d of %d trials (first at trial %d)",
			overlapping, len(plan.Trials), firstTrial),
	}}
}

func trialOverlaps(trial model.Trial) bool {
	for i := 1; i < len(trial.Elements); i++ {
		prev := trial.Elements[i-1]
		next := trial.Elements[i]
		if prev.ScheduledOnsetMs+prev.DurationMs > next.ScheduledOnsetMs {
			return true
		}
	}
	return false
}
