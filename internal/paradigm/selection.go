package paradigm

import (
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/aurelab/hibiki/internal/model"
)

// weighted is one selectable alternative: a trial label and its target
// probability.
type weighted struct {
	label string
	prob  float64
}

// selectLabels produces the per-trial label sequence for n trials. In
// balanced_shuffle mode counts are exact; in iid mode each trial draws
// independently. When max-consecutive constraints are set, the draw is
// repeated up to the policy bound and the best attempt kept.
func selectLabels(stream *rand.Rand, choices []weighted, n int, mode model.SelectionMode,
	maxConsecutive map[string]int, policy RetryPolicy, logger *slog.Logger) ([]string, []model.Warning) {

	attempts := policy.attempts()
	if len(maxConsecutive) == 0 {
		attempts = 1
	}

	var counts []int
	if mode == model.SelectionBalancedShuffle {
		counts = balancedCounts(choices, n)
	}

	best := []string(nil)
	bestViolations := math.MaxInt
	for a := 0; a < attempts; a++ {
		var seq []string
		if mode == model.SelectionBalancedShuffle {
			seq = drawBalanced(stream, choices, counts, n)
		} else {
			seq = drawIID(stream, choices, n)
		}
		v := violations(seq, maxConsecutive)
		if v == 0 {
			return seq, nil
		}
		if v < bestViolations {
			bestViolations = v
			best = seq
		}
	}

	logger.Warn("paradigm: ordering constraints unsatisfied, keeping best attempt",
		"attempts", attempts, "violations", bestViolations)
	return best, []model.Warning{{
		Code: model.WarnConstraintUnsatisfied,
		Message: fmt.Sprintf("max_consecutive constraints unsatisfied after %d attempts; "+
			"best attempt has %d excess positions", attempts, bestViolations),
	}}
}

// balancedCounts converts probabilities into exact trial counts:
// round(p*n) per label, with the rounding remainder assigned to the
// highest-probability label so the totals sum to exactly n.
func balancedCounts(choices []weighted, n int) []int {
	counts := make([]int, len(choices))
	total := 0
	argmax := 0
	for i, c := range choices {
		counts[i] = int(math.Round(c.prob * float64(n)))
		total += counts[i]
		if c.prob > choices[argmax].prob {
			argmax = i
		}
	}
	counts[argmax] += n - total

	// Rounding every label up can overdraw at tiny trial counts;
	// rebalance from the tail.
	if counts[argmax] < 0 {
		deficit := -counts[argmax]
		counts[argmax] = 0
		for i := len(counts) - 1; i >= 0 && deficit > 0; i-- {
			if i == argmax {
				continue
			}
			take := counts[i]
			if take > deficit {
				take = deficit
			}
			counts[i] -= take
			deficit -= take
		}
	}
	return counts
}

// drawBalanced lays out the exact-count multiset and Fisher-Yates
// shuffles it.
func drawBalanced(stream *rand.Rand, choices []weighted, counts []int, n int) []string {
	seq := make([]string, 0, n)
	for i, c := range counts {
		for k := 0; k < c; k++ {
			seq = append(seq, choices[i].label)
		}
	}
	stream.Shuffle(len(seq), func(i, j int) {
		seq[i], seq[j] = seq[j], seq[i]
	})
	return seq
}

// drawIID draws each trial independently by weighted choice.
func drawIID(stream *rand.Rand, choices []weighted, n int) []string {
	total := 0.0
	for _, c := range choices {
		total += c.prob
	}
	seq := make([]string, n)
	for i := range seq {
		u := stream.Float64() * total
		cum := 0.0
		seq[i] = choices[len(choices)-1].label
		for _, c := range choices {
			cum += c.prob
			if u < cum {
				seq[i] = c.label
				break
			}
		}
	}
	return seq
}

// violations counts positions where a label run exceeds its cap.
func violations(seq []string, limits map[string]int) int {
	if len(limits) == 0 {
		return 0
	}
	v := 0
	run := 0
	for i := range seq {
		if i > 0 && seq[i] == seq[i-1] {
			run++
		} else {
			run = 1
		}
		if limit, ok := limits[seq[i]]; ok && limit > 0 && run > limit {
			v++
		}
	}
	return v
}
