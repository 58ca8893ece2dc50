package model

// Warning codes surfaced with compile results.
const (
	WarnConstraintUnsatisfied = "constraint_unsatisfied"
	WarnTimingInfeasible      = "timing_infeasible"
)

// Warning is a non-fatal finding: the compile proceeded, but the result
// deviates from a declared preference or deserves review.
type Warning struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
