// Package schema decodes experiment configuration documents (JSON or
// YAML) into a closed set of typed paradigm variants and validates them
// exhaustively: one validate call reports every issue it can find, each
// with a field path, instead of stopping at the first.
package schema

import (
	"fmt"
	"strings"
)

// Version identifies the configuration schema understood by this build.
// Stamped into every artifact manifest.
const Version = "1"

// IssueKind separates malformed-document problems from cross-field
// configuration problems.
type IssueKind string

const (
	// IssueSchema covers missing fields, type errors, range violations,
	// and unknown enum members.
	IssueSchema IssueKind = "schema"

	// IssueConfig covers cross-field rules: probability sums, duplicate
	// labels, unresolved references.
	IssueConfig IssueKind = "config"
)

// Issue codes.
const (
	CodeRequired      = "required"
	CodeOutOfRange    = "out_of_range"
	CodeUnknownEnum   = "unknown_enum"
	CodeUnknownField  = "unknown_field"
	CodeBadDocument   = "bad_document"
	CodeBadField      = "bad_field"
	CodeProbSum       = "prob_sum"
	CodeDuplicate     = "duplicate"
	CodeUnresolvedRef = "unresolved_ref"
	CodeBadScope      = "bad_scope"
	CodeParadigm      = "paradigm_section"
)

// Issue is one validation finding with enough context to act on.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Path    string    `json:"path"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s", i.Path, i.Message)
}

// InvalidConfigError carries the full list of issues found in one
// validation pass.
type InvalidConfigError struct {
	Issues []Issue
}

func (e *InvalidConfigError) Error() string {
	switch len(e.Issues) {
	case 0:
		return "schema: configuration invalid"
	case 1:
		return fmt.Sprintf("schema: configuration invalid: %s", e.Issues[0])
	default:
		var b strings.Builder
		fmt.Fprintf(&b, "schema: configuration invalid: %d issues:", len(e.Issues))
		for _, issue := range e.Issues {
			b.WriteString("\n  ")
			b.WriteString(issue.String())
		}
		return b.String()
	}
}
