package schema

import (
	"fmt"
	"maps"
	"math"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aurelab/hibiki/internal/model"
)

// NormalizedConfig is the validated, defaulted form of a session
// configuration. Everything downstream of the validator consumes this,
// never the raw document.
type NormalizedConfig struct {
	SchemaVersion string `json:"schema_version"`
	Paradigm      string `json:"paradigm"`
	NTrials       int    `json:"n_trials"`

	Seed           uint64              `json:"seed"`
	Mode           model.SelectionMode `json:"mode"`
	BlockSize      int                 `json:"block_size,omitempty"`
	MaxConsecutive map[string]int      `json:"max_consecutive,omitempty"`

	ITI        model.NumericField `json:"iti_ms"`
	Refractory model.NumericField `json:"refractory_ms,omitempty"`

	// SampleRateHz is zero when the document did not set it; the engine
	// default applies.
	SampleRateHz int `json:"sample_rate_hz,omitempty"`

	Library *model.StimulusLibrary `json:"library"`

	Oddball     *OddballSpec     `json:"oddball,omitempty"`
	LocalGlobal *LocalGlobalSpec `json:"local_global,omitempty"`
	Foreperiod  *ForeperiodSpec  `json:"foreperiod,omitempty"`
}

// OddballSpec is the resolved oddball paradigm: tokens with assigned TTL
// codes and resolved durations.
type OddballSpec struct {
	Tokens []model.Token `json:"tokens"`
}

// LocalGlobalSpec is the resolved local-global paradigm.
type LocalGlobalSpec struct {
	IOIMs    float64                `json:"ioi_ms"`
	Symbols  map[string]model.Token `json:"symbols"`
	Patterns []model.Pattern        `json:"patterns"`
}

// ForeperiodSpec is the resolved foreperiod paradigm.
type ForeperiodSpec struct {
	Cue                 model.Token        `json:"cue"`
	Outcome             model.Token        `json:"outcome"`
	Foreperiod          model.NumericField `json:"foreperiod_ms"`
	OmissionProbability float64            `json:"omission_probability"`
}

// Validator checks decoded documents: a struct-tag pass for per-field
// constraints, then named cross-field rules. All issues from both passes
// are collected into one report.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds the shared validator instance. An error here is a
// programmer error in the rule registry and should abort startup.
func NewValidator() (*Validator, error) {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return &Validator{validate: v}, nil
}

// Validate runs both passes over a decoded document and returns the
// normalized configuration. On any finding it returns a
// *InvalidConfigError listing every issue.
func (v *Validator) Validate(cfg *SessionConfig) (*NormalizedConfig, error) {
	issues, err := v.tagIssues(cfg)
	if err != nil {
		return nil, err
	}
	issues = append(issues, crossFieldIssues(cfg)...)
	if len(issues) > 0 {
		sort.Slice(issues, func(i, j int) bool {
			if issues[i].Path != issues[j].Path {
				return issues[i].Path < issues[j].Path
			}
			return issues[i].Code < issues[j].Code
		})
		return nil, &InvalidConfigError{Issues: issues}
	}
	return normalize(cfg), nil
}

// tagIssues runs the struct-tag pass. The returned error is reserved for
// misuse of the validator itself.
func (v *Validator) tagIssues(cfg *SessionConfig) ([]Issue, error) {
	err := v.validate.Struct(cfg)
	if err == nil {
		return nil, nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return nil, fmt.Errorf("schema: validator: %w", err)
	}
	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		issues = append(issues, Issue{
			Kind:    IssueSchema,
			Path:    trimNamespace(fe.Namespace()),
			Code:    tagCode(fe.Tag()),
			Message: tagMessage(fe),
		})
	}
	return issues, nil
}

// trimNamespace drops the leading struct name from a validator namespace,
// leaving the json path ("SessionConfig.timing.iti_ms" -> "timing.iti_ms").
func trimNamespace(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func tagCode(tag string) string {
	switch tag {
	case "required", "min":
		return CodeRequired
	case "oneof":
		return CodeUnknownEnum
	case "gt", "gte", "lt", "lte", "max":
		return CodeOutOfRange
	default:
		return CodeBadField
	}
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "gt":
		return fmt.Sprintf("must be greater than %s, got %v", fe.Param(), fe.Value())
	case "gte":
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "lt":
		return fmt.Sprintf("must be less than %s, got %v", fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	case "min":
		return fmt.Sprintf("needs at least %s entries", fe.Param())
	case "max":
		return fmt.Sprintf("allows at most %s entries", fe.Param())
	default:
		return fmt.Sprintf("failed %q constraint", fe.Tag())
	}
}

// ── Cross-field rules ──

func crossFieldIssues(cfg *SessionConfig) []Issue {
	var issues []Issue

	issues = append(issues, paradigmSectionIssues(cfg)...)
	issues = append(issues, timingIssues(cfg)...)
	issues = append(issues, libraryIssues(cfg)...)

	switch cfg.Paradigm {
	case ParadigmOddball:
		if cfg.Oddball != nil {
			issues = append(issues, oddballIssues(cfg)...)
		}
	case ParadigmLocalGlobal:
		if cfg.LocalGlobal != nil {
			issues = append(issues, localGlobalIssues(cfg)...)
		}
	case ParadigmForeperiod:
		if cfg.Foreperiod != nil {
			issues = append(issues, foreperiodIssues(cfg)...)
		}
	}
	return issues
}

func paradigmSectionIssues(cfg *SessionConfig) []Issue {
	sections := []struct {
		name    string
		present bool
	}{
		{ParadigmOddball, cfg.Oddball != nil},
		{ParadigmLocalGlobal, cfg.LocalGlobal != nil},
		{ParadigmForeperiod, cfg.Foreperiod != nil},
	}

	known := false
	for _, s := range sections {
		if s.name == cfg.Paradigm {
			known = true
		}
	}
	if !known {
		// The tag pass already reported the unknown paradigm value.
		return nil
	}

	var issues []Issue
	for _, s := range sections {
		switch {
		case s.name == cfg.Paradigm && !s.present:
			issues = append(issues, Issue{
				Kind: IssueConfig, Path: s.name, Code: CodeRequired,
				Message: fmt.Sprintf("paradigm %q requires a %q section", cfg.Paradigm, s.name),
			})
		case s.name != cfg.Paradigm && s.present:
			issues = append(issues, Issue{
				Kind: IssueConfig, Path: s.name, Code: CodeParadigm,
				Message: fmt.Sprintf("section %q does not belong to paradigm %q", s.name, cfg.Paradigm),
			})
		}
	}
	return issues
}

func timingIssues(cfg *SessionConfig) []Issue {
	var issues []Issue
	issues = append(issues, numericFieldIssues("timing.iti_ms", cfg.Timing.ITIMs, true, true)...)
	issues = append(issues, numericFieldIssues("timing.refractory_ms", cfg.Timing.RefractoryMs, false, true)...)
	return issues
}

// numericFieldIssues validates one scalar-or-distribution field.
// sessionOnly restricts distribution scope to per_session for fields the
// trial plan resolves to a single value.
func numericFieldIssues(path string, f model.NumericField, required, sessionOnly bool) []Issue {
	if f.IsZero() {
		if required {
			return []Issue{{Kind: IssueSchema, Path: path, Code: CodeRequired, Message: "is required"}}
		}
		return nil
	}
	if f.IsScalar() {
		if v := f.ScalarValue(); v < 0 {
			return []Issue{{
				Kind: IssueSchema, Path: path, Code: CodeOutOfRange,
				Message: fmt.Sprintf("must be non-negative, got %g", v),
			}}
		}
		return nil
	}

	var issues []Issue
	if err := f.Dist.Validate(); err != nil {
		issues = append(issues, Issue{
			Kind: IssueSchema, Path: path, Code: CodeBadField, Message: err.Error(),
		})
	}
	if sessionOnly && f.Dist.Scope != "" && f.Dist.Scope != model.ScopePerSession {
		issues = append(issues, Issue{
			Kind: IssueConfig, Path: path, Code: CodeBadScope,
			Message: fmt.Sprintf("distribution scope %q not allowed here, use per_session", f.Dist.Scope),
		})
	}
	return issues
}

func libraryIssues(cfg *SessionConfig) []Issue {
	var issues []Issue
	channels := cfg.Stimuli.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	for name, def := range cfg.Stimuli.Library {
		for i, ch := range def.Channels {
			if ch < 0 || ch >= channels {
				issues = append(issues, Issue{
					Kind: IssueConfig,
					Path: fmt.Sprintf("stimuli.library[%s].channels[%d]", name, i),
					Code: CodeOutOfRange,
					Message: fmt.Sprintf("channel %d out of range [0, %d)", ch, channels),
				})
			}
		}
	}
	return issues
}

func oddballIssues(cfg *SessionConfig) []Issue {
	var issues []Issue
	ob := cfg.Oddball

	seen := make(map[string]bool, len(ob.Tokens))
	codes := make(map[uint16]string)
	sum := 0.0
	for i, tok := range ob.Tokens {
		path := fmt.Sprintf("oddball.tokens[%d]", i)
		if tok.Label != "" {
			if err := model.ValidateLabel(tok.Label); err != nil {
				issues = append(issues, Issue{
					Kind: IssueSchema, Path: path + ".label", Code: CodeBadField,
					Message: err.Error(),
				})
			}
			if seen[tok.Label] {
				issues = append(issues, Issue{
					Kind: IssueConfig, Path: path + ".label", Code: CodeDuplicate,
					Message: fmt.Sprintf("duplicate label %q", tok.Label),
				})
			}
			seen[tok.Label] = true
		}
		issues = append(issues, stimulusRefIssue(path+".stimulus_ref", tok.StimulusRef, cfg)...)
		issues = append(issues, codeCollision(codes, tok.Code, path+".code")...)
		sum += tok.BaseProbability
	}
	issues = append(issues, probSumIssue("oddball.tokens", sum)...)
	issues = append(issues, maxConsecutiveIssues(cfg.Selection.MaxConsecutive, seen, "oddball.tokens")...)
	return issues
}

func localGlobalIssues(cfg *SessionConfig) []Issue {
	var issues []Issue
	lg := cfg.LocalGlobal

	codes := make(map[uint16]string)
	symbolNames := make([]string, 0, len(lg.Symbols))
	for sym := range lg.Symbols {
		symbolNames = append(symbolNames, sym)
	}
	sort.Strings(symbolNames)
	for _, sym := range symbolNames {
		def := lg.Symbols[sym]
		path := fmt.Sprintf("local_global.symbols[%s]", sym)
		issues = append(issues, stimulusRefIssue(path+".stimulus_ref", def.StimulusRef, cfg)...)
		issues = append(issues, codeCollision(codes, def.Code, path+".code")...)
	}

	seen := make(map[string]bool, len(lg.Patterns))
	sum := 0.0
	for i, pat := range lg.Patterns {
		path := fmt.Sprintf("local_global.patterns[%d]", i)
		if pat.Label != "" {
			if err := model.ValidateLabel(pat.Label); err != nil {
				issues = append(issues, Issue{
					Kind: IssueSchema, Path: path + ".label", Code: CodeBadField,
					Message: err.Error(),
				})
			}
			if seen[pat.Label] {
				issues = append(issues, Issue{
					Kind: IssueConfig, Path: path + ".label", Code: CodeDuplicate,
					Message: fmt.Sprintf("duplicate label %q", pat.Label),
				})
			}
			seen[pat.Label] = true
		}
		for j, r := range pat.Sequence {
			if _, ok := lg.Symbols[string(r)]; !ok {
				issues = append(issues, Issue{
					Kind: IssueConfig, Path: fmt.Sprintf("%s.sequence[%d]", path, j),
					Code: CodeUnresolvedRef,
					Message: fmt.Sprintf("symbol %q is not in the symbol table", string(r)),
				})
			}
		}
		sum += pat.Probability
	}
	issues = append(issues, probSumIssue("local_global.patterns", sum)...)
	issues = append(issues, maxConsecutiveIssues(cfg.Selection.MaxConsecutive, seen, "local_global.patterns")...)
	return issues
}

// maxConsecutiveIssues checks run limits against the labels the selection
// actually draws from.
func maxConsecutiveIssues(limits map[string]int, known map[string]bool, what string) []Issue {
	var issues []Issue
	for label, limit := range limits {
		path := fmt.Sprintf("selection.max_consecutive[%s]", label)
		if !known[label] {
			issues = append(issues, Issue{
				Kind: IssueConfig, Path: path, Code: CodeUnresolvedRef,
				Message: fmt.Sprintf("label %q is not declared in %s", label, what),
			})
		}
		if limit < 1 {
			issues = append(issues, Issue{
				Kind: IssueSchema, Path: path, Code: CodeOutOfRange,
				Message: fmt.Sprintf("must be at least 1, got %d", limit),
			})
		}
	}
	return issues
}

func foreperiodIssues(cfg *SessionConfig) []Issue {
	var issues []Issue
	fp := cfg.Foreperiod

	issues = append(issues, stimulusRefIssue("foreperiod.cue.stimulus_ref", fp.Cue.StimulusRef, cfg)...)
	issues = append(issues, stimulusRefIssue("foreperiod.outcome.stimulus_ref", fp.Outcome.StimulusRef, cfg)...)

	if fp.Cue.Label != "" && fp.Cue.Label == fp.Outcome.Label {
		issues = append(issues, Issue{
			Kind: IssueConfig, Path: "foreperiod.outcome.label", Code: CodeDuplicate,
			Message: fmt.Sprintf("cue and outcome share the label %q", fp.Cue.Label),
		})
	}
	codes := make(map[uint16]string)
	issues = append(issues, codeCollision(codes, fp.Cue.Code, "foreperiod.cue.code")...)
	issues = append(issues, codeCollision(codes, fp.Outcome.Code, "foreperiod.outcome.code")...)

	issues = append(issues, numericFieldIssues("foreperiod.foreperiod_ms", fp.ForeperiodMs, true, false)...)
	return issues
}

func stimulusRefIssue(path, ref string, cfg *SessionConfig) []Issue {
	if ref == "" {
		// The tag pass reports the missing value.
		return nil
	}
	if _, ok := cfg.Stimuli.Library[ref]; !ok {
		return []Issue{{
			Kind: IssueConfig, Path: path, Code: CodeUnresolvedRef,
			Message: fmt.Sprintf("stimulus %q is not in the library", ref),
		}}
	}
	return nil
}

func codeCollision(codes map[uint16]string, code uint16, path string) []Issue {
	if code == 0 {
		return nil
	}
	if prev, ok := codes[code]; ok {
		return []Issue{{
			Kind: IssueConfig, Path: path, Code: CodeDuplicate,
			Message: fmt.Sprintf("TTL code %d already used by %s", code, prev),
		}}
	}
	codes[code] = path
	return nil
}

func probSumIssue(path string, sum float64) []Issue {
	if math.Abs(sum-1.0) > model.ProbabilitySumTolerance {
		return []Issue{{
			Kind: IssueConfig, Path: path, Code: CodeProbSum,
			Message: fmt.Sprintf("probabilities sum to %g, want 1.0 ±%g",
				sum, model.ProbabilitySumTolerance),
		}}
	}
	return nil
}

// ── Normalization ──

// normalize applies defaults, assigns unset TTL codes, resolves token
// durations against the library, and produces the paradigm spec. Only
// called on configurations that passed both validation passes.
func normalize(cfg *SessionConfig) *NormalizedConfig {
	channels := cfg.Stimuli.Channels
	if channels == 0 {
		channels = DefaultChannels
	}
	mode := cfg.Selection.Mode
	if mode == "" {
		mode = DefaultMode
	}
	version := cfg.SchemaVersion
	if version == "" {
		version = Version
	}

	lib := &model.StimulusLibrary{
		Channels: channels,
		Stimuli:  make(map[string]model.StimulusDef, len(cfg.Stimuli.Library)),
	}
	for name, def := range cfg.Stimuli.Library {
		lib.Stimuli[name] = model.StimulusDef{
			Name:       name,
			Generator:  def.Generator,
			Params:     def.Params,
			DurationMs: def.DurationMs,
			Channels:   def.Channels,
			GainDB:     def.GainDB,
		}
	}

	norm := &NormalizedConfig{
		SchemaVersion:  version,
		Paradigm:       cfg.Paradigm,
		NTrials:        cfg.NTrials,
		Seed:           cfg.Selection.Seed,
		Mode:           mode,
		BlockSize:      cfg.Selection.BlockSize,
		MaxConsecutive: maps.Clone(cfg.Selection.MaxConsecutive),
		ITI:            cfg.Timing.ITIMs,
		Refractory:     cfg.Timing.RefractoryMs,
		SampleRateHz:   cfg.Stimuli.SampleRateHz,
		Library:        lib,
	}

	switch cfg.Paradigm {
	case ParadigmOddball:
		tokens := make([]model.Token, len(cfg.Oddball.Tokens))
		for i, tc := range cfg.Oddball.Tokens {
			tokens[i] = model.Token{
				Label:           tc.Label,
				StimulusRef:     tc.StimulusRef,
				BaseProbability: tc.BaseProbability,
				Code:            tc.Code,
				DurationMs:      resolveDuration(tc.DurationMs, tc.StimulusRef, lib),
			}
		}
		assignCodes(tokens)
		norm.Oddball = &OddballSpec{Tokens: tokens}

	case ParadigmLocalGlobal:
		lg := cfg.LocalGlobal
		symbolNames := make([]string, 0, len(lg.Symbols))
		for sym := range lg.Symbols {
			symbolNames = append(symbolNames, sym)
		}
		sort.Strings(symbolNames)

		tokens := make([]model.Token, len(symbolNames))
		for i, sym := range symbolNames {
			sc := lg.Symbols[sym]
			tokens[i] = model.Token{
				Label:       sym,
				StimulusRef: sc.StimulusRef,
				Code:        sc.Code,
				DurationMs:  resolveDuration(sc.DurationMs, sc.StimulusRef, lib),
			}
		}
		assignCodes(tokens)

		symbols := make(map[string]model.Token, len(tokens))
		for _, tok := range tokens {
			symbols[tok.Label] = tok
		}
		patterns := make([]model.Pattern, len(lg.Patterns))
		for i, pc := range lg.Patterns {
			patterns[i] = model.Pattern{
				Label:       pc.Label,
				Sequence:    pc.Sequence,
				Probability: pc.Probability,
			}
		}
		norm.LocalGlobal = &LocalGlobalSpec{
			IOIMs:    lg.IOIMs,
			Symbols:  symbols,
			Patterns: patterns,
		}

	case ParadigmForeperiod:
		fp := cfg.Foreperiod
		tokens := []model.Token{
			{
				Label:       fp.Cue.Label,
				StimulusRef: fp.Cue.StimulusRef,
				Code:        fp.Cue.Code,
				DurationMs:  resolveDuration(fp.Cue.DurationMs, fp.Cue.StimulusRef, lib),
			},
			{
				Label:       fp.Outcome.Label,
				StimulusRef: fp.Outcome.StimulusRef,
				Code:        fp.Outcome.Code,
				DurationMs:  resolveDuration(fp.Outcome.DurationMs, fp.Outcome.StimulusRef, lib),
			},
		}
		assignCodes(tokens)
		norm.Foreperiod = &ForeperiodSpec{
			Cue:                 tokens[0],
			Outcome:             tokens[1],
			Foreperiod:          fp.ForeperiodMs,
			OmissionProbability: fp.OmissionProbability,
		}
	}
	return norm
}

// resolveDuration prefers the token's own duration, falling back to the
// stimulus definition.
func resolveDuration(tokenMs float64, ref string, lib *model.StimulusLibrary) float64 {
	if tokenMs > 0 {
		return tokenMs
	}
	if def, ok := lib.Stimuli[ref]; ok {
		return def.DurationMs
	}
	return 0
}

// assignCodes fills unset TTL codes with the lowest free codes in
// declaration order. Explicit codes are kept.
func assignCodes(tokens []model.Token) {
	used := make(map[uint16]bool, len(tokens))
	for _, tok := range tokens {
		if tok.Code != 0 {
			used[tok.Code] = true
		}
	}
	next := uint16(1)
	for i := range tokens {
		if tokens[i].Code != 0 {
			continue
		}
		for used[next] {
			next++
		}
		tokens[i].Code = next
		used[next] = true
	}
}
