package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurelab/hibiki/internal/model"
	"github.com/aurelab/hibiki/internal/schema"
)

const oddballJSON = `{
  "paradigm": "oddball",
  "n_trials": 100,
  "selection": {"seed": 42, "mode": "balanced_shuffle"},
  "timing": {"iti_ms": 750},
  "stimuli": {
    "channels": 2,
    "library": {
      "std_tone": {"generator": "tone", "duration_ms": 50, "params": {"freq_hz": 1000, "ramp_ms": 5}},
      "dev_tone": {"generator": "tone", "duration_ms": 50, "params": {"freq_hz": 1200, "ramp_ms": 5}}
    }
  },
  "oddball": {
    "tokens": [
      {"label": "standard", "stimulus_ref": "std_tone", "base_probability": 0.8},
      {"label": "deviant", "stimulus_ref": "dev_tone", "base_probability": 0.2}
    ]
  }
}`

const oddballYAML = `
paradigm: oddball
n_trials: 100
selection:
  seed: 42
  mode: balanced_shuffle
timing:
  iti_ms: 750
stimuli:
  channels: 2
  library:
    std_tone:
      generator: tone
      duration_ms: 50
      params: {freq_hz: 1000, ramp_ms: 5}
    dev_tone:
      generator: tone
      duration_ms: 50
      params: {freq_hz: 1200, ramp_ms: 5}
oddball:
  tokens:
    - {label: standard, stimulus_ref: std_tone, base_probability: 0.8}
    - {label: deviant, stimulus_ref: dev_tone, base_probability: 0.2}
`

func mustValidator(t *testing.T) *schema.Validator {
	t.Helper()
	v, err := schema.NewValidator()
	require.NoError(t, err)
	return v
}

func decodeAndValidate(t *testing.T, doc string) (*schema.NormalizedConfig, error) {
	t.Helper()
	cfg, err := schema.DecodeDocument([]byte(doc))
	if err != nil {
		return nil, err
	}
	return mustValidator(t).Validate(cfg)
}

func TestDecodeDocument_JSON(t *testing.T) {
	cfg, err := schema.DecodeDocument([]byte(oddballJSON))
	require.NoError(t, err)
	assert.Equal(t, "oddball", cfg.Paradigm)
	assert.Equal(t, 100, cfg.NTrials)
	require.NotNil(t, cfg.Oddball)
	require.Len(t, cfg.Oddball.Tokens, 2)
	assert.Equal(t, "standard", cfg.Oddball.Tokens[0].Label)
	require.True(t, cfg.Timing.ITIMs.IsScalar())
	assert.Equal(t, 750.0, cfg.Timing.ITIMs.ScalarValue())
}

func TestDecodeDocument_YAMLMatchesJSON(t *testing.T) {
	fromJSON, err := schema.DecodeDocument([]byte(oddballJSON))
	require.NoError(t, err)
	fromYAML, err := schema.DecodeDocument([]byte(oddballYAML))
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML)
}

func TestDecodeDocument_UnknownField(t *testing.T) {
	doc := `{"paradigm": "oddball", "n_trails": 100}`
	_, err := schema.DecodeDocument([]byte(doc))
	require.Error(t, err)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Issues, 1)
	assert.Equal(t, schema.CodeUnknownField, invalid.Issues[0].Code)
	assert.Contains(t, invalid.Issues[0].Message, "n_trails")
}

func TestDecodeDocument_Empty(t *testing.T) {
	_, err := schema.DecodeDocument([]byte("   \n"))
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, schema.CodeBadDocument, invalid.Issues[0].Code)
}

func TestValidate_Normalization(t *testing.T) {
	norm, err := decodeAndValidate(t, oddballJSON)
	require.NoError(t, err)

	assert.Equal(t, schema.Version, norm.SchemaVersion)
	assert.Equal(t, uint64(42), norm.Seed)
	assert.Equal(t, model.SelectionBalancedShuffle, norm.Mode)
	assert.Equal(t, 2, norm.Library.Channels)

	// Codes are auto-assigned in declaration order.
	require.NotNil(t, norm.Oddball)
	assert.Equal(t, uint16(1), norm.Oddball.Tokens[0].Code)
	assert.Equal(t, uint16(2), norm.Oddball.Tokens[1].Code)

	// Token duration falls back to the stimulus definition.
	assert.Equal(t, 50.0, norm.Oddball.Tokens[0].DurationMs)
}

func TestValidate_ExplicitCodesKept(t *testing.T) {
	doc := `{
  "paradigm": "oddball",
  "n_trials": 10,
  "timing": {"iti_ms": 500},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}},
  "oddball": {"tokens": [
    {"label": "a", "stimulus_ref": "s", "base_probability": 0.5, "code": 7},
    {"label": "b", "stimulus_ref": "s", "base_probability": 0.5}
  ]}
}`
	norm, err := decodeAndValidate(t, doc)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), norm.Oddball.Tokens[0].Code)
	assert.Equal(t, uint16(1), norm.Oddball.Tokens[1].Code)

	// Channels default to stereo when the document omits them.
	assert.Equal(t, schema.DefaultChannels, norm.Library.Channels)
}

func TestValidate_CollectsAllIssues(t *testing.T) {
	doc := `{
  "paradigm": "oddball",
  "n_trials": 0,
  "timing": {},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}},
  "oddball": {"tokens": [
    {"label": "same", "stimulus_ref": "s", "base_probability": 0.8},
    {"label": "same", "stimulus_ref": "missing", "base_probability": 0.8}
  ]}
}`
	_, err := decodeAndValidate(t, doc)
	require.Error(t, err)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)

	codes := map[string]bool{}
	for _, issue := range invalid.Issues {
		codes[issue.Code] = true
	}
	// One pass reports the range error, the missing ITI, the duplicate
	// label, the unresolved reference, and the probability sum together.
	assert.True(t, codes[schema.CodeOutOfRange], "missing n_trials range issue: %v", invalid.Issues)
	assert.True(t, codes[schema.CodeRequired], "missing iti_ms required issue: %v", invalid.Issues)
	assert.True(t, codes[schema.CodeDuplicate], "missing duplicate label issue: %v", invalid.Issues)
	assert.True(t, codes[schema.CodeUnresolvedRef], "missing unresolved ref issue: %v", invalid.Issues)
	assert.True(t, codes[schema.CodeProbSum], "missing probability sum issue: %v", invalid.Issues)
}

func TestValidate_UnknownParadigm(t *testing.T) {
	doc := `{
  "paradigm": "gonogo",
  "n_trials": 10,
  "timing": {"iti_ms": 500},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}}
}`
	_, err := decodeAndValidate(t, doc)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	found := false
	for _, issue := range invalid.Issues {
		if issue.Code == schema.CodeUnknownEnum && issue.Path == "paradigm" {
			found = true
		}
	}
	assert.True(t, found, "expected unknown_enum issue for paradigm, got %v", invalid.Issues)
}

func TestValidate_ParadigmSectionMismatch(t *testing.T) {
	doc := `{
  "paradigm": "foreperiod",
  "n_trials": 10,
  "timing": {"iti_ms": 500},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}},
  "oddball": {"tokens": [{"label": "a", "stimulus_ref": "s", "base_probability": 1.0}]}
}`
	_, err := decodeAndValidate(t, doc)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)

	var sawMismatch, sawMissing bool
	for _, issue := range invalid.Issues {
		if issue.Code == schema.CodeParadigm && issue.Path == "oddball" {
			sawMismatch = true
		}
		if issue.Code == schema.CodeRequired && issue.Path == "foreperiod" {
			sawMissing = true
		}
	}
	assert.True(t, sawMismatch, "expected mismatched section issue: %v", invalid.Issues)
	assert.True(t, sawMissing, "expected missing section issue: %v", invalid.Issues)
}

func TestValidate_ITIScopeRestriction(t *testing.T) {
	doc := `{
  "paradigm": "oddball",
  "n_trials": 10,
  "timing": {"iti_ms": {"kind": "uniform", "min": 500, "max": 900, "scope": "per_trial"}},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}},
  "oddball": {"tokens": [{"label": "a", "stimulus_ref": "s", "base_probability": 1.0}]}
}`
	_, err := decodeAndValidate(t, doc)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Issues, 1)
	assert.Equal(t, schema.CodeBadScope, invalid.Issues[0].Code)
	assert.Equal(t, "timing.iti_ms", invalid.Issues[0].Path)
}

func TestValidate_LocalGlobal(t *testing.T) {
	doc := `{
  "paradigm": "local_global",
  "n_trials": 20,
  "selection": {"seed": 1, "mode": "iid"},
  "timing": {"iti_ms": 1000},
  "stimuli": {"library": {
    "tone_a": {"generator": "tone", "duration_ms": 50},
    "tone_b": {"generator": "tone", "duration_ms": 50}
  }},
  "local_global": {
    "ioi_ms": 100,
    "symbols": {"A": {"stimulus_ref": "tone_a"}, "B": {"stimulus_ref": "tone_b"}},
    "patterns": [
      {"label": "AAAA", "sequence": "AAAA", "probability": 0.8},
      {"label": "AAAB", "sequence": "AAAB", "probability": 0.2}
    ]
  }
}`
	norm, err := decodeAndValidate(t, doc)
	require.NoError(t, err)
	require.NotNil(t, norm.LocalGlobal)
	assert.Equal(t, 100.0, norm.LocalGlobal.IOIMs)
	assert.Equal(t, uint16(1), norm.LocalGlobal.Symbols["A"].Code)
	assert.Equal(t, uint16(2), norm.LocalGlobal.Symbols["B"].Code)
}

func TestValidate_LocalGlobalUnknownSymbol(t *testing.T) {
	doc := `{
  "paradigm": "local_global",
  "n_trials": 20,
  "timing": {"iti_ms": 1000},
  "stimuli": {"library": {"tone_a": {"generator": "tone", "duration_ms": 50}}},
  "local_global": {
    "ioi_ms": 100,
    "symbols": {"A": {"stimulus_ref": "tone_a"}},
    "patterns": [{"label": "AAAX", "sequence": "AAAX", "probability": 1.0}]
  }
}`
	_, err := decodeAndValidate(t, doc)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Issues, 1)
	assert.Equal(t, schema.CodeUnresolvedRef, invalid.Issues[0].Code)
	assert.Contains(t, invalid.Issues[0].Message, `"X"`)
}

func TestValidate_Foreperiod(t *testing.T) {
	doc := `{
  "paradigm": "foreperiod",
  "n_trials": 50,
  "timing": {"iti_ms": 1500},
  "stimuli": {"library": {
    "cue_tone": {"generator": "tone", "duration_ms": 50},
    "target": {"generator": "noise", "duration_ms": 100}
  }},
  "foreperiod": {
    "cue": {"label": "cue", "stimulus_ref": "cue_tone"},
    "outcome": {"label": "target", "stimulus_ref": "target"},
    "foreperiod_ms": {"kind": "uniform", "min": 400, "max": 900, "scope": "per_trial"},
    "omission_probability": 0.1
  }
}`
	norm, err := decodeAndValidate(t, doc)
	require.NoError(t, err)
	require.NotNil(t, norm.Foreperiod)
	assert.Equal(t, "cue", norm.Foreperiod.Cue.Label)
	assert.Equal(t, 0.1, norm.Foreperiod.OmissionProbability)
	require.NotNil(t, norm.Foreperiod.Foreperiod.Dist)
	assert.Equal(t, model.DistUniform, norm.Foreperiod.Foreperiod.Dist.Kind)
}

func TestValidate_MaxConsecutiveUnknownLabel(t *testing.T) {
	doc := `{
  "paradigm": "oddball",
  "n_trials": 10,
  "selection": {"max_consecutive": {"ghost": 3}},
  "timing": {"iti_ms": 500},
  "stimuli": {"library": {"s": {"generator": "tone", "duration_ms": 50}}},
  "oddball": {"tokens": [{"label": "a", "stimulus_ref": "s", "base_probability": 1.0}]}
}`
	_, err := decodeAndValidate(t, doc)
	var invalid *schema.InvalidConfigError
	require.ErrorAs(t, err, &invalid)
	require.Len(t, invalid.Issues, 1)
	assert.Equal(t, schema.CodeUnresolvedRef, invalid.Issues[0].Code)
	assert.Contains(t, invalid.Issues[0].Path, "max_consecutive")
}
