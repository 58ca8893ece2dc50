package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeDocument parses a JSON or YAML experiment document into its raw
// configuration form. YAML documents are converted through a generic map
// to JSON so both formats share one strict decode path. Unknown keys are
// rejected.
func DecodeDocument(doc []byte) (*SessionConfig, error) {
	trimmed := bytes.TrimSpace(doc)
	if len(trimmed) == 0 {
		return nil, &InvalidConfigError{Issues: []Issue{{
			Kind: IssueSchema, Path: "$", Code: CodeBadDocument,
			Message: "document is empty",
		}}}
	}

	data := trimmed
	if !looksLikeJSON(trimmed) {
		var generic map[string]any
		if err := yaml.Unmarshal(trimmed, &generic); err != nil {
			return nil, &InvalidConfigError{Issues: []Issue{{
				Kind: IssueSchema, Path: "$", Code: CodeBadDocument,
				Message: fmt.Sprintf("parse yaml: %v", err),
			}}}
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("schema: convert yaml document: %w", err)
		}
		data = converted
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var cfg SessionConfig
	if err := dec.Decode(&cfg); err != nil {
		return nil, &InvalidConfigError{Issues: []Issue{decodeIssue(err)}}
	}
	return &cfg, nil
}

func looksLikeJSON(doc []byte) bool {
	return len(doc) > 0 && doc[0] == '{'
}

// decodeIssue maps a json decode error onto an Issue, keeping whatever
// field context the error carries.
func decodeIssue(err error) Issue {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		path := typeErr.Field
		if path == "" {
			path = "$"
		}
		return Issue{
			Kind: IssueSchema, Path: path, Code: CodeBadField,
			Message: fmt.Sprintf("expected %s, got %s", typeErr.Type, typeErr.Value),
		}
	}

	msg := err.Error()
	if rest, ok := strings.CutPrefix(msg, "json: unknown field "); ok {
		return Issue{
			Kind: IssueSchema, Path: strings.Trim(rest, `"`), Code: CodeUnknownField,
			Message: fmt.Sprintf("unknown field %s", rest),
		}
	}
	return Issue{Kind: IssueSchema, Path: "$", Code: CodeBadDocument, Message: msg}
}
