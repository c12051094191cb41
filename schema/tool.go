package schema

import (
	"encoding/json"
	"fmt"

	"github.com/omnillm/omnillm/llmerr"
)

// Tool declares a callable the model may request, identified by name and a
// JSON-schema parameter description. The name must match a callable
// registered with the orchestrator.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// NewTool builds a validated Tool declaration.
func NewTool(name, description string, parameters map[string]any) (Tool, error) {
	if name == "" {
		return Tool{}, &llmerr.ValidationError{Field: "name", Reason: "tool name is required"}
	}
	return Tool{Name: name, Description: description, Parameters: parameters}, nil
}

// ToolCall is one action requested by an assistant message: a correlation
// id, the tool name, and parsed arguments. Arguments are always non-nil
// after normalization; an absent argument payload normalizes to an empty map.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ParseToolArguments normalizes the three wire forms of tool-call arguments:
// a JSON object string, an already-parsed map, or absent. Absent or
// unparseable input normalizes to an empty map rather than failing, so a
// malformed argument payload degrades to "no arguments" instead of aborting
// the turn.
func ParseToolArguments(raw any) map[string]any {
	switch v := raw.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	case string:
		if v == "" {
			return map[string]any{}
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(v), &parsed); err != nil || parsed == nil {
			return map[string]any{}
		}
		return parsed
	case json.RawMessage:
		return ParseToolArguments(string(v))
	case []byte:
		return ParseToolArguments(string(v))
	default:
		return map[string]any{}
	}
}

// ToolChoiceMode constrains which tool, if any, the model must call on the
// first turn.
type ToolChoiceMode string

const (
	ToolChoiceAuto     ToolChoiceMode = "auto"     // model decides
	ToolChoiceNone     ToolChoiceMode = "none"     // tools disabled this turn
	ToolChoiceRequired ToolChoiceMode = "required" // must call something
	ToolChoiceNamed    ToolChoiceMode = "named"    // must call Name
)

// ToolChoice expresses a forced tool directive. The zero value means auto.
type ToolChoice struct {
	Mode ToolChoiceMode `json:"mode,omitempty"`
	Name string         `json:"name,omitempty"` // required when Mode is named
}

// Forced reports whether the directive forces a call ("required" or a named
// tool). Forced directives are cleared by the orchestrator after the first
// tool-bearing turn to avoid an infinite forced loop.
func (tc ToolChoice) Forced() bool {
	return tc.Mode == ToolChoiceRequired || tc.Mode == ToolChoiceNamed
}

// Validate checks the directive against the declared tools.
func (tc ToolChoice) Validate(tools []Tool) error {
	switch tc.Mode {
	case "", ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
		return nil
	case ToolChoiceNamed:
		for _, t := range tools {
			if t.Name == tc.Name {
				return nil
			}
		}
		return &llmerr.ValidationError{
			Field:  "tool_choice",
			Reason: fmt.Sprintf("forced tool %q is not declared by the prompt", tc.Name),
		}
	default:
		return &llmerr.ValidationError{
			Field:  "tool_choice",
			Reason: fmt.Sprintf("invalid mode %q", string(tc.Mode)),
		}
	}
}

// OutputSchema constrains the response to validate against a caller-supplied
// JSON schema. Name and Description default when omitted; Strict defaults to
// true unless explicitly disabled via StrictDisabled.
type OutputSchema struct {
	Name           string         `json:"name,omitempty"`
	Description    string         `json:"description,omitempty"`
	Schema         map[string]any `json:"schema"`
	StrictDisabled bool           `json:"strict_disabled,omitempty"`
}

// EffectiveName returns the schema name, defaulting to "output".
func (s *OutputSchema) EffectiveName() string {
	if s.Name == "" {
		return "output"
	}
	return s.Name
}

// Strict reports whether strict validation is requested (the default).
func (s *OutputSchema) Strict() bool { return !s.StrictDisabled }
