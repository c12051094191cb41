package schema

import (
	"fmt"
	"maps"

	"github.com/omnillm/omnillm/llmerr"
)

// GenerationOptions carries sampling parameters and provider extras. Each
// adapter passes through only the parameters its vendor defines and silently
// drops the rest.
type GenerationOptions struct {
	Temperature *float64       `json:"temperature,omitempty"`
	TopP        *float64       `json:"top_p,omitempty"`
	MaxTokens   *int           `json:"max_tokens,omitempty"`
	StopWords   []string       `json:"stop,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"` // raw vendor fields, patched into the wire request
}

// Prompt is one canonical request: ordered messages, optional system
// instructions, tool declarations, generation options, and an optional
// continuation handle referencing a prior provider-side turn.
//
// A Prompt is built per call and treated as immutable once handed to the
// engine. The orchestrator derives new Prompts (history plus tool messages)
// per turn via Derive; it never mutates the original.
type Prompt struct {
	Messages []Message         `json:"messages"`
	System   string            `json:"system,omitempty"`
	Tools    []Tool            `json:"tools,omitempty"`
	Output   *OutputSchema     `json:"output,omitempty"`
	Options  GenerationOptions `json:"options,omitempty"`

	// ToolChoice forces a tool call on the first turn. Cleared by the
	// orchestrator after the first tool-bearing turn.
	ToolChoice ToolChoice `json:"tool_choice,omitempty"`

	// PreviousResponseID is a continuation handle for back ends that hold
	// conversation state server-side; when set, history before the handle
	// is not resent.
	PreviousResponseID string `json:"previous_response_id,omitempty"`
}

// NewPrompt builds a validated Prompt from ordered messages.
func NewPrompt(messages []Message, opts ...PromptOption) (*Prompt, error) {
	p := &Prompt{Messages: append([]Message(nil), messages...)}
	for _, opt := range opts {
		opt(p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// PromptOption customizes a Prompt under construction.
type PromptOption func(*Prompt)

// WithSystem sets the system instructions.
func WithSystem(system string) PromptOption {
	return func(p *Prompt) { p.System = system }
}

// WithTools declares the callable tools available to the model.
func WithTools(tools ...Tool) PromptOption {
	return func(p *Prompt) { p.Tools = append([]Tool(nil), tools...) }
}

// WithOutputSchema requires the response to match a JSON schema.
func WithOutputSchema(s *OutputSchema) PromptOption {
	return func(p *Prompt) { p.Output = s }
}

// WithOptions sets sampling parameters and provider extras.
func WithOptions(o GenerationOptions) PromptOption {
	return func(p *Prompt) { p.Options = o }
}

// WithToolChoice forces a tool directive for the first turn.
func WithToolChoice(tc ToolChoice) PromptOption {
	return func(p *Prompt) { p.ToolChoice = tc }
}

// WithPreviousResponse attaches a continuation handle from a prior turn.
func WithPreviousResponse(id string) PromptOption {
	return func(p *Prompt) { p.PreviousResponseID = id }
}

// Validate checks all Prompt invariants: at least one message, every message
// valid, tool names unique, every tool-role message correlated with a prior
// assistant tool call, and the tool-choice directive consistent with the
// declared tools.
func (p *Prompt) Validate() error {
	if len(p.Messages) == 0 {
		return &llmerr.ValidationError{Field: "messages", Reason: "prompt has no messages"}
	}

	seen := make(map[string]struct{}, len(p.Tools))
	for _, t := range p.Tools {
		if t.Name == "" {
			return &llmerr.ValidationError{Field: "tools", Reason: "tool with empty name"}
		}
		if _, dup := seen[t.Name]; dup {
			return &llmerr.ValidationError{
				Field:  "tools",
				Reason: fmt.Sprintf("duplicate tool name %q", t.Name),
			}
		}
		seen[t.Name] = struct{}{}
	}

	pendingCalls := make(map[string]struct{})
	for i, m := range p.Messages {
		if err := m.Validate(); err != nil {
			return &llmerr.ValidationError{
				Field:  fmt.Sprintf("messages[%d]", i),
				Reason: err.Error(),
			}
		}
		for _, tc := range m.ToolCalls {
			pendingCalls[tc.ID] = struct{}{}
		}
		if m.Role == RoleTool {
			if _, ok := pendingCalls[m.ToolCallID]; !ok {
				return &llmerr.ValidationError{
					Field:  fmt.Sprintf("messages[%d].tool_call_id", i),
					Reason: fmt.Sprintf("tool result %q does not answer any prior assistant tool call", m.ToolCallID),
				}
			}
		}
	}

	return p.ToolChoice.Validate(p.Tools)
}

// Multipart reports whether any message carries image or file parts.
func (p *Prompt) Multipart() bool {
	for _, m := range p.Messages {
		if m.Multipart() {
			return true
		}
	}
	return false
}

// PendingToolCalls returns the tool-call ids requested by the final
// assistant message that have no matching tool-result message yet. A prompt
// with no pending calls triggers exactly one adapter call, never a loop.
func (p *Prompt) PendingToolCalls() []ToolCall {
	answered := make(map[string]struct{})
	var last []ToolCall
	for _, m := range p.Messages {
		if m.Role == RoleTool {
			answered[m.ToolCallID] = struct{}{}
		}
		if m.Role == RoleAssistant && len(m.ToolCalls) > 0 {
			last = m.ToolCalls
		}
	}
	var pending []ToolCall
	for _, tc := range last {
		if _, ok := answered[tc.ID]; !ok {
			pending = append(pending, tc)
		}
	}
	return pending
}

// Derive returns a copy of the prompt with extra messages appended and any
// forced tool directive cleared when clearForced is set. The receiver is not
// modified.
func (p *Prompt) Derive(extra []Message, clearForced bool) *Prompt {
	next := *p
	next.Messages = make([]Message, 0, len(p.Messages)+len(extra))
	next.Messages = append(next.Messages, p.Messages...)
	next.Messages = append(next.Messages, extra...)
	next.Tools = append([]Tool(nil), p.Tools...)
	if p.Options.Extra != nil {
		next.Options.Extra = maps.Clone(p.Options.Extra)
	}
	if clearForced && p.ToolChoice.Forced() {
		next.ToolChoice = ToolChoice{}
	}
	return &next
}
