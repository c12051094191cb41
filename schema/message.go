// Package schema defines the canonical, provider-agnostic message model.
//
// DESIGN: Every provider adapter translates to and from these types. They are
// immutable value types: constructors validate their input and fail with a
// llmerr.ValidationError before any I/O; derived values are built by copying,
// never by mutating a value already handed to the engine.
//
// FILES:
//   - message.go:  Role, Message, content parts
//   - tool.go:     Tool declarations, ToolCall requests, OutputSchema
//   - prompt.go:   Prompt (one canonical request) and its options
//   - response.go: Response, provider metadata
//   - usage.go:    token usage accounting
package schema

import (
	"fmt"

	"github.com/omnillm/omnillm/llmerr"
)

// Role identifies the author of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether r is one of the four canonical roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// PartType identifies the kind of a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
	PartFile  PartType = "file"
)

// Part is one typed element of multipart message content.
// Exactly one of Text, URL, or Data is set depending on Type.
type Part struct {
	Type      PartType `json:"type"`
	Text      string   `json:"text,omitempty"`
	URL       string   `json:"url,omitempty"`        // remote image/file
	Data      string   `json:"data,omitempty"`       // base64 payload
	MediaType string   `json:"media_type,omitempty"` // e.g. "image/png"
	Filename  string   `json:"filename,omitempty"`
}

// TextPart builds a text content part.
func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// ImageURLPart builds an image part referencing a remote URL.
func ImageURLPart(url string) Part { return Part{Type: PartImage, URL: url} }

// ImageDataPart builds an image part carrying inline base64 data.
func ImageDataPart(data, mediaType string) Part {
	return Part{Type: PartImage, Data: data, MediaType: mediaType}
}

// FilePart builds a file part carrying inline base64 data.
func FilePart(data, mediaType, filename string) Part {
	return Part{Type: PartFile, Data: data, MediaType: mediaType, Filename: filename}
}

// Message is a single conversational turn.
//
// Content holds plain text; Parts holds ordered multipart content. At most
// one of the two is populated. An assistant message with neither text nor
// parts must carry at least one ToolCall.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`

	// ToolCalls are the actions requested by an assistant message.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID correlates a tool-role message with the assistant
	// ToolCall that requested it.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// GenerationID is the provider-assigned id of the generation that
	// produced this message, when known.
	GenerationID string `json:"generation_id,omitempty"`
}

// NewMessage builds a validated Message with plain text content.
func NewMessage(role Role, content string) (Message, error) {
	if !role.Valid() {
		return Message{}, &llmerr.ValidationError{
			Field:  "role",
			Reason: fmt.Sprintf("invalid role %q (want system, user, assistant or tool)", string(role)),
		}
	}
	if role == RoleTool {
		return Message{}, &llmerr.ValidationError{
			Field:  "tool_call_id",
			Reason: "tool messages require a correlation id; use NewToolResultMessage",
		}
	}
	return Message{Role: role, Content: content}, nil
}

// NewMultipartMessage builds a validated Message with ordered typed parts.
func NewMultipartMessage(role Role, parts []Part) (Message, error) {
	if !role.Valid() {
		return Message{}, &llmerr.ValidationError{
			Field:  "role",
			Reason: fmt.Sprintf("invalid role %q", string(role)),
		}
	}
	if len(parts) == 0 {
		return Message{}, &llmerr.ValidationError{Field: "parts", Reason: "at least one part is required"}
	}
	for i, p := range parts {
		switch p.Type {
		case PartText, PartImage, PartFile:
		default:
			return Message{}, &llmerr.ValidationError{
				Field:  fmt.Sprintf("parts[%d].type", i),
				Reason: fmt.Sprintf("invalid part type %q", string(p.Type)),
			}
		}
	}
	cp := make([]Part, len(parts))
	copy(cp, parts)
	return Message{Role: role, Parts: cp}, nil
}

// NewToolResultMessage builds a tool-role Message answering the assistant
// tool call identified by callID. An empty callID is rejected: every tool
// result must be correlated with the call that requested it.
func NewToolResultMessage(callID, content string) (Message, error) {
	if callID == "" {
		return Message{}, &llmerr.ValidationError{
			Field:  "tool_call_id",
			Reason: "tool messages must carry the id of the tool call they answer",
		}
	}
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}, nil
}

// NewAssistantToolCallMessage builds an assistant Message requesting the
// given tool calls, with optional accompanying text.
func NewAssistantToolCallMessage(content string, calls []ToolCall) (Message, error) {
	if content == "" && len(calls) == 0 {
		return Message{}, &llmerr.ValidationError{
			Field:  "tool_calls",
			Reason: "assistant messages with empty content must request at least one tool call",
		}
	}
	cp := make([]ToolCall, len(calls))
	copy(cp, calls)
	return Message{Role: RoleAssistant, Content: content, ToolCalls: cp}, nil
}

// Multipart reports whether the message carries image or file parts, i.e.
// content the lowest-common-denominator chat shape cannot express.
func (m Message) Multipart() bool {
	for _, p := range m.Parts {
		if p.Type == PartImage || p.Type == PartFile {
			return true
		}
	}
	return false
}

// Text flattens the message content to plain text: Content when set,
// otherwise the concatenation of text parts in order.
func (m Message) Text() string {
	if m.Content != "" || len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// Validate checks the message invariants. It is called by Prompt.Validate
// for messages assembled literally rather than through constructors.
func (m Message) Validate() error {
	if !m.Role.Valid() {
		return &llmerr.ValidationError{Field: "role", Reason: fmt.Sprintf("invalid role %q", string(m.Role))}
	}
	if m.Role == RoleTool && m.ToolCallID == "" {
		return &llmerr.ValidationError{
			Field:  "tool_call_id",
			Reason: "tool message is missing its correlation id",
		}
	}
	if m.Role == RoleAssistant && m.Text() == "" && len(m.ToolCalls) == 0 {
		return &llmerr.ValidationError{
			Field:  "content",
			Reason: "assistant message has neither content nor tool calls",
		}
	}
	for i, p := range m.Parts {
		switch p.Type {
		case PartText, PartImage, PartFile:
		default:
			return &llmerr.ValidationError{
				Field:  fmt.Sprintf("parts[%d].type", i),
				Reason: fmt.Sprintf("invalid part type %q", string(p.Type)),
			}
		}
	}
	return nil
}
