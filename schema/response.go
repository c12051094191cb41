package schema

// Metadata carries provider-side observability data extracted from response
// headers: rate-limit state, request/trace ids.
type Metadata struct {
	RequestID        string            `json:"request_id,omitempty"`
	RateLimit        map[string]string `json:"rate_limit,omitempty"`
	FinishReason     string            `json:"finish_reason,omitempty"`
	ProviderResponse string            `json:"provider_response_id,omitempty"` // continuation handle for stateful back ends
}

// Response is the canonical result of one orchestrator run (or one plain
// call). It is produced once per terminal turn and not retained by the
// engine.
type Response struct {
	// Message is the final assistant message.
	Message Message `json:"message"`

	// StructuredOutput holds the parsed JSON value when the prompt declared
	// an output schema and the content parsed cleanly. On parse failure it
	// stays nil and Message.Content keeps the raw string.
	StructuredOutput any `json:"structured_output,omitempty"`

	// RawRequest and RawResponse capture the final wire exchange for
	// debugging. Intermediate tool-loop turns are not retained.
	RawRequest  []byte `json:"-"`
	RawResponse []byte `json:"-"`

	Usage    Usage    `json:"usage"`
	Metadata Metadata `json:"metadata,omitempty"`

	// TurnCount is the number of request/response exchanges the run took.
	TurnCount int `json:"turn_count"`

	// HitTurnLimit is set when the tool loop terminated at the configured
	// turn ceiling rather than at a natural completion.
	HitTurnLimit bool `json:"hit_turn_limit,omitempty"`
}

// Text returns the final message content flattened to plain text.
func (r *Response) Text() string { return r.Message.Text() }

// ToolCalls returns the tool calls requested by the final message, if the
// run terminated at the ceiling with calls still outstanding.
func (r *Response) ToolCalls() []ToolCall { return r.Message.ToolCalls }
