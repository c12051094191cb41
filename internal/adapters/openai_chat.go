package adapters

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// openAIChatAdapter speaks the Chat Completions API: the simple OpenAI
// shape. It cannot express schema-constrained output, multipart content or
// continuation handles; prompts needing those select the Responses shape.
type openAIChatAdapter struct{}

func newOpenAIChatAdapter() *openAIChatAdapter { return &openAIChatAdapter{} }

func (a *openAIChatAdapter) Name() string { return "openai-chat" }

func (a *openAIChatAdapter) Supports(p *schema.Prompt) bool {
	return !NeedsResponsesAPI(p)
}

// =============================================================================
// REQUEST CONSTRUCTION
// =============================================================================

type openAIChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAIToolDef struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAIChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openAIChatMessage `json:"messages"`
	Tools       []openAIToolDef     `json:"tools,omitempty"`
	ToolChoice  any                 `json:"tool_choice,omitempty"`
	Temperature *float64            `json:"temperature,omitempty"`
	TopP        *float64            `json:"top_p,omitempty"`
	MaxTokens   *int                `json:"max_tokens,omitempty"`
	Stop        []string            `json:"stop,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
}

func (a *openAIChatAdapter) buildBody(p *schema.Prompt, opts Options, stream bool) ([]byte, error) {
	req := openAIChatRequest{
		Model:       opts.Model,
		Temperature: p.Options.Temperature,
		TopP:        p.Options.TopP,
		MaxTokens:   p.Options.MaxTokens,
		Stop:        p.Options.StopWords,
		Stream:      stream,
	}

	if p.System != "" {
		req.Messages = append(req.Messages, openAIChatMessage{Role: "system", Content: p.System})
	}
	// Chat Completions accepts consecutive same-role messages; roles pass
	// through flat, no merging.
	for _, m := range p.Messages {
		wire := openAIChatMessage{
			Role:       string(m.Role),
			Content:    m.Text(),
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			wire.ToolCalls = append(wire.ToolCalls, openAIToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: openAIFunction{Name: tc.Name, Arguments: string(args)},
			})
		}
		req.Messages = append(req.Messages, wire)
	}

	for _, t := range p.Tools {
		req.Tools = append(req.Tools, openAIToolDef{
			Type: "function",
			Function: openAIFunctionDef{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}

	switch p.ToolChoice.Mode {
	case schema.ToolChoiceNone:
		req.ToolChoice = "none"
	case schema.ToolChoiceRequired:
		req.ToolChoice = "required"
	case schema.ToolChoiceNamed:
		req.ToolChoice = map[string]any{
			"type":     "function",
			"function": map[string]any{"name": p.ToolChoice.Name},
		}
	}

	return marshalWithExtras(req, p.Options.Extra)
}

func (a *openAIChatAdapter) buildRequest(p *schema.Prompt, opts Options, stream bool) (*transport.Request, error) {
	body, err := a.buildBody(p, opts, stream)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+opts.APIKey)
	headers.Set("Content-Type", "application/json")
	return &transport.Request{
		Provider: TagOpenAI,
		Method:   http.MethodPost,
		URL:      opts.baseURL(defaultOpenAIBaseURL) + "/chat/completions",
		Headers:  headers,
		Body:     body,
	}, nil
}

func (a *openAIChatAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, false)
}

func (a *openAIChatAdapter) BuildStreamRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, true)
}

// =============================================================================
// RESPONSE NORMALIZATION
// =============================================================================

func (a *openAIChatAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	root := gjson.ParseBytes(res.Body)
	choice := root.Get("choices.0.message")

	msg := schema.Message{
		Role:         schema.RoleAssistant,
		Content:      choice.Get("content").String(),
		GenerationID: root.Get("id").String(),
	}
	for _, tc := range choice.Get("tool_calls").Array() {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:        tc.Get("id").String(),
			Name:      tc.Get("function.name").String(),
			Arguments: schema.ParseToolArguments(tc.Get("function.arguments").Value()),
		})
	}

	model := root.Get("model").String()
	if model == "" {
		model = opts.Model
	}
	in := root.Get("usage.prompt_tokens")
	out := root.Get("usage.completion_tokens")

	md := extractMetadata(res.Headers, "x-ratelimit-")
	md.FinishReason = root.Get("choices.0.finish_reason").String()
	md.ProviderResponse = root.Get("id").String()

	return &schema.Response{
		Message:          msg,
		StructuredOutput: parseStructured(p, msg.Content),
		RawResponse:      res.Body,
		Usage: usageFrom(model,
			intPtrIfPresent(in.Int(), in.Exists()),
			intPtrIfPresent(out.Int(), out.Exists())),
		Metadata: md,
	}, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// DecodeStream consumes Chat Completions SSE chunks. Text deltas pass
// through in arrival order; tool-call fragments arrive keyed by index with
// the id and name on the first fragment, so the accumulator reassembles
// arguments per correlation id before the final message is built.
func (a *openAIChatAdapter) DecodeStream(p *schema.Prompt, opts Options, body io.Reader, handler StreamHandler) (*schema.Response, error) {
	dec := transport.NewSSEDecoder(body)
	acc := newStreamAccumulator(opts.Model)

	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		chunk := gjson.ParseBytes(ev.Data)
		if id := chunk.Get("id").String(); id != "" {
			acc.generationID = id
		}
		if model := chunk.Get("model").String(); model != "" {
			acc.model = model
		}
		if reason := chunk.Get("choices.0.finish_reason").String(); reason != "" {
			acc.finishReason = reason
		}
		if u := chunk.Get("usage"); u.Exists() && u.Get("prompt_tokens").Exists() {
			acc.setUsage(int(u.Get("prompt_tokens").Int()), int(u.Get("completion_tokens").Int()))
		}

		delta := chunk.Get("choices.0.delta")
		if text := delta.Get("content"); text.Exists() && text.String() != "" {
			acc.addText(text.String())
			handler(StreamDelta{Text: text.String()})
		}
		for _, tc := range delta.Get("tool_calls").Array() {
			frag := toolCallFragment{
				index:     int(tc.Get("index").Int()),
				id:        tc.Get("id").String(),
				name:      tc.Get("function.name").String(),
				argsDelta: tc.Get("function.arguments").String(),
			}
			acc.addToolCall(frag)
			handler(StreamDelta{
				ToolCallID: acc.callID(frag.index),
				ToolName:   acc.callName(frag.index),
				ArgsDelta:  frag.argsDelta,
			})
		}
	}

	return acc.response(p), nil
}
