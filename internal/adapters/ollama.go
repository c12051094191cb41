package adapters

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

const defaultOllamaBaseURL = "http://localhost:11434"

// OllamaAdapter speaks the local Ollama /api/chat endpoint. No credential is
// required. Structured output uses the `format` field, which accepts a JSON
// schema directly. Streaming is newline-delimited JSON, not SSE.
type OllamaAdapter struct{}

// NewOllamaAdapter creates the Ollama adapter.
func NewOllamaAdapter() *OllamaAdapter { return &OllamaAdapter{} }

// Name returns "ollama".
func (a *OllamaAdapter) Name() string { return TagOllama }

// Supports reports true for every legal prompt.
func (a *OllamaAdapter) Supports(p *schema.Prompt) bool { return true }

// =============================================================================
// REQUEST CONSTRUCTION
// =============================================================================

func (a *OllamaAdapter) buildRequest(p *schema.Prompt, opts Options, stream bool) (*transport.Request, error) {
	body := map[string]any{
		"model":  opts.Model,
		"stream": stream,
	}

	var messages []map[string]any
	if p.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": p.System})
	}
	for _, m := range p.Messages {
		wire := map[string]any{"role": string(m.Role), "content": m.Text()}
		var images []string
		for _, part := range m.Parts {
			if part.Type == schema.PartImage && part.Data != "" {
				images = append(images, part.Data)
			}
		}
		if len(images) > 0 {
			wire["images"] = images
		}
		if len(m.ToolCalls) > 0 {
			var calls []any
			for _, tc := range m.ToolCalls {
				calls = append(calls, map[string]any{
					"function": map[string]any{"name": tc.Name, "arguments": tc.Arguments},
				})
			}
			wire["tool_calls"] = calls
		}
		messages = append(messages, wire)
	}
	body["messages"] = messages

	if len(p.Tools) > 0 {
		var tools []any
		for _, t := range p.Tools {
			tools = append(tools, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Name,
					"description": t.Description,
					"parameters":  t.Parameters,
				},
			})
		}
		body["tools"] = tools
	}

	if p.Output != nil {
		body["format"] = p.Output.Schema
	}

	// Sampling parameters ride in the options block.
	ollamaOpts := map[string]any{}
	if p.Options.Temperature != nil {
		ollamaOpts["temperature"] = *p.Options.Temperature
	}
	if p.Options.TopP != nil {
		ollamaOpts["top_p"] = *p.Options.TopP
	}
	if p.Options.MaxTokens != nil {
		ollamaOpts["num_predict"] = *p.Options.MaxTokens
	}
	if len(p.Options.StopWords) > 0 {
		ollamaOpts["stop"] = p.Options.StopWords
	}
	if len(ollamaOpts) > 0 {
		body["options"] = ollamaOpts
	}

	payload, err := marshalWithExtras(body, p.Options.Extra)
	if err != nil {
		return nil, err
	}

	return &transport.Request{
		Provider: TagOllama,
		Method:   http.MethodPost,
		URL:      opts.baseURL(defaultOllamaBaseURL) + "/api/chat",
		Body:     payload,
	}, nil
}

func (a *OllamaAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, false)
}

func (a *OllamaAdapter) BuildStreamRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, true)
}

// =============================================================================
// RESPONSE NORMALIZATION
// =============================================================================

func ollamaMessage(msg gjson.Result) schema.Message {
	out := schema.Message{
		Role:    schema.RoleAssistant,
		Content: msg.Get("content").String(),
	}
	for _, tc := range msg.Get("tool_calls").Array() {
		// Ollama assigns no call ids; synthesize for correlation.
		out.ToolCalls = append(out.ToolCalls, schema.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Get("function.name").String(),
			Arguments: schema.ParseToolArguments(tc.Get("function.arguments").Value()),
		})
	}
	return out
}

func (a *OllamaAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	root := gjson.ParseBytes(res.Body)

	msg := ollamaMessage(root.Get("message"))

	model := root.Get("model").String()
	if model == "" {
		model = opts.Model
	}
	in := root.Get("prompt_eval_count")
	out := root.Get("eval_count")

	return &schema.Response{
		Message:          msg,
		StructuredOutput: parseStructured(p, msg.Content),
		RawResponse:      res.Body,
		Usage: usageFrom(model,
			intPtrIfPresent(in.Int(), in.Exists()),
			intPtrIfPresent(out.Int(), out.Exists())),
		Metadata: schema.Metadata{
			FinishReason: root.Get("done_reason").String(),
		},
	}, nil
}

// =============================================================================
// STREAMING — newline-delimited JSON chunks
// =============================================================================

func (a *OllamaAdapter) DecodeStream(p *schema.Prompt, opts Options, body io.Reader, handler StreamHandler) (*schema.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	acc := newStreamAccumulator(opts.Model)
	slot := 0

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		chunk := gjson.ParseBytes(line)
		if model := chunk.Get("model").String(); model != "" {
			acc.model = model
		}

		if text := chunk.Get("message.content").String(); text != "" {
			acc.addText(text)
			handler(StreamDelta{Text: text})
		}
		for _, tc := range chunk.Get("message.tool_calls").Array() {
			// Tool calls arrive whole in a single chunk.
			id := "call_" + uuid.NewString()
			args, err := json.Marshal(tc.Get("function.arguments").Value())
			if err != nil {
				args = []byte("{}")
			}
			frag := toolCallFragment{
				index:     slot,
				id:        id,
				name:      tc.Get("function.name").String(),
				argsDelta: string(args),
			}
			slot++
			acc.addToolCall(frag)
			handler(StreamDelta{ToolCallID: frag.id, ToolName: frag.name, ArgsDelta: frag.argsDelta})
		}

		if chunk.Get("done").Bool() {
			acc.finishReason = chunk.Get("done_reason").String()
			if acc.finishReason == "" {
				acc.finishReason = "stop"
			}
			in := chunk.Get("prompt_eval_count")
			out := chunk.Get("eval_count")
			if in.Exists() || out.Exists() {
				acc.inputTokens = intPtrIfPresent(in.Int(), in.Exists())
				acc.outputTokens = intPtrIfPresent(out.Int(), out.Exists())
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return acc.response(p), nil
}
