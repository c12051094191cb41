package adapters

import (
	"fmt"
	"io"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicMaxTokens      = 4096 // Messages API requires max_tokens; engine default when unset
)

// AnthropicAdapter speaks the Anthropic Messages API.
//
// Anthropic has no structured-output envelope; a schema requirement is
// rendered as a system instruction and the normalizer parses the reply.
// Consecutive same-role messages are merged, as the API rejects them.
type AnthropicAdapter struct{}

// NewAnthropicAdapter creates the Anthropic adapter.
func NewAnthropicAdapter() *AnthropicAdapter { return &AnthropicAdapter{} }

// Name returns "anthropic".
func (a *AnthropicAdapter) Name() string { return TagAnthropic }

// Supports reports true for every legal prompt.
func (a *AnthropicAdapter) Supports(p *schema.Prompt) bool { return true }

// =============================================================================
// REQUEST CONSTRUCTION — shared with Bedrock, which wraps the same body
// =============================================================================

func anthropicContentBlocks(m schema.Message) ([]any, error) {
	if len(m.Parts) == 0 {
		if m.Content == "" {
			return nil, nil
		}
		return []any{map[string]any{"type": "text", "text": m.Content}}, nil
	}
	var blocks []any
	for _, p := range m.Parts {
		switch p.Type {
		case schema.PartText:
			blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
		case schema.PartImage:
			source := map[string]any{}
			if p.URL != "" {
				source["type"] = "url"
				source["url"] = p.URL
			} else {
				source["type"] = "base64"
				source["media_type"] = p.MediaType
				source["data"] = p.Data
			}
			blocks = append(blocks, map[string]any{"type": "image", "source": source})
		case schema.PartFile:
			blocks = append(blocks, map[string]any{
				"type": "document",
				"source": map[string]any{
					"type":       "base64",
					"media_type": p.MediaType,
					"data":       p.Data,
				},
			})
		default:
			return nil, fmt.Errorf("unsupported part type %q", p.Type)
		}
	}
	return blocks, nil
}

// buildAnthropicBody builds the Messages API body. When version is non-empty
// it is emitted as anthropic_version (the Bedrock envelope); otherwise the
// model field is set (the direct API).
func buildAnthropicBody(p *schema.Prompt, opts Options, version string, stream bool) ([]byte, error) {
	body := map[string]any{}
	if version != "" {
		body["anthropic_version"] = version
	} else {
		body["model"] = opts.Model
	}

	maxTokens := anthropicMaxTokens
	if p.Options.MaxTokens != nil {
		maxTokens = *p.Options.MaxTokens
	}
	body["max_tokens"] = maxTokens

	system := p.System
	if p.Output != nil {
		// No native structured-output envelope; instruct and parse.
		if system != "" {
			system += "\n\n"
		}
		system += schemaInstruction(p.Output)
	}
	if system != "" {
		body["system"] = system
	}

	var messages []map[string]any
	for _, m := range mergeConsecutive(p.Messages) {
		switch {
		case m.Role == schema.RoleTool:
			// Tool results are user-role tool_result blocks.
			messages = append(messages, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Content,
				}},
			})
		case len(m.ToolCalls) > 0:
			blocks, err := anthropicContentBlocks(m)
			if err != nil {
				return nil, err
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, map[string]any{
					"type":  "tool_use",
					"id":    tc.ID,
					"name":  tc.Name,
					"input": tc.Arguments,
				})
			}
			messages = append(messages, map[string]any{"role": "assistant", "content": blocks})
		default:
			role := string(m.Role)
			if m.Role == schema.RoleSystem {
				// Messages API takes system text top-level only.
				role = "user"
			}
			blocks, err := anthropicContentBlocks(m)
			if err != nil {
				return nil, err
			}
			messages = append(messages, map[string]any{"role": role, "content": blocks})
		}
	}
	body["messages"] = messages

	if len(p.Tools) > 0 {
		var tools []any
		for _, t := range p.Tools {
			params := t.Parameters
			if params == nil {
				params = map[string]any{"type": "object"}
			}
			tools = append(tools, map[string]any{
				"name":         t.Name,
				"description":  t.Description,
				"input_schema": params,
			})
		}
		body["tools"] = tools
	}

	switch p.ToolChoice.Mode {
	case schema.ToolChoiceNone:
		body["tool_choice"] = map[string]any{"type": "none"}
	case schema.ToolChoiceRequired:
		body["tool_choice"] = map[string]any{"type": "any"}
	case schema.ToolChoiceNamed:
		body["tool_choice"] = map[string]any{"type": "tool", "name": p.ToolChoice.Name}
	}

	if p.Options.Temperature != nil {
		body["temperature"] = *p.Options.Temperature
	}
	if p.Options.TopP != nil {
		body["top_p"] = *p.Options.TopP
	}
	if len(p.Options.StopWords) > 0 {
		body["stop_sequences"] = p.Options.StopWords
	}
	if stream {
		body["stream"] = true
	}

	return marshalWithExtras(body, p.Options.Extra)
}

func (a *AnthropicAdapter) buildRequest(p *schema.Prompt, opts Options, stream bool) (*transport.Request, error) {
	body, err := buildAnthropicBody(p, opts, "", stream)
	if err != nil {
		return nil, err
	}
	headers := http.Header{}
	headers.Set("x-api-key", opts.APIKey)
	headers.Set("anthropic-version", anthropicVersion)
	headers.Set("Content-Type", "application/json")
	return &transport.Request{
		Provider: TagAnthropic,
		Method:   http.MethodPost,
		URL:      opts.baseURL(defaultAnthropicBaseURL) + "/v1/messages",
		Headers:  headers,
		Body:     body,
	}, nil
}

func (a *AnthropicAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, false)
}

func (a *AnthropicAdapter) BuildStreamRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.buildRequest(p, opts, true)
}

// =============================================================================
// RESPONSE NORMALIZATION — shared with Bedrock
// =============================================================================

func parseAnthropicBody(p *schema.Prompt, fallbackModel string, body []byte) *schema.Response {
	root := gjson.ParseBytes(body)

	msg := schema.Message{
		Role:         schema.RoleAssistant,
		GenerationID: root.Get("id").String(),
	}
	for _, block := range root.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			msg.Content += block.Get("text").String()
		case "tool_use":
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:        block.Get("id").String(),
				Name:      block.Get("name").String(),
				Arguments: schema.ParseToolArguments(block.Get("input").Value()),
			})
		}
	}

	model := root.Get("model").String()
	if model == "" {
		model = fallbackModel
	}
	in := root.Get("usage.input_tokens")
	out := root.Get("usage.output_tokens")

	return &schema.Response{
		Message:          msg,
		StructuredOutput: parseStructured(p, msg.Content),
		RawResponse:      body,
		Usage: usageFrom(model,
			intPtrIfPresent(in.Int(), in.Exists()),
			intPtrIfPresent(out.Int(), out.Exists())),
		Metadata: schema.Metadata{
			FinishReason:     root.Get("stop_reason").String(),
			ProviderResponse: root.Get("id").String(),
		},
	}
}

func (a *AnthropicAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	resp := parseAnthropicBody(p, opts.Model, res.Body)
	md := extractMetadata(res.Headers, "anthropic-ratelimit-")
	md.FinishReason = resp.Metadata.FinishReason
	md.ProviderResponse = resp.Metadata.ProviderResponse
	resp.Metadata = md
	return resp, nil
}

// =============================================================================
// STREAMING
// =============================================================================

// DecodeStream consumes Messages API SSE events. Text arrives as
// content_block_delta/text_delta; tool-use blocks open with the id and name
// in content_block_start and accrete arguments through input_json_delta
// fragments keyed by block index.
func (a *AnthropicAdapter) DecodeStream(p *schema.Prompt, opts Options, body io.Reader, handler StreamHandler) (*schema.Response, error) {
	dec := transport.NewSSEDecoder(body)
	acc := newStreamAccumulator(opts.Model)
	blockIndex := map[int]int{} // content block index → tool-call slot
	nextSlot := 0

	for {
		ev, err := dec.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		data := gjson.ParseBytes(ev.Data)
		switch ev.Name {
		case "message_start":
			acc.generationID = data.Get("message.id").String()
			if model := data.Get("message.model").String(); model != "" {
				acc.model = model
			}
			if u := data.Get("message.usage.input_tokens"); u.Exists() {
				acc.inputTokens = schema.IntPtr(int(u.Int()))
			}
		case "content_block_start":
			if data.Get("content_block.type").String() == "tool_use" {
				idx := int(data.Get("index").Int())
				blockIndex[idx] = nextSlot
				frag := toolCallFragment{
					index: nextSlot,
					id:    data.Get("content_block.id").String(),
					name:  data.Get("content_block.name").String(),
				}
				nextSlot++
				acc.addToolCall(frag)
				handler(StreamDelta{ToolCallID: frag.id, ToolName: frag.name})
			}
		case "content_block_delta":
			delta := data.Get("delta")
			switch delta.Get("type").String() {
			case "text_delta":
				text := delta.Get("text").String()
				acc.addText(text)
				handler(StreamDelta{Text: text})
			case "input_json_delta":
				idx := int(data.Get("index").Int())
				slot, ok := blockIndex[idx]
				if !ok {
					continue
				}
				frag := toolCallFragment{index: slot, argsDelta: delta.Get("partial_json").String()}
				acc.addToolCall(frag)
				handler(StreamDelta{
					ToolCallID: acc.callID(slot),
					ToolName:   acc.callName(slot),
					ArgsDelta:  frag.argsDelta,
				})
			}
		case "message_delta":
			if reason := data.Get("delta.stop_reason").String(); reason != "" {
				acc.finishReason = reason
			}
			if u := data.Get("usage.output_tokens"); u.Exists() {
				acc.outputTokens = schema.IntPtr(int(u.Int()))
			}
		case "message_stop":
			// Terminal event; the decoder will hit EOF next.
		}
	}

	return acc.response(p), nil
}
