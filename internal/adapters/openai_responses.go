package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

// openAIResponsesAdapter speaks the Responses API: the rich OpenAI shape.
// Selected whenever a prompt carries a JSON-schema output requirement,
// multipart content, or a continuation handle from a prior turn.
type openAIResponsesAdapter struct{}

func newOpenAIResponsesAdapter() *openAIResponsesAdapter { return &openAIResponsesAdapter{} }

func (a *openAIResponsesAdapter) Name() string { return "openai-responses" }

// Supports reports true: the rich shape is a superset of the simple one.
func (a *openAIResponsesAdapter) Supports(p *schema.Prompt) bool { return true }

// =============================================================================
// REQUEST CONSTRUCTION
// =============================================================================

type responsesRequest struct {
	Model              string   `json:"model"`
	Input              []any    `json:"input"`
	Instructions       string   `json:"instructions,omitempty"`
	Tools              []any    `json:"tools,omitempty"`
	ToolChoice         any      `json:"tool_choice,omitempty"`
	Text               any      `json:"text,omitempty"`
	PreviousResponseID string   `json:"previous_response_id,omitempty"`
	Temperature        *float64 `json:"temperature,omitempty"`
	TopP               *float64 `json:"top_p,omitempty"`
	MaxOutputTokens    *int     `json:"max_output_tokens,omitempty"`
}

func responsesContentPart(p schema.Part) (map[string]any, error) {
	switch p.Type {
	case schema.PartText:
		return map[string]any{"type": "input_text", "text": p.Text}, nil
	case schema.PartImage:
		if p.URL != "" {
			return map[string]any{"type": "input_image", "image_url": p.URL}, nil
		}
		return map[string]any{
			"type":      "input_image",
			"image_url": fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data),
		}, nil
	case schema.PartFile:
		part := map[string]any{
			"type":      "input_file",
			"file_data": fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.Data),
		}
		if p.Filename != "" {
			part["filename"] = p.Filename
		}
		return part, nil
	default:
		return nil, fmt.Errorf("unsupported part type %q", p.Type)
	}
}

func (a *openAIResponsesAdapter) buildInput(p *schema.Prompt) ([]any, error) {
	var input []any
	for _, m := range p.Messages {
		switch {
		case m.Role == schema.RoleTool:
			input = append(input, map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			})
		case len(m.ToolCalls) > 0:
			// Assistant tool-call turns become function_call items; any
			// accompanying text keeps its own message item.
			if m.Text() != "" {
				input = append(input, map[string]any{"role": "assistant", "content": m.Text()})
			}
			for _, tc := range m.ToolCalls {
				args, err := json.Marshal(tc.Arguments)
				if err != nil {
					args = []byte("{}")
				}
				input = append(input, map[string]any{
					"type":      "function_call",
					"call_id":   tc.ID,
					"name":      tc.Name,
					"arguments": string(args),
				})
			}
		case len(m.Parts) > 0:
			var content []any
			for _, part := range m.Parts {
				wire, err := responsesContentPart(part)
				if err != nil {
					return nil, err
				}
				content = append(content, wire)
			}
			input = append(input, map[string]any{"role": string(m.Role), "content": content})
		default:
			input = append(input, map[string]any{"role": string(m.Role), "content": m.Content})
		}
	}
	return input, nil
}

func (a *openAIResponsesAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	input, err := a.buildInput(p)
	if err != nil {
		return nil, err
	}

	req := responsesRequest{
		Model:              opts.Model,
		Input:              input,
		Instructions:       p.System,
		PreviousResponseID: p.PreviousResponseID,
		Temperature:        p.Options.Temperature,
		TopP:               p.Options.TopP,
		MaxOutputTokens:    p.Options.MaxTokens,
	}

	for _, t := range p.Tools {
		req.Tools = append(req.Tools, map[string]any{
			"type":        "function",
			"name":        t.Name,
			"description": t.Description,
			"parameters":  t.Parameters,
		})
	}

	switch p.ToolChoice.Mode {
	case schema.ToolChoiceNone:
		req.ToolChoice = "none"
	case schema.ToolChoiceRequired:
		req.ToolChoice = "required"
	case schema.ToolChoiceNamed:
		req.ToolChoice = map[string]any{"type": "function", "name": p.ToolChoice.Name}
	}

	if p.Output != nil {
		format := map[string]any{
			"type":   "json_schema",
			"name":   p.Output.EffectiveName(),
			"schema": p.Output.Schema,
			"strict": p.Output.Strict(),
		}
		if p.Output.Description != "" {
			format["description"] = p.Output.Description
		}
		req.Text = map[string]any{"format": format}
	}

	body, err := marshalWithExtras(req, p.Options.Extra)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+opts.APIKey)
	headers.Set("Content-Type", "application/json")
	return &transport.Request{
		Provider: TagOpenAI,
		Method:   http.MethodPost,
		URL:      opts.baseURL(defaultOpenAIBaseURL) + "/responses",
		Headers:  headers,
		Body:     body,
	}, nil
}

// =============================================================================
// RESPONSE NORMALIZATION
// =============================================================================

func (a *openAIResponsesAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	root := gjson.ParseBytes(res.Body)

	msg := schema.Message{
		Role:         schema.RoleAssistant,
		GenerationID: root.Get("id").String(),
	}
	for _, item := range root.Get("output").Array() {
		switch item.Get("type").String() {
		case "message":
			for _, part := range item.Get("content").Array() {
				if part.Get("type").String() == "output_text" {
					msg.Content += part.Get("text").String()
				}
			}
		case "function_call":
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:        item.Get("call_id").String(),
				Name:      item.Get("name").String(),
				Arguments: schema.ParseToolArguments(item.Get("arguments").Value()),
			})
		}
	}

	model := root.Get("model").String()
	if model == "" {
		model = opts.Model
	}
	in := root.Get("usage.input_tokens")
	out := root.Get("usage.output_tokens")

	md := extractMetadata(res.Headers, "x-ratelimit-")
	md.FinishReason = root.Get("status").String()
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
