package adapters

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

const defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiAdapter speaks the Google generateContent API.
//
// Gemini does not assign tool-call ids; the normalizer synthesizes one per
// functionCall so the orchestrator's correlation invariant holds. The
// synthesized id is carried back to the vendor only as the function name in
// functionResponse, which is what the API expects.
type GeminiAdapter struct{}

// NewGeminiAdapter creates the Gemini adapter.
func NewGeminiAdapter() *GeminiAdapter { return &GeminiAdapter{} }

// Name returns "gemini".
func (a *GeminiAdapter) Name() string { return TagGemini }

// Supports reports true for every legal prompt.
func (a *GeminiAdapter) Supports(p *schema.Prompt) bool { return true }

// =============================================================================
// REQUEST CONSTRUCTION
// =============================================================================

func geminiParts(m schema.Message, callNames map[string]string) ([]any, error) {
	var parts []any
	if m.Role == schema.RoleTool {
		name := callNames[m.ToolCallID]
		parts = append(parts, map[string]any{
			"functionResponse": map[string]any{
				"name":     name,
				"response": map[string]any{"result": m.Content},
			},
		})
		return parts, nil
	}
	if len(m.Parts) == 0 {
		if m.Content != "" {
			parts = append(parts, map[string]any{"text": m.Content})
		}
	} else {
		for _, p := range m.Parts {
			switch p.Type {
			case schema.PartText:
				parts = append(parts, map[string]any{"text": p.Text})
			case schema.PartImage, schema.PartFile:
				if p.URL != "" {
					parts = append(parts, map[string]any{
						"fileData": map[string]any{"mimeType": p.MediaType, "fileUri": p.URL},
					})
				} else {
					parts = append(parts, map[string]any{
						"inlineData": map[string]any{"mimeType": p.MediaType, "data": p.Data},
					})
				}
			default:
				return nil, fmt.Errorf("unsupported part type %q", p.Type)
			}
		}
	}
	for _, tc := range m.ToolCalls {
		parts = append(parts, map[string]any{
			"functionCall": map[string]any{"name": tc.Name, "args": tc.Arguments},
		})
	}
	return parts, nil
}

func (a *GeminiAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	body := map[string]any{}

	if p.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": p.System}},
		}
	}

	// Map correlation ids back to function names for functionResponse parts.
	callNames := map[string]string{}
	for _, m := range p.Messages {
		for _, tc := range m.ToolCalls {
			callNames[tc.ID] = tc.Name
		}
	}

	var contents []map[string]any
	for _, m := range mergeConsecutive(p.Messages) {
		parts, err := geminiParts(m, callNames)
		if err != nil {
			return nil, err
		}
		if len(parts) == 0 {
			continue
		}
		role := "user"
		if m.Role == schema.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{"role": role, "parts": parts})
	}
	body["contents"] = contents

	if len(p.Tools) > 0 {
		var decls []any
		for _, t := range p.Tools {
			decl := map[string]any{"name": t.Name, "description": t.Description}
			if t.Parameters != nil {
				decl["parameters"] = t.Parameters
			}
			decls = append(decls, decl)
		}
		body["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}

	switch p.ToolChoice.Mode {
	case schema.ToolChoiceNone:
		body["toolConfig"] = map[string]any{"functionCallingConfig": map[string]any{"mode": "NONE"}}
	case schema.ToolChoiceRequired:
		body["toolConfig"] = map[string]any{"functionCallingConfig": map[string]any{"mode": "ANY"}}
	case schema.ToolChoiceNamed:
		body["toolConfig"] = map[string]any{"functionCallingConfig": map[string]any{
			"mode":                 "ANY",
			"allowedFunctionNames": []string{p.ToolChoice.Name},
		}}
	}

	genConfig := map[string]any{}
	if p.Options.Temperature != nil {
		genConfig["temperature"] = *p.Options.Temperature
	}
	if p.Options.TopP != nil {
		genConfig["topP"] = *p.Options.TopP
	}
	if p.Options.MaxTokens != nil {
		genConfig["maxOutputTokens"] = *p.Options.MaxTokens
	}
	if len(p.Options.StopWords) > 0 {
		genConfig["stopSequences"] = p.Options.StopWords
	}
	if p.Output != nil {
		genConfig["responseMimeType"] = "application/json"
		genConfig["responseSchema"] = p.Output.Schema
	}
	if len(genConfig) > 0 {
		body["generationConfig"] = genConfig
	}

	payload, err := marshalWithExtras(body, p.Options.Extra)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("x-goog-api-key", opts.APIKey)
	headers.Set("Content-Type", "application/json")
	return &transport.Request{
		Provider: TagGemini,
		Method:   http.MethodPost,
		URL:      fmt.Sprintf("%s/models/%s:generateContent", opts.baseURL(defaultGeminiBaseURL), opts.Model),
		Headers:  headers,
		Body:     payload,
	}, nil
}

// =============================================================================
// RESPONSE NORMALIZATION
// =============================================================================

func (a *GeminiAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	root := gjson.ParseBytes(res.Body)

	msg := schema.Message{Role: schema.RoleAssistant}
	for _, part := range root.Get("candidates.0.content.parts").Array() {
		if text := part.Get("text"); text.Exists() {
			msg.Content += text.String()
		}
		if fc := part.Get("functionCall"); fc.Exists() {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				ID:        "call_" + uuid.NewString(),
				Name:      fc.Get("name").String(),
				Arguments: schema.ParseToolArguments(fc.Get("args").Value()),
			})
		}
	}

	model := root.Get("modelVersion").String()
	if model == "" {
		model = opts.Model
	}
	in := root.Get("usageMetadata.promptTokenCount")
	out := root.Get("usageMetadata.candidatesTokenCount")

	return &schema.Response{
		Message:          msg,
		StructuredOutput: parseStructured(p, msg.Content),
		RawResponse:      res.Body,
		Usage: usageFrom(model,
			intPtrIfPresent(in.Int(), in.Exists()),
			intPtrIfPresent(out.Int(), out.Exists())),
		Metadata: schema.Metadata{
			FinishReason: root.Get("candidates.0.finishReason").String(),
			RequestID:    res.Headers.Get("X-Request-Id"),
		},
	}, nil
}
