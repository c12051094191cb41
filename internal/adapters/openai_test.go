package adapters

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/llmerr"
	"github.com/omnillm/omnillm/schema"
)

func textPrompt(t *testing.T, text string, opts ...schema.PromptOption) *schema.Prompt {
	t.Helper()
	msg, err := schema.NewMessage(schema.RoleUser, text)
	require.NoError(t, err)
	p, err := schema.NewPrompt([]schema.Message{msg}, opts...)
	require.NoError(t, err)
	return p
}

func imagePrompt(t *testing.T) *schema.Prompt {
	t.Helper()
	msg, err := schema.NewMultipartMessage(schema.RoleUser, []schema.Part{
		schema.TextPart("what is in this picture?"),
		schema.ImageURLPart("https://example.com/cat.png"),
	})
	require.NoError(t, err)
	p, err := schema.NewPrompt([]schema.Message{msg})
	require.NoError(t, err)
	return p
}

var testOpts = Options{APIKey: "sk-test", Model: "gpt-4o"}

// =============================================================================
// SHAPE SELECTION — partition property
// =============================================================================

func TestNeedsResponsesAPI_Partition(t *testing.T) {
	weatherTool := schema.Tool{Name: "get_weather", Parameters: map[string]any{"type": "object"}}

	simple := []*schema.Prompt{
		textPrompt(t, "Hello"),
		textPrompt(t, "Hello", schema.WithSystem("be brief")),
		textPrompt(t, "weather?", schema.WithTools(weatherTool)),
		textPrompt(t, "weather?", schema.WithTools(weatherTool),
			schema.WithToolChoice(schema.ToolChoice{Mode: schema.ToolChoiceRequired})),
	}
	for i, p := range simple {
		assert.False(t, NeedsResponsesAPI(p), "simple prompt %d must select the chat shape", i)
	}

	rich := []*schema.Prompt{
		textPrompt(t, "Hello", schema.WithOutputSchema(&schema.OutputSchema{Schema: map[string]any{"type": "object"}})),
		imagePrompt(t),
		textPrompt(t, "continue", schema.WithPreviousResponse("resp_123")),
	}
	for i, p := range rich {
		assert.True(t, NeedsResponsesAPI(p), "rich prompt %d must select the responses shape", i)
	}
}

func TestOpenAIAdapter_DispatchesByShape(t *testing.T) {
	a := NewOpenAIAdapter()

	req, err := a.BuildRequest(textPrompt(t, "Hello"), testOpts)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL, "/chat/completions"))

	req, err = a.BuildRequest(imagePrompt(t), testOpts)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(req.URL, "/responses"))
}

// =============================================================================
// CHAT COMPLETIONS — request construction
// =============================================================================

func TestOpenAIChat_BuildRequest(t *testing.T) {
	p := textPrompt(t, "weather in Boston?",
		schema.WithSystem("be helpful"),
		schema.WithTools(schema.Tool{
			Name:        "get_weather",
			Description: "Look up current weather",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"location": map[string]any{"type": "string"}},
			},
		}),
		schema.WithOptions(schema.GenerationOptions{
			Temperature: floatPtr(0.2),
			MaxTokens:   intPtr(256),
		}))

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", req.URL)
	assert.Equal(t, "Bearer sk-test", req.Headers.Get("Authorization"))

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "gpt-4o", body.Get("model").String())
	assert.Equal(t, "system", body.Get("messages.0.role").String())
	assert.Equal(t, "be helpful", body.Get("messages.0.content").String())
	assert.Equal(t, "user", body.Get("messages.1.role").String())
	assert.Equal(t, "get_weather", body.Get("tools.0.function.name").String())
	assert.Equal(t, 0.2, body.Get("temperature").Float())
	assert.Equal(t, int64(256), body.Get("max_tokens").Int())
	assert.False(t, body.Get("stream").Exists())
}

func TestOpenAIChat_BuildRequest_ToolHistoryAndChoice(t *testing.T) {
	user, _ := schema.NewMessage(schema.RoleUser, "weather?")
	call, _ := schema.NewAssistantToolCallMessage("", []schema.ToolCall{
		{ID: "call_001", Name: "get_weather", Arguments: map[string]any{"location": "Boston"}},
	})
	result, _ := schema.NewToolResultMessage("call_001", `{"temperature":72}`)

	p, err := schema.NewPrompt([]schema.Message{user, call, result},
		schema.WithTools(schema.Tool{Name: "get_weather"}),
		schema.WithToolChoice(schema.ToolChoice{Mode: schema.ToolChoiceNamed, Name: "get_weather"}))
	require.NoError(t, err)

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "call_001", body.Get("messages.1.tool_calls.0.id").String())
	assert.JSONEq(t, `{"location":"Boston"}`, body.Get("messages.1.tool_calls.0.function.arguments").String())
	assert.Equal(t, "tool", body.Get("messages.2.role").String())
	assert.Equal(t, "call_001", body.Get("messages.2.tool_call_id").String())
	assert.Equal(t, "get_weather", body.Get("tool_choice.function.name").String())
}

func TestOpenAIChat_ExtrasPatchBody(t *testing.T) {
	p := textPrompt(t, "hi", schema.WithOptions(schema.GenerationOptions{
		Extra: map[string]any{"seed": 42, "response_format.type": "text"},
	}))

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, int64(42), body.Get("seed").Int())
	assert.Equal(t, "text", body.Get("response_format.type").String())
}

func TestOpenAIChat_BuildDoesNotMutatePrompt(t *testing.T) {
	p := textPrompt(t, "hi", schema.WithSystem("sys"))
	before := len(p.Messages)

	_, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)
	assert.Equal(t, before, len(p.Messages))
}

// =============================================================================
// CHAT COMPLETIONS — response normalization
// =============================================================================

func TestOpenAIChat_ParseResponse_Text(t *testing.T) {
	p := textPrompt(t, "Hello")
	res := &transport.Result{
		Body: []byte(`{
			"id": "chatcmpl-1",
			"model": "gpt-4o-2024-08-06",
			"choices": [{"message": {"role": "assistant", "content": "Hi there"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3}
		}`),
		Headers: http.Header{"X-Ratelimit-Remaining-Requests": {"99"}},
	}

	resp, err := NewOpenAIAdapter().ParseResponse(p, testOpts, res)
	require.NoError(t, err)

	assert.Equal(t, schema.RoleAssistant, resp.Message.Role)
	assert.Equal(t, "Hi there", resp.Message.Content)
	// Model id reflects what the vendor actually served.
	assert.Equal(t, "gpt-4o-2024-08-06", resp.Usage.Model)
	require.NotNil(t, resp.Usage.InputTokens)
	assert.Equal(t, 9, *resp.Usage.InputTokens)
	assert.Equal(t, "stop", resp.Metadata.FinishReason)
	assert.Equal(t, "99", resp.Metadata.RateLimit["x-ratelimit-remaining-requests"])
}

func TestOpenAIChat_ParseResponse_ToolCalls(t *testing.T) {
	p := textPrompt(t, "weather?", schema.WithTools(schema.Tool{Name: "get_weather"}))
	res := &transport.Result{Body: []byte(`{
		"model": "gpt-4o",
		"choices": [{"message": {
			"role": "assistant",
			"content": null,
			"tool_calls": [{"id": "call_001", "type": "function",
				"function": {"name": "get_weather", "arguments": "{\"location\":\"Boston\"}"}}]
		}, "finish_reason": "tool_calls"}]
	}`)}

	resp, err := NewOpenAIAdapter().ParseResponse(p, testOpts, res)
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_001", tc.ID)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, map[string]any{"location": "Boston"}, tc.Arguments)
	// No usage block → not reported, never zero.
	assert.False(t, resp.Usage.Reported())
}

// =============================================================================
// CHAT COMPLETIONS — streaming
// =============================================================================

func TestOpenAIChat_DecodeStream_TextDeltas(t *testing.T) {
	stream := strings.NewReader(
		"data: {\"id\":\"chatcmpl-1\",\"model\":\"gpt-4o\",\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"content\":\"world\"}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2}}\n\n" +
			"data: [DONE]\n\n")

	var deltas []string
	resp, err := NewOpenAIAdapter().DecodeStream(textPrompt(t, "hi"), testOpts, stream, func(d StreamDelta) {
		if d.Text != "" {
			deltas = append(deltas, d.Text)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello ", "world"}, deltas)
	assert.Equal(t, "Hello world", resp.Message.Content)
	assert.Equal(t, "stop", resp.Metadata.FinishReason)
	require.NotNil(t, resp.Usage.InputTokens)
	assert.Equal(t, 5, *resp.Usage.InputTokens)
}

func TestOpenAIChat_DecodeStream_FragmentedToolArgs(t *testing.T) {
	stream := strings.NewReader(
		"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"id\":\"call_001\",\"function\":{\"name\":\"get_weather\",\"arguments\":\"\"}}]}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"{\\\"loca\"}}]}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{\"tool_calls\":[{\"index\":0,\"function\":{\"arguments\":\"tion\\\":\\\"Boston\\\"}\"}}]}}]}\n\n" +
			"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"tool_calls\"}]}\n\n" +
			"data: [DONE]\n\n")

	resp, err := NewOpenAIAdapter().DecodeStream(textPrompt(t, "weather?"), testOpts, stream, func(StreamDelta) {})
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_001", tc.ID)
	assert.Equal(t, map[string]any{"location": "Boston"}, tc.Arguments)
}

func TestOpenAI_StreamDeclinedForRichPrompts(t *testing.T) {
	a := NewOpenAIAdapter()
	_, err := a.BuildStreamRequest(imagePrompt(t), testOpts)
	assert.ErrorIs(t, err, llmerr.ErrUnsupportedOperation)

	_, err = a.DecodeStream(imagePrompt(t), testOpts, strings.NewReader(""), func(StreamDelta) {})
	assert.ErrorIs(t, err, llmerr.ErrUnsupportedOperation)
}

// =============================================================================
// RESPONSES API
// =============================================================================

func TestOpenAIResponses_BuildRequest_SchemaEnvelope(t *testing.T) {
	p := textPrompt(t, "extract the person",
		schema.WithOutputSchema(&schema.OutputSchema{
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"name": map[string]any{"type": "string"},
					"age":  map[string]any{"type": "integer"},
				},
			},
		}))

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)
	assert.Equal(t, "https://api.openai.com/v1/responses", req.URL)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "json_schema", body.Get("text.format.type").String())
	// Name defaults and strict defaults to true.
	assert.Equal(t, "output", body.Get("text.format.name").String())
	assert.True(t, body.Get("text.format.strict").Bool())
	assert.Equal(t, "object", body.Get("text.format.schema.type").String())
}

func TestOpenAIResponses_BuildRequest_MultipartAndHandle(t *testing.T) {
	msg, err := schema.NewMultipartMessage(schema.RoleUser, []schema.Part{
		schema.TextPart("what is this?"),
		schema.ImageDataPart("aGVsbG8=", "image/png"),
	})
	require.NoError(t, err)
	p, err := schema.NewPrompt([]schema.Message{msg}, schema.WithPreviousResponse("resp_42"))
	require.NoError(t, err)

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "resp_42", body.Get("previous_response_id").String())
	assert.Equal(t, "input_text", body.Get("input.0.content.0.type").String())
	assert.Equal(t, "input_image", body.Get("input.0.content.1.type").String())
	assert.Contains(t, body.Get("input.0.content.1.image_url").String(), "data:image/png;base64,")
}

func TestOpenAIResponses_BuildRequest_ToolLoopItems(t *testing.T) {
	user, _ := schema.NewMessage(schema.RoleUser, "weather?")
	call, _ := schema.NewAssistantToolCallMessage("", []schema.ToolCall{
		{ID: "call_001", Name: "get_weather", Arguments: map[string]any{"location": "Boston"}},
	})
	result, _ := schema.NewToolResultMessage("call_001", `{"temperature":72}`)
	p, err := schema.NewPrompt([]schema.Message{user, call, result},
		schema.WithOutputSchema(&schema.OutputSchema{Schema: map[string]any{"type": "object"}}))
	require.NoError(t, err)

	req, err := NewOpenAIAdapter().BuildRequest(p, testOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "function_call", body.Get("input.1.type").String())
	assert.Equal(t, "call_001", body.Get("input.1.call_id").String())
	assert.Equal(t, "function_call_output", body.Get("input.2.type").String())
	assert.Equal(t, "call_001", body.Get("input.2.call_id").String())
}

func TestOpenAIResponses_ParseResponse(t *testing.T) {
	p := textPrompt(t, "extract",
		schema.WithOutputSchema(&schema.OutputSchema{Schema: map[string]any{"type": "object"}}))
	res := &transport.Result{Body: []byte(`{
		"id": "resp_1",
		"model": "gpt-4o",
		"status": "completed",
		"output": [
			{"type": "message", "content": [{"type": "output_text", "text": "{\"name\":\"John\",\"age\":30}"}]}
		],
		"usage": {"input_tokens": 12, "output_tokens": 8}
	}`)}

	resp, err := NewOpenAIAdapter().ParseResponse(p, testOpts, res)
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "John", "age": float64(30)}, resp.StructuredOutput)
	assert.Equal(t, "resp_1", resp.Metadata.ProviderResponse)
	require.NotNil(t, resp.Usage.OutputTokens)
	assert.Equal(t, 8, *resp.Usage.OutputTokens)
}

func TestOpenAIResponses_ParseResponse_FunctionCall(t *testing.T) {
	p := imagePrompt(t)
	res := &transport.Result{Body: []byte(`{
		"id": "resp_2",
		"model": "gpt-4o",
		"output": [{"type": "function_call", "call_id": "call_9", "name": "get_weather", "arguments": "{\"location\":\"Boston\"}"}]
	}`)}

	resp, err := NewOpenAIAdapter().ParseResponse(p, testOpts, res)
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "call_9", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"location": "Boston"}, resp.Message.ToolCalls[0].Arguments)
}

// Structured-output parse failure degrades to raw text, never errors.
func TestParseStructured_DegradesToRawText(t *testing.T) {
	p := textPrompt(t, "extract",
		schema.WithOutputSchema(&schema.OutputSchema{Schema: map[string]any{"type": "object"}}))

	assert.Nil(t, parseStructured(p, "Sorry, I can't produce JSON for that."))
	assert.NotNil(t, parseStructured(p, `{"ok":true}`))
	assert.Nil(t, parseStructured(textPrompt(t, "hi"), `{"ok":true}`))
}

func floatPtr(v float64) *float64 { return &v }
func intPtr(v int) *int           { return &v }
