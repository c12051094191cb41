package adapters

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

var anthropicOpts = Options{APIKey: "sk-ant", Model: "claude-sonnet-4"}

func TestAnthropic_BuildRequest(t *testing.T) {
	p := textPrompt(t, "weather in Boston?",
		schema.WithSystem("be concise"),
		schema.WithTools(schema.Tool{
			Name:        "get_weather",
			Description: "Look up weather",
			Parameters:  map[string]any{"type": "object"},
		}))

	req, err := NewAnthropicAdapter().BuildRequest(p, anthropicOpts)
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", req.URL)
	assert.Equal(t, "sk-ant", req.Headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", req.Headers.Get("anthropic-version"))

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "claude-sonnet-4", body.Get("model").String())
	assert.Equal(t, "be concise", body.Get("system").String())
	// Messages API requires max_tokens even when the prompt sets none.
	assert.Equal(t, int64(anthropicMaxTokens), body.Get("max_tokens").Int())
	assert.Equal(t, "get_weather", body.Get("tools.0.name").String())
	assert.Equal(t, "object", body.Get("tools.0.input_schema.type").String())
}

func TestAnthropic_MergesConsecutiveSameRole(t *testing.T) {
	m1, _ := schema.NewMessage(schema.RoleUser, "first")
	m2, _ := schema.NewMessage(schema.RoleUser, "second")
	p, err := schema.NewPrompt([]schema.Message{m1, m2})
	require.NoError(t, err)

	req, err := NewAnthropicAdapter().BuildRequest(p, anthropicOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	messages := body.Get("messages").Array()
	require.Len(t, messages, 1)
	assert.Equal(t, "first\n\nsecond", messages[0].Get("content.0.text").String())
}

func TestAnthropic_ToolLoopBlocks(t *testing.T) {
	user, _ := schema.NewMessage(schema.RoleUser, "weather?")
	call, _ := schema.NewAssistantToolCallMessage("", []schema.ToolCall{
		{ID: "toolu_01", Name: "get_weather", Arguments: map[string]any{"location": "Boston"}},
	})
	result, _ := schema.NewToolResultMessage("toolu_01", `{"temperature":72}`)
	p, err := schema.NewPrompt([]schema.Message{user, call, result})
	require.NoError(t, err)

	req, err := NewAnthropicAdapter().BuildRequest(p, anthropicOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "tool_use", body.Get("messages.1.content.0.type").String())
	assert.Equal(t, "toolu_01", body.Get("messages.1.content.0.id").String())
	assert.Equal(t, "Boston", body.Get("messages.1.content.0.input.location").String())
	// Tool results ride as user-role tool_result blocks.
	assert.Equal(t, "user", body.Get("messages.2.role").String())
	assert.Equal(t, "tool_result", body.Get("messages.2.content.0.type").String())
	assert.Equal(t, "toolu_01", body.Get("messages.2.content.0.tool_use_id").String())
}

func TestAnthropic_SchemaBecomesSystemInstruction(t *testing.T) {
	p := textPrompt(t, "extract",
		schema.WithOutputSchema(&schema.OutputSchema{
			Schema: map[string]any{"type": "object"},
		}))

	req, err := NewAnthropicAdapter().BuildRequest(p, anthropicOpts)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	system := body.Get("system").String()
	assert.Contains(t, system, "JSON schema")
	assert.Contains(t, system, `"type":"object"`)
}

func TestAnthropic_ToolChoiceMapping(t *testing.T) {
	tests := []struct {
		choice schema.ToolChoice
		want   string
	}{
		{schema.ToolChoice{Mode: schema.ToolChoiceNone}, "none"},
		{schema.ToolChoice{Mode: schema.ToolChoiceRequired}, "any"},
		{schema.ToolChoice{Mode: schema.ToolChoiceNamed, Name: "get_weather"}, "tool"},
	}
	for _, tt := range tests {
		p := textPrompt(t, "hi",
			schema.WithTools(schema.Tool{Name: "get_weather"}),
			schema.WithToolChoice(tt.choice))
		req, err := NewAnthropicAdapter().BuildRequest(p, anthropicOpts)
		require.NoError(t, err)
		assert.Equal(t, tt.want, gjson.ParseBytes(req.Body).Get("tool_choice.type").String())
	}
}

func TestAnthropic_ParseResponse(t *testing.T) {
	p := textPrompt(t, "weather?")
	res := &transport.Result{Body: []byte(`{
		"id": "msg_01",
		"model": "claude-sonnet-4-20250514",
		"content": [
			{"type": "text", "text": "Checking."},
			{"type": "tool_use", "id": "toolu_01", "name": "get_weather", "input": {"location": "Boston"}}
		],
		"stop_reason": "tool_use",
		"usage": {"input_tokens": 20, "output_tokens": 11}
	}`)}

	resp, err := NewAnthropicAdapter().ParseResponse(p, anthropicOpts, res)
	require.NoError(t, err)

	assert.Equal(t, "Checking.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_01", resp.Message.ToolCalls[0].ID)
	assert.Equal(t, map[string]any{"location": "Boston"}, resp.Message.ToolCalls[0].Arguments)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Usage.Model)
	assert.Equal(t, "tool_use", resp.Metadata.FinishReason)
}

func TestAnthropic_DecodeStream(t *testing.T) {
	stream := strings.NewReader(
		"event: message_start\n" +
			"data: {\"type\":\"message_start\",\"message\":{\"id\":\"msg_01\",\"model\":\"claude-sonnet-4\",\"usage\":{\"input_tokens\":10}}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"Hello \"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"world\"}}\n\n" +
			"event: message_delta\n" +
			"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"end_turn\"},\"usage\":{\"output_tokens\":4}}\n\n" +
			"event: message_stop\n" +
			"data: {\"type\":\"message_stop\"}\n\n")

	var got []string
	resp, err := NewAnthropicAdapter().DecodeStream(textPrompt(t, "hi"), anthropicOpts, stream, func(d StreamDelta) {
		if d.Text != "" {
			got = append(got, d.Text)
		}
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"Hello ", "world"}, got)
	assert.Equal(t, "Hello world", resp.Message.Content)
	assert.Equal(t, "end_turn", resp.Metadata.FinishReason)
	require.NotNil(t, resp.Usage.OutputTokens)
	assert.Equal(t, 4, *resp.Usage.OutputTokens)
}

func TestAnthropic_DecodeStream_ToolUseFragments(t *testing.T) {
	stream := strings.NewReader(
		"event: content_block_start\n" +
			"data: {\"type\":\"content_block_start\",\"index\":1,\"content_block\":{\"type\":\"tool_use\",\"id\":\"toolu_01\",\"name\":\"get_weather\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"{\\\"location\\\":\"}}\n\n" +
			"event: content_block_delta\n" +
			"data: {\"type\":\"content_block_delta\",\"index\":1,\"delta\":{\"type\":\"input_json_delta\",\"partial_json\":\"\\\"Boston\\\"}\"}}\n\n" +
			"event: message_stop\n" +
			"data: {\"type\":\"message_stop\"}\n\n")

	resp, err := NewAnthropicAdapter().DecodeStream(textPrompt(t, "weather?"), anthropicOpts, stream, func(StreamDelta) {})
	require.NoError(t, err)

	require.Len(t, resp.Message.ToolCalls, 1)
	tc := resp.Message.ToolCalls[0]
	assert.Equal(t, "toolu_01", tc.ID)
	assert.Equal(t, "get_weather", tc.Name)
	assert.Equal(t, map[string]any{"location": "Boston"}, tc.Arguments)
}

func TestBedrock_BuildRequest(t *testing.T) {
	p := textPrompt(t, "hello")
	opts := Options{Model: "anthropic.claude-sonnet-4", Region: "eu-west-1"}

	req, err := NewBedrockAdapter().BuildRequest(p, opts)
	require.NoError(t, err)

	assert.Equal(t, "https://bedrock-runtime.eu-west-1.amazonaws.com/model/anthropic.claude-sonnet-4/invoke", req.URL)
	// SigV4 is applied by the transport; no credential headers here.
	assert.Empty(t, req.Headers.Get("x-api-key"))
	assert.Empty(t, req.Headers.Get("Authorization"))

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "bedrock-2023-05-31", body.Get("anthropic_version").String())
	assert.False(t, body.Get("model").Exists(), "model id lives in the URL, not the body")
}

func TestBedrock_ParseResponse(t *testing.T) {
	p := textPrompt(t, "hello")
	opts := Options{Model: "anthropic.claude-sonnet-4", Region: "us-east-1"}
	res := &transport.Result{Body: []byte(`{
		"content": [{"type": "text", "text": "Hi"}],
		"stop_reason": "end_turn",
		"usage": {"input_tokens": 3, "output_tokens": 1}
	}`)}

	resp, err := NewBedrockAdapter().ParseResponse(p, opts, res)
	require.NoError(t, err)
	assert.Equal(t, "Hi", resp.Message.Content)
	// No model in the body → fall back to the configured id.
	assert.Equal(t, "anthropic.claude-sonnet-4", resp.Usage.Model)
}
