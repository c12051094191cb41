package adapters

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/sjson"

	"github.com/omnillm/omnillm/schema"
)

// marshalWithExtras marshals the request body and patches caller extras on
// top. Extras win over anything the builder set, so callers can always reach
// vendor parameters the canonical model does not name. Dotted keys address
// nested fields (sjson path syntax).
func marshalWithExtras(body any, extra map[string]any) ([]byte, error) {
	out, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}
	for key, value := range extra {
		out, err = sjson.SetBytes(out, key, value)
		if err != nil {
			return nil, fmt.Errorf("applying extra option %q: %w", key, err)
		}
	}
	return out, nil
}

// parseStructured attempts to parse text as JSON when the prompt declared an
// output schema. On failure the caller keeps the raw string; this never
// errors.
func parseStructured(p *schema.Prompt, text string) any {
	if p.Output == nil || text == "" {
		return nil
	}
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &v); err != nil {
		return nil
	}
	return v
}

// extractMetadata pulls rate-limit and request-id headers into canonical
// metadata. Prefixes differ per vendor (x-ratelimit-, anthropic-ratelimit-).
func extractMetadata(headers http.Header, rateLimitPrefixes ...string) schema.Metadata {
	md := schema.Metadata{}
	for _, key := range []string{"X-Request-Id", "Request-Id", "Cf-Ray"} {
		if v := headers.Get(key); v != "" {
			md.RequestID = v
			break
		}
	}
	for name, values := range headers {
		lower := strings.ToLower(name)
		for _, prefix := range rateLimitPrefixes {
			if strings.HasPrefix(lower, prefix) && len(values) > 0 {
				if md.RateLimit == nil {
					md.RateLimit = make(map[string]string)
				}
				md.RateLimit[lower] = values[0]
			}
		}
	}
	return md
}

// mergeConsecutive collapses consecutive messages sharing a role into one,
// joining text content with a blank line. Vendors that reject back-to-back
// same-role messages (Anthropic, Gemini) need this; vendors that accept them
// must not get it, so merging is opt-in per builder.
func mergeConsecutive(messages []schema.Message) []schema.Message {
	if len(messages) < 2 {
		return messages
	}
	out := make([]schema.Message, 0, len(messages))
	for _, m := range messages {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			// Only plain-text, call-free messages merge; anything carrying
			// tool calls, results or parts keeps its own slot.
			if prev.Role == m.Role &&
				len(prev.ToolCalls) == 0 && len(m.ToolCalls) == 0 &&
				len(prev.Parts) == 0 && len(m.Parts) == 0 &&
				prev.Role != schema.RoleTool {
				prev.Content = prev.Content + "\n\n" + m.Content
				continue
			}
		}
		out = append(out, m)
	}
	return out
}

// schemaInstruction renders an output-schema requirement as a system-prompt
// instruction, for vendors without a native structured-output envelope.
func schemaInstruction(s *schema.OutputSchema) string {
	raw, err := json.Marshal(s.Schema)
	if err != nil {
		raw = []byte("{}")
	}
	return fmt.Sprintf("Respond only with a JSON object that validates against this JSON schema, with no surrounding prose or markdown fences:\n%s", raw)
}

// usageFrom builds canonical usage from optionally-present vendor counts.
// A vendor that reported nothing yields nil pointers ("not reported"), never
// zeroes.
func usageFrom(model string, input, output *int) schema.Usage {
	return schema.Usage{Model: model, InputTokens: input, OutputTokens: output}
}

// intPtrIfPresent converts a gjson-style (value, exists) pair to *int.
func intPtrIfPresent(v int64, exists bool) *int {
	if !exists {
		return nil
	}
	i := int(v)
	return &i
}
