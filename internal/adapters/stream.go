package adapters

import (
	"github.com/omnillm/omnillm/schema"
)

// toolCallFragment is one partial tool call from a stream. Vendors key
// fragments by index; the id and name arrive on the first fragment and the
// arguments accrete across updates.
type toolCallFragment struct {
	index     int
	id        string
	name      string
	argsDelta string
}

// streamAccumulator assembles a canonical Response out of stream deltas. It
// is intentionally tolerant of partial tool-call fragments: arguments are
// buffered as text per index and parsed once the stream closes.
type streamAccumulator struct {
	model        string
	generationID string
	finishReason string
	text         string

	ids   []string
	names []string
	args  []string

	inputTokens  *int
	outputTokens *int
}

func newStreamAccumulator(model string) *streamAccumulator {
	return &streamAccumulator{model: model}
}

func (a *streamAccumulator) addText(delta string) { a.text += delta }

func (a *streamAccumulator) addToolCall(frag toolCallFragment) {
	for len(a.ids) <= frag.index {
		a.ids = append(a.ids, "")
		a.names = append(a.names, "")
		a.args = append(a.args, "")
	}
	if frag.id != "" {
		a.ids[frag.index] = frag.id
	}
	if frag.name != "" {
		a.names[frag.index] = frag.name
	}
	a.args[frag.index] += frag.argsDelta
}

func (a *streamAccumulator) callID(index int) string {
	if index < len(a.ids) {
		return a.ids[index]
	}
	return ""
}

func (a *streamAccumulator) callName(index int) string {
	if index < len(a.names) {
		return a.names[index]
	}
	return ""
}

func (a *streamAccumulator) setUsage(input, output int) {
	a.inputTokens = schema.IntPtr(input)
	a.outputTokens = schema.IntPtr(output)
}

// response builds the final canonical Response once the stream is done.
func (a *streamAccumulator) response(p *schema.Prompt) *schema.Response {
	msg := schema.Message{
		Role:         schema.RoleAssistant,
		Content:      a.text,
		GenerationID: a.generationID,
	}
	for i := range a.ids {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:        a.ids[i],
			Name:      a.names[i],
			Arguments: schema.ParseToolArguments(a.args[i]),
		})
	}

	return &schema.Response{
		Message:          msg,
		StructuredOutput: parseStructured(p, a.text),
		Usage:            usageFrom(a.model, a.inputTokens, a.outputTokens),
		Metadata: schema.Metadata{
			FinishReason:     a.finishReason,
			ProviderResponse: a.generationID,
		},
	}
}
