package adapters

import (
	"io"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/llmerr"
	"github.com/omnillm/omnillm/schema"
)

// OpenAIAdapter fronts the two incompatible OpenAI shapes behind one tag:
// the lowest-common-denominator Chat Completions API and the richer
// Responses API. A pure, total selection predicate picks the rich shape iff
// the prompt needs a feature Chat Completions cannot express; plain text
// with simple tool declarations always takes the simple shape.
type OpenAIAdapter struct {
	chat      *openAIChatAdapter
	responses *openAIResponsesAdapter
}

// NewOpenAIAdapter creates the shape-selecting OpenAI adapter.
func NewOpenAIAdapter() *OpenAIAdapter {
	return &OpenAIAdapter{
		chat:      newOpenAIChatAdapter(),
		responses: newOpenAIResponsesAdapter(),
	}
}

// NeedsResponsesAPI is the selection predicate: true iff the prompt requires
// a JSON-schema output envelope, multipart (image/file) content, or a
// continuation handle from a prior turn. Total over all legal prompts.
func NeedsResponsesAPI(p *schema.Prompt) bool {
	return p.Output != nil || p.Multipart() || p.PreviousResponseID != ""
}

func (a *OpenAIAdapter) pick(p *schema.Prompt) Adapter {
	if NeedsResponsesAPI(p) {
		return a.responses
	}
	return a.chat
}

// Name returns "openai".
func (a *OpenAIAdapter) Name() string { return TagOpenAI }

// Supports reports true: between the two shapes, every legal prompt is
// expressible.
func (a *OpenAIAdapter) Supports(p *schema.Prompt) bool {
	return a.chat.Supports(p) || a.responses.Supports(p)
}

func (a *OpenAIAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	return a.pick(p).BuildRequest(p, opts)
}

func (a *OpenAIAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	return a.pick(p).ParseResponse(p, opts, res)
}

// BuildStreamRequest streams via the chat shape. Prompts that select the
// Responses shape decline streaming.
func (a *OpenAIAdapter) BuildStreamRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	if NeedsResponsesAPI(p) {
		return nil, llmerr.ErrUnsupportedOperation
	}
	return a.chat.BuildStreamRequest(p, opts)
}

func (a *OpenAIAdapter) DecodeStream(p *schema.Prompt, opts Options, body io.Reader, handler StreamHandler) (*schema.Response, error) {
	if NeedsResponsesAPI(p) {
		return nil, llmerr.ErrUnsupportedOperation
	}
	return a.chat.DecodeStream(p, opts, body, handler)
}
