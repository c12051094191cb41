package adapters

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

const bedrockAnthropicVersion = "bedrock-2023-05-31"

// BedrockAdapter invokes Anthropic models through AWS Bedrock. The body is
// the Messages API envelope with anthropic_version instead of model (the
// model id lives in the URL); authentication is SigV4, applied by the
// signing transport, so no credential headers are set here.
type BedrockAdapter struct{}

// NewBedrockAdapter creates the Bedrock adapter.
func NewBedrockAdapter() *BedrockAdapter { return &BedrockAdapter{} }

// Name returns "bedrock".
func (a *BedrockAdapter) Name() string { return TagBedrock }

// Supports reports true for every legal prompt.
func (a *BedrockAdapter) Supports(p *schema.Prompt) bool { return true }

func (a *BedrockAdapter) BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error) {
	body, err := buildAnthropicBody(p, opts, bedrockAnthropicVersion, false)
	if err != nil {
		return nil, err
	}

	base := opts.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", opts.Region)
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	return &transport.Request{
		Provider: TagBedrock,
		Method:   http.MethodPost,
		URL:      fmt.Sprintf("%s/model/%s/invoke", base, url.PathEscape(opts.Model)),
		Headers:  headers,
		Body:     body,
	}, nil
}

func (a *BedrockAdapter) ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error) {
	resp := parseAnthropicBody(p, opts.Model, res.Body)
	resp.Metadata.RequestID = res.Headers.Get("X-Amzn-Requestid")
	return resp, nil
}
