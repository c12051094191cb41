package adapters

import (
	"time"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/llmerr"
)

// Options is the validated per-provider configuration every adapter accepts:
// credential, model id, host override, timeout and retry knobs, plus a
// free-form extras map patched verbatim into the wire request.
//
// Options are resolved once per call (defaults < process config < call
// overrides) and passed by value, never mutated.
type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int

	// Region selects the AWS region for Bedrock.
	Region string

	// Extra fields are set on the marshaled request body as-is, letting
	// callers reach vendor parameters the canonical model does not name.
	Extra map[string]any
}

// needsAPIKey lists which built-in providers require a credential. Ollama is
// a local daemon; Bedrock authenticates via SigV4 on the transport.
func needsAPIKey(tag string) bool {
	switch tag {
	case TagOllama, TagBedrock:
		return false
	}
	return true
}

// Validate checks the options for the given provider tag. Missing
// credentials and model ids fail here, before any network call.
func (o Options) Validate(tag string) error {
	if o.Model == "" {
		return &llmerr.ConfigurationError{Tag: tag, Reason: "model id is required"}
	}
	if o.APIKey == "" && needsAPIKey(tag) {
		return &llmerr.ConfigurationError{Tag: tag, Reason: "missing credential (api key)"}
	}
	if tag == TagBedrock && o.Region == "" {
		return &llmerr.ConfigurationError{Tag: tag, Reason: "region is required"}
	}
	if o.MaxRetries < 0 {
		return &llmerr.ConfigurationError{Tag: tag, Reason: "max_retries must be >= 0"}
	}
	return nil
}

// RetryPolicy derives the transport retry policy from the options.
func (o Options) RetryPolicy() transport.RetryPolicy {
	return transport.RetryPolicy{
		MaxRetries: o.MaxRetries,
		Timeout:    o.Timeout,
	}
}

// baseURL returns the host override or the provider default.
func (o Options) baseURL(def string) string {
	if o.BaseURL != "" {
		return o.BaseURL
	}
	return def
}
