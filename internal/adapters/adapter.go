// Package adapters translates the canonical model to and from provider wire
// formats.
//
// DESIGN: Each back end gets one Adapter implementing a request-build /
// response-parse pair over the canonical schema types. Adapters are stateless
// and safe for concurrent use; the registry is read-mostly after startup.
//
// FLOW:
//  1. Registry resolves the configured provider tag (case-insensitive)
//  2. BuildRequest converts a canonical Prompt into a wire request
//  3. transport.Caller sends it
//  4. ParseResponse normalizes the body back into a canonical Response,
//     including structured-output parsing and tool-call extraction
//
// Streaming is a capability: adapters that support it implement Streamer;
// the rest decline with llmerr.ErrUnsupportedOperation at lookup time, not
// via reflection.
//
// To add a provider: implement Adapter (and Streamer if it streams) and
// register it in NewRegistry.
package adapters

import (
	"io"

	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/schema"
)

// Adapter is the request-build / response-parse contract one provider
// implements.
type Adapter interface {
	// Name returns the adapter identifier (e.g. "openai", "anthropic").
	Name() string

	// Supports reports whether this adapter can express the prompt. Every
	// legal Prompt is supported by exactly one adapter under evaluation;
	// for single-shape vendors this is always true.
	Supports(p *schema.Prompt) bool

	// BuildRequest converts the prompt into a provider wire request. It
	// never mutates the prompt.
	BuildRequest(p *schema.Prompt, opts Options) (*transport.Request, error)

	// ParseResponse normalizes a 2xx provider response into canonical form.
	// Structured-output parse failures degrade to raw text, never error.
	ParseResponse(p *schema.Prompt, opts Options, res *transport.Result) (*schema.Response, error)
}

// StreamDelta is one incremental unit decoded from a provider stream. Text
// deltas concatenate, in arrival order, to the full content. Tool-call
// argument fragments are reassembled by the adapter before the final
// response is built, but surfaced here as they arrive.
type StreamDelta struct {
	Text string

	// Tool-call fragment fields, set when the delta carries part of a call.
	ToolCallID string
	ToolName   string
	ArgsDelta  string
}

// StreamHandler receives deltas as they arrive.
type StreamHandler func(StreamDelta)

// Streamer is the optional streaming capability. Adapters that do not
// implement it are declined with llmerr.ErrUnsupportedOperation before any
// network I/O.
type Streamer interface {
	Adapter

	// BuildStreamRequest is BuildRequest with the vendor's streaming flag.
	BuildStreamRequest(p *schema.Prompt, opts Options) (*transport.Request, error)

	// DecodeStream consumes the live body, invoking handler per delta, and
	// returns the assembled canonical Response. It must deliver every text
	// delta in arrival order and reassemble fragmented tool-call arguments
	// per correlation id before returning.
	DecodeStream(p *schema.Prompt, opts Options, body io.Reader, handler StreamHandler) (*schema.Response, error)
}
