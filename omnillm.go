// Package omnillm is a provider-agnostic LLM engine: one canonical
// prompt/response model, per-provider adapters, a bounded tool-calling
// orchestrator and a streaming surface.
//
// DESIGN: The Client is the single entry point. It owns the adapter
// registry, the shared HTTP transport, the tool registry and the usage
// tracker; everything else is stateless per call.
//
// FLOW:
//  1. Call resolves the provider tag to an adapter (case-insensitive)
//  2. Provider options resolve: config defaults, then per-call overrides
//  3. The orchestrator submits turns until the model stops requesting tools
//     or the turn ceiling is hit
//  4. Usage and metrics are recorded per adapter exchange
//
// Streaming is a capability: providers that cannot stream a given prompt
// decline with ErrUnsupportedOperation before any network I/O.
package omnillm

import (
	"github.com/omnillm/omnillm/llmerr"
	"github.com/omnillm/omnillm/schema"
)

// Re-exported sentinel and taxonomy helpers so callers rarely need to import
// llmerr directly.
var (
	// ErrUnsupportedOperation marks a capability a provider declines.
	ErrUnsupportedOperation = llmerr.ErrUnsupportedOperation

	// IsRetryable reports whether an error is a transient transport failure.
	IsRetryable = llmerr.IsRetryable
)

// Delta is one incremental streaming unit: a text fragment, a tool-call
// argument fragment, or both fields of a tool-call header.
type Delta struct {
	Text       string
	ToolCallID string
	ToolName   string
	ArgsDelta  string
}

// Sink receives streaming events. Every orchestrator turn is one cycle:
// OnOpen once, then zero or more OnUpdate calls in arrival order, then
// OnClose exactly once. A turn that requests tools is followed by the next
// cycle; the final cycle's close carries the completed response or the
// error that ended the run. A turn that fails before it can open still ends
// the run with OnClose(nil, err), so once any cycle has opened a consumer
// can rely on a terminal close.
type Sink interface {
	// OnOpen signals the stream is live.
	OnOpen(provider, model string)

	// OnUpdate delivers one delta.
	OnUpdate(d Delta)

	// OnClose terminates the stream with the assembled response, or the
	// error that ended it. Exactly one of resp and err is meaningful.
	OnClose(resp *schema.Response, err error)
}

// EventKind discriminates StreamEvent payloads.
type EventKind int

const (
	EventOpen EventKind = iota
	EventUpdate
	EventClose
)

// StreamEvent is the channel representation of one sink callback.
type StreamEvent struct {
	Kind     EventKind
	Provider string           // open only
	Model    string           // open only
	Delta    Delta            // update only
	Response *schema.Response // close only
	Err      error            // close only
}

// ChannelSink adapts the Sink callbacks to a Go channel. The channel is
// closed after the final close event, so a plain range over Events
// terminates. A close is final when the run is over: an error, a turn with
// no requested tools, or the turn ceiling; intermediate tool-bearing turns
// keep the channel open for the next cycle.
type ChannelSink struct {
	ch chan StreamEvent
}

// NewChannelSink creates a sink with the given buffer. An unbuffered sink
// applies backpressure to the decoder; a buffer decouples slow consumers.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan StreamEvent, buffer)}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan StreamEvent { return s.ch }

func (s *ChannelSink) OnOpen(provider, model string) {
	s.ch <- StreamEvent{Kind: EventOpen, Provider: provider, Model: model}
}

func (s *ChannelSink) OnUpdate(d Delta) {
	s.ch <- StreamEvent{Kind: EventUpdate, Delta: d}
}

func (s *ChannelSink) OnClose(resp *schema.Response, err error) {
	s.ch <- StreamEvent{Kind: EventClose, Response: resp, Err: err}
	final := err != nil || resp == nil ||
		resp.HitTurnLimit || len(resp.Message.ToolCalls) == 0
	if final {
		close(s.ch)
	}
}
