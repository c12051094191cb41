package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnillm/omnillm/schema"
)

// DefaultMaxTurns is the safe default turn ceiling for runaway tool loops.
const DefaultMaxTurns = 10

// Submit performs one request/response exchange with the selected back end.
type Submit func(ctx context.Context, p *schema.Prompt) (*schema.Response, error)

// Orchestrator drives the bounded tool-call loop. Stateless between runs;
// one instance may serve concurrent callers.
type Orchestrator struct {
	tools    *Toolset
	maxTurns int
	logger   zerolog.Logger
}

// New creates an orchestrator. maxTurns <= 0 takes DefaultMaxTurns.
func New(tools *Toolset, maxTurns int, logger zerolog.Logger) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	if tools == nil {
		tools = NewToolset()
	}
	return &Orchestrator{tools: tools, maxTurns: maxTurns, logger: logger}
}

// MaxTurns returns the configured turn ceiling.
func (o *Orchestrator) MaxTurns() int { return o.maxTurns }

// Run executes the loop: submit, and while the model requests tools, execute
// them all, append the results, resubmit. A turn with no requested actions
// completes the run. A prompt with no pending tool calls therefore costs
// exactly one submit.
//
// Tie-break: a turn returning both text and tool calls continues the loop;
// actions take priority over text.
func (o *Orchestrator) Run(ctx context.Context, prompt *schema.Prompt, submit Submit) (*schema.Response, error) {
	current := prompt

	for turn := 1; ; turn++ {
		resp, err := submit(ctx, current)
		if err != nil {
			return nil, err
		}
		resp.TurnCount = turn

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			return resp, nil // COMPLETED
		}

		if turn >= o.maxTurns {
			// Ceiling reached with calls still outstanding: surface the
			// last assistant content (possibly empty) rather than hang.
			resp.HitTurnLimit = true
			o.logger.Warn().
				Int("turns", turn).
				Int("pending_calls", len(calls)).
				Msg("tool loop hit turn ceiling")
			return resp, nil
		}

		results := o.ExecuteAll(ctx, calls)

		// Next turn: history + assistant tool-call message + every result.
		// The forced tool directive, once used, is cleared before the
		// second submission — re-forcing it risks an infinite loop.
		next := make([]schema.Message, 0, len(results)+1)
		next = append(next, resp.Message)
		next = append(next, results...)
		current = current.Derive(next, true)
	}
}

// ExecuteAll runs every requested call and returns one tool-result message
// per call, in request order. Calls are independent and run concurrently;
// none may be skipped, so the loop waits for all before returning. Exported
// for the streaming path, which drives its own turn cycle.
func (o *Orchestrator) ExecuteAll(ctx context.Context, calls []schema.ToolCall) []schema.Message {
	results := make([]schema.Message, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call schema.ToolCall) {
			defer wg.Done()
			results[i] = o.executeOne(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

// executeOne invokes a single registered callable. Every failure mode fails
// closed into a tool-result message — a missing tool or a raised error is
// recorded for the model to recover from next turn, never raised.
func (o *Orchestrator) executeOne(ctx context.Context, call schema.ToolCall) schema.Message {
	start := time.Now()

	tool, ok := o.tools.Get(call.Name)
	if !ok {
		o.logger.Warn().Str("tool", call.Name).Msg("model requested unregistered tool")
		return toolResult(call.ID, map[string]any{
			"error": fmt.Sprintf("tool %q is not registered", call.Name),
		})
	}

	value, err := tool.Fn(ctx, call.Arguments)
	o.logger.Debug().
		Str("tool", call.Name).
		Str("call_id", call.ID).
		Dur("elapsed", time.Since(start)).
		Bool("failed", err != nil).
		Msg("tool executed")

	if err != nil {
		return toolResult(call.ID, map[string]any{"error": err.Error()})
	}
	if value == nil {
		// A tool returning nothing still answers its correlation id.
		return toolResult(call.ID, map[string]any{})
	}
	return toolResult(call.ID, value)
}

// toolResult serializes a tool outcome into a correlated tool message.
func toolResult(callID string, value any) schema.Message {
	payload, err := json.Marshal(value)
	if err != nil {
		// Marshal of a plain string map cannot fail, so the fallback stays
		// valid JSON whatever the error message contains.
		payload, _ = json.Marshal(map[string]string{
			"error": "unserializable tool result: " + err.Error(),
		})
	}
	msg, merr := schema.NewToolResultMessage(callID, string(payload))
	if merr != nil {
		// Vendor sent a call without an id; answer under a placeholder so
		// the turn still carries a result per call.
		msg = schema.Message{Role: schema.RoleTool, Content: string(payload), ToolCallID: "missing_call_id"}
	}
	return msg
}
