package omnillm

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnillm/omnillm/config"
	"github.com/omnillm/omnillm/internal/adapters"
	"github.com/omnillm/omnillm/internal/monitoring"
	"github.com/omnillm/omnillm/internal/orchestrator"
	"github.com/omnillm/omnillm/internal/transport"
	"github.com/omnillm/omnillm/llmerr"
	"github.com/omnillm/omnillm/schema"
)

// ToolFunc is a locally registered callable the model may request.
type ToolFunc = orchestrator.ToolFunc

// Client is the engine entry point. Safe for concurrent use; one Client is
// meant to be shared across an application so HTTP connections are pooled
// and usage accrues in one place.
type Client struct {
	cfg      *config.Config
	registry *adapters.Registry
	caller   *transport.Caller
	tools    *orchestrator.Toolset
	orch     *orchestrator.Orchestrator
	logger   zerolog.Logger
	metrics  *monitoring.Metrics
	usage    *monitoring.UsageTracker

	// Bedrock routes through a SigV4-signing client, built lazily per region.
	mu             sync.Mutex
	bedrockCallers map[string]*transport.Caller
}

// Option customizes a Client at construction time.
type Option func(*clientOptions)

type clientOptions struct {
	logger     *zerolog.Logger
	httpClient *http.Client
	maxTurns   int
	metrics    bool
	prices     map[string]monitoring.Price
}

// WithLogger replaces the default logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *clientOptions) { o.logger = &logger }
}

// WithHTTPClient replaces the default pooled HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *clientOptions) { o.httpClient = client }
}

// WithMaxTurns overrides the tool-loop turn ceiling.
func WithMaxTurns(n int) Option {
	return func(o *clientOptions) { o.maxTurns = n }
}

// WithMetrics enables the Prometheus collectors, exposed via MetricsHandler.
func WithMetrics() Option {
	return func(o *clientOptions) { o.metrics = true }
}

// WithPrice adds or overrides a usage-tracker price table entry, in USD per
// million tokens.
func WithPrice(model string, inputPerMTok, outputPerMTok float64) Option {
	return func(o *clientOptions) {
		if o.prices == nil {
			o.prices = make(map[string]monitoring.Price)
		}
		o.prices[model] = monitoring.Price{InputPerMTok: inputPerMTok, OutputPerMTok: outputPerMTok}
	}
}

// New creates a Client from configuration. A nil cfg reads provider settings
// from the environment (OPENAI_API_KEY and friends).
func New(cfg *config.Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		cfg = config.FromEnv()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o clientOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := monitoring.NewLogger(monitoring.LoggerConfig{
		Level:  cfg.Monitoring.LogLevel,
		Format: cfg.Monitoring.LogFormat,
		Output: cfg.Monitoring.LogOutput,
	})
	if o.logger != nil {
		logger = *o.logger
	}

	maxTurns := cfg.Orchestra.MaxTurns
	if o.maxTurns > 0 {
		maxTurns = o.maxTurns
	}

	var metrics *monitoring.Metrics
	if o.metrics || cfg.Monitoring.Metrics {
		metrics = monitoring.NewMetrics()
	}

	usage := monitoring.NewUsageTracker()
	for model, price := range o.prices {
		usage.SetPrice(model, price)
	}

	tools := orchestrator.NewToolset()
	return &Client{
		cfg:            cfg,
		registry:       adapters.NewRegistry(),
		caller:         transport.NewCaller(o.httpClient, logger),
		tools:          tools,
		orch:           orchestrator.New(tools, maxTurns, logger),
		logger:         logger,
		metrics:        metrics,
		usage:          usage,
		bedrockCallers: make(map[string]*transport.Caller),
	}, nil
}

// RegisterTool registers a callable the model may request by name.
func (c *Client) RegisterTool(name, description string, params map[string]any, fn ToolFunc) error {
	return c.tools.Register(orchestrator.Tool{
		Name:        name,
		Description: description,
		Parameters:  params,
		Fn:          fn,
	})
}

// CallOption overrides resolved provider options for a single call.
type CallOption func(*adapters.Options)

// WithModel overrides the configured model id.
func WithModel(model string) CallOption {
	return func(o *adapters.Options) { o.Model = model }
}

// WithAPIKey overrides the configured credential.
func WithAPIKey(key string) CallOption {
	return func(o *adapters.Options) { o.APIKey = key }
}

// WithBaseURL overrides the provider endpoint.
func WithBaseURL(url string) CallOption {
	return func(o *adapters.Options) { o.BaseURL = url }
}

// WithTimeout overrides the per-call budget.
func WithTimeout(d time.Duration) CallOption {
	return func(o *adapters.Options) { o.Timeout = d }
}

// WithMaxRetries overrides the retry budget.
func WithMaxRetries(n int) CallOption {
	return func(o *adapters.Options) { o.MaxRetries = n }
}

// WithExtra sets a raw vendor field on the wire request.
func WithExtra(key string, value any) CallOption {
	return func(o *adapters.Options) {
		if o.Extra == nil {
			o.Extra = make(map[string]any)
		}
		o.Extra[key] = value
	}
}

// Call runs the prompt against the named provider, executing requested tools
// until the model completes or the turn ceiling is hit. The returned
// Response carries TurnCount and, when the ceiling ended the run,
// HitTurnLimit.
func (c *Client) Call(ctx context.Context, provider string, prompt *schema.Prompt, overrides ...CallOption) (*schema.Response, error) {
	start := time.Now()
	tag := strings.ToLower(provider)
	ctx, logger := c.callLogger(ctx)

	adapter, opts, err := c.resolve(provider, overrides)
	if err != nil {
		return nil, err
	}
	prompt, err = c.preparePrompt(prompt)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("provider", tag).Str("model", opts.Model).Msg("call started")

	submit := func(ctx context.Context, p *schema.Prompt) (*schema.Response, error) {
		return c.exchange(ctx, adapter, opts, p)
	}

	resp, err := c.orch.Run(ctx, prompt, submit)

	outcome := "completed"
	switch {
	case err != nil:
		outcome = "error"
	case resp.HitTurnLimit:
		outcome = "turn_limit"
	}
	turns := 0
	if resp != nil {
		turns = resp.TurnCount
	}
	c.metrics.RecordCall(tag, opts.Model, outcome, turns, time.Since(start))
	logger.Info().
		Str("provider", tag).
		Str("model", opts.Model).
		Str("outcome", outcome).
		Int("turns", turns).
		Dur("elapsed", time.Since(start)).
		Msg("call finished")

	return resp, err
}

// Stream runs the prompt as a streaming exchange, delivering deltas to the
// sink. Providers (or prompt shapes) without streaming support fail with
// ErrUnsupportedOperation before any sink event. Each orchestrator turn is
// one sink cycle: OnOpen, every delta in arrival order, OnClose exactly
// once. A streamed turn that requests tools executes them and opens the next
// cycle, up to the turn ceiling.
//
// Once any cycle has opened, every exit path ends with a terminal OnClose:
// a failure between cycles (or after an open) delivers OnClose(nil, err) so
// sink consumers always see the error that ended the run.
func (c *Client) Stream(ctx context.Context, provider string, prompt *schema.Prompt, sink Sink, overrides ...CallOption) (*schema.Response, error) {
	start := time.Now()
	tag := strings.ToLower(provider)
	ctx, logger := c.callLogger(ctx)

	streamer, err := c.registry.ResolveStreamer(provider)
	if err != nil {
		return nil, err
	}
	_, opts, err := c.resolve(provider, overrides)
	if err != nil {
		return nil, err
	}
	prompt, err = c.preparePrompt(prompt)
	if err != nil {
		return nil, err
	}
	caller, err := c.callerFor(ctx, provider, opts)
	if err != nil {
		return nil, err
	}

	logger.Debug().Str("provider", tag).Str("model", opts.Model).Msg("stream started")

	current := prompt
	for turn := 1; ; turn++ {
		resp, opened, err := c.streamTurn(ctx, streamer, caller, opts, tag, current, sink)
		if err != nil {
			// The sink contract: after the first cycle the run always ends
			// with a close, even when the failing turn never opened.
			if opened || turn > 1 {
				sink.OnClose(nil, err)
			}
			c.metrics.RecordCall(tag, opts.Model, "error", turn, time.Since(start))
			logger.Info().
				Str("provider", tag).
				Str("model", opts.Model).
				Str("outcome", "error").
				Int("turns", turn).
				Dur("elapsed", time.Since(start)).
				Msg("stream finished")
			return nil, err
		}
		resp.TurnCount = turn
		c.recordUsage(tag, current, resp)

		calls := resp.Message.ToolCalls
		if len(calls) == 0 {
			sink.OnClose(resp, nil)
			c.metrics.RecordCall(tag, opts.Model, "completed", turn, time.Since(start))
			logger.Info().
				Str("provider", tag).
				Str("model", opts.Model).
				Str("outcome", "completed").
				Int("turns", turn).
				Dur("elapsed", time.Since(start)).
				Msg("stream finished")
			return resp, nil
		}
		if turn >= c.orch.MaxTurns() {
			resp.HitTurnLimit = true
			sink.OnClose(resp, nil)
			c.metrics.RecordCall(tag, opts.Model, "turn_limit", turn, time.Since(start))
			logger.Info().
				Str("provider", tag).
				Str("model", opts.Model).
				Str("outcome", "turn_limit").
				Int("turns", turn).
				Dur("elapsed", time.Since(start)).
				Msg("stream finished")
			return resp, nil
		}
		sink.OnClose(resp, nil)

		results := c.orch.ExecuteAll(ctx, calls)
		next := make([]schema.Message, 0, len(results)+1)
		next = append(next, resp.Message)
		next = append(next, results...)
		current = current.Derive(next, true)
	}
}

// streamTurn opens and fully decodes one streamed exchange. The sink sees
// OnOpen and the turn's deltas; every close event belongs to the caller,
// which knows whether the run continues. opened reports whether OnOpen fired,
// so the caller can terminate the cycle on error without double-closing.
func (c *Client) streamTurn(ctx context.Context, streamer adapters.Streamer, caller *transport.Caller, opts adapters.Options, tag string, p *schema.Prompt, sink Sink) (resp *schema.Response, opened bool, err error) {
	req, err := streamer.BuildStreamRequest(p, opts)
	if err != nil {
		return nil, false, err
	}
	body, _, err := caller.Open(ctx, req, opts.RetryPolicy())
	if err != nil {
		return nil, false, err
	}
	defer body.Close()

	sink.OnOpen(tag, opts.Model)
	resp, err = streamer.DecodeStream(p, opts, body, func(d adapters.StreamDelta) {
		sink.OnUpdate(Delta{
			Text:       d.Text,
			ToolCallID: d.ToolCallID,
			ToolName:   d.ToolName,
			ArgsDelta:  d.ArgsDelta,
		})
	})
	if err != nil {
		return nil, true, err
	}
	resp.RawRequest = req.Body
	return resp, true, nil
}

// MetricsHandler exposes the Prometheus collectors, or nil when metrics are
// disabled.
func (c *Client) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// UsageSummary is the accumulated consumption for one provider/model pair.
type UsageSummary struct {
	Provider       string
	Model          string
	Calls          int
	InputTokens    int
	OutputTokens   int
	EstimatedCalls int
	CostUSD        float64
}

// Usage returns a snapshot of accumulated token consumption and cost.
func (c *Client) Usage() []UsageSummary {
	snap := c.usage.Snapshot()
	out := make([]UsageSummary, len(snap))
	for i, mu := range snap {
		out[i] = UsageSummary{
			Provider:       mu.Provider,
			Model:          mu.Model,
			Calls:          mu.Calls,
			InputTokens:    mu.InputTokens,
			OutputTokens:   mu.OutputTokens,
			EstimatedCalls: mu.Estimated,
			CostUSD:        mu.CostUSD,
		}
	}
	return out
}

// resolve maps the provider tag to its adapter and its effective options:
// configuration defaults overlaid with per-call overrides, then validated.
func (c *Client) resolve(provider string, overrides []CallOption) (adapters.Adapter, adapters.Options, error) {
	adapter, err := c.registry.Resolve(provider)
	if err != nil {
		return nil, adapters.Options{}, err
	}

	var opts adapters.Options
	if pc, ok := c.cfg.Provider(provider); ok {
		opts = adapters.Options{
			APIKey:     pc.APIKey,
			Model:      pc.Model,
			BaseURL:    pc.BaseURL,
			Region:     pc.Region,
			Timeout:    pc.Timeout,
			MaxRetries: pc.MaxRetries,
		}
	}
	for _, override := range overrides {
		override(&opts)
	}
	if err := opts.Validate(strings.ToLower(provider)); err != nil {
		return nil, adapters.Options{}, err
	}
	return adapter, opts, nil
}

// preparePrompt validates the prompt and attaches the client's registered
// tool declarations when the prompt declares none of its own.
func (c *Client) preparePrompt(p *schema.Prompt) (*schema.Prompt, error) {
	if p == nil {
		return nil, &llmerr.ValidationError{Field: "prompt", Reason: "prompt is nil"}
	}
	if len(p.Tools) == 0 {
		if decls := c.tools.Declarations(); len(decls) > 0 {
			derived := *p
			derived.Tools = decls
			p = &derived
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// exchange performs one build/send/parse round trip and records its usage.
func (c *Client) exchange(ctx context.Context, adapter adapters.Adapter, opts adapters.Options, p *schema.Prompt) (*schema.Response, error) {
	req, err := adapter.BuildRequest(p, opts)
	if err != nil {
		return nil, err
	}
	caller, err := c.callerFor(ctx, adapter.Name(), opts)
	if err != nil {
		return nil, err
	}
	res, err := caller.Do(ctx, req, opts.RetryPolicy())
	if err != nil {
		return nil, err
	}
	resp, err := adapter.ParseResponse(p, opts, res)
	if err != nil {
		return nil, err
	}
	resp.RawRequest = req.Body
	c.recordUsage(adapter.Name(), p, resp)
	return resp, nil
}

// callerFor returns the shared caller, or the region's signing caller for
// Bedrock.
func (c *Client) callerFor(ctx context.Context, provider string, opts adapters.Options) (*transport.Caller, error) {
	if strings.ToLower(provider) != adapters.TagBedrock {
		return c.caller, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if caller, ok := c.bedrockCallers[opts.Region]; ok {
		return caller, nil
	}

	signing, err := transport.NewSigningTransport(ctx, opts.Region, nil)
	if err != nil {
		return nil, &llmerr.ConfigurationError{Tag: adapters.TagBedrock, Reason: err.Error()}
	}
	caller := transport.NewCaller(&http.Client{Transport: signing}, c.logger)
	c.bedrockCallers[opts.Region] = caller
	return caller, nil
}

// recordUsage accrues one exchange's usage, estimating locally when the
// vendor reported nothing, and feeds the resolved counts to the token
// counters.
func (c *Client) recordUsage(provider string, p *schema.Prompt, resp *schema.Response) {
	promptText, responseText := "", ""
	if !resp.Usage.Reported() {
		var sb strings.Builder
		sb.WriteString(p.System)
		for _, m := range p.Messages {
			sb.WriteString(m.Text())
		}
		promptText = sb.String()
		responseText = resp.Message.Content
	}
	tag := strings.ToLower(provider)
	input, output := c.usage.Record(tag, resp.Usage, promptText, responseText)
	c.metrics.RecordTokens(tag, resp.Usage.Model, input, output)
}

// callLogger attaches a request id to the context and returns a logger
// carrying it. An id already present on the context is reused, so a caller
// spanning several engine calls can correlate them.
func (c *Client) callLogger(ctx context.Context) (context.Context, zerolog.Logger) {
	reqID := monitoring.RequestIDFromContext(ctx)
	if reqID == "" {
		reqID = monitoring.NewRequestID()
		ctx = monitoring.WithRequestIDContext(ctx, reqID)
	}
	return ctx, c.logger.With().Str("request_id", reqID).Logger()
}
