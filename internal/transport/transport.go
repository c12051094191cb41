// Package transport issues the wire calls built by provider adapters.
//
// DESIGN: One shared Caller wraps an *http.Client (connection reuse, safe for
// concurrent use) and owns the retry loop and the mapping of vendor failures
// into the llmerr taxonomy. Adapters build requests and parse bodies; they
// never touch sockets.
//
// Network calls are the engine's only suspension points. Timeouts come from
// the request context; the retry budget is per call, configured by the
// adapter options.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/omnillm/omnillm/llmerr"
)

const (
	// DefaultTimeout applies when options specify none.
	DefaultTimeout = 120 * time.Second

	// maxResponseSize prevents OOM on unexpectedly large bodies (50MB).
	maxResponseSize = 50 * 1024 * 1024

	// maxErrorBodyLen limits the raw body captured on error responses.
	maxErrorBodyLen = 2048
)

// Request is a fully built provider request, ready to send.
type Request struct {
	Provider string // tag, for logging and error attribution
	Method   string
	URL      string
	Headers  http.Header
	Body     []byte
}

// Result is the raw outcome of a successful (2xx) exchange.
type Result struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Caller executes provider requests with retries. Safe for concurrent use;
// one Caller is shared across all adapters so connections are pooled.
type Caller struct {
	client *http.Client
	logger zerolog.Logger
}

// NewCaller builds a Caller around the given client. A nil client gets a
// default with sane pooling; per-call deadlines come from the context.
func NewCaller(client *http.Client, logger zerolog.Logger) *Caller {
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	return &Caller{client: client, logger: logger}
}

// Do sends the request, retrying per policy, and returns the raw result.
// Non-2xx responses are classified into the llmerr taxonomy; retryable ones
// consume the retry budget before surfacing.
func (c *Caller) Do(ctx context.Context, req *Request, policy RetryPolicy) (*Result, error) {
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error
	attempts := policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.backoff(attempt, lastErr)
			c.logger.Debug().
				Str("provider", req.Provider).
				Int("attempt", attempt).
				Dur("backoff", delay).
				Msg("retrying provider call")
			select {
			case <-ctx.Done():
				return nil, timeoutError(req.Provider, ctx.Err())
			case <-time.After(delay):
			}
		}

		result, err := c.once(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !llmerr.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, lastErr
}

// Open sends the request and hands back the live response body for streaming
// consumption. Only the initial connect is retried; once the stream is open,
// interruption surfaces to the caller as a read error.
func (c *Caller) Open(ctx context.Context, req *Request, policy RetryPolicy) (io.ReadCloser, http.Header, error) {
	timeout := policy.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)

	var lastErr error
	attempts := policy.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := policy.backoff(attempt, lastErr)
			select {
			case <-ctx.Done():
				cancel()
				return nil, nil, timeoutError(req.Provider, ctx.Err())
			case <-time.After(delay):
			}
		}

		resp, err := c.send(ctx, req)
		if err != nil {
			lastErr = networkError(req.Provider, err)
			if !llmerr.IsRetryable(lastErr) {
				cancel()
				return nil, nil, lastErr
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyLen))
			resp.Body.Close()
			lastErr = Classify(req.Provider, resp.StatusCode, body, resp.Header)
			if !llmerr.IsRetryable(lastErr) {
				cancel()
				return nil, nil, lastErr
			}
			continue
		}

		// Tie the stream's lifetime to the timeout context.
		return &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}, resp.Header, nil
	}
	cancel()
	return nil, nil, lastErr
}

func (c *Caller) once(ctx context.Context, req *Request) (*Result, error) {
	resp, err := c.send(ctx, req)
	if err != nil {
		return nil, networkError(req.Provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, networkError(req.Provider, fmt.Errorf("reading response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, Classify(req.Provider, resp.StatusCode, body, resp.Header)
	}

	return &Result{StatusCode: resp.StatusCode, Headers: resp.Header, Body: body}, nil
}

func (c *Caller) send(ctx context.Context, req *Request) (*http.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodPost
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if httpReq.Header.Get("Content-Type") == "" && len(req.Body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	return c.client.Do(httpReq)
}

// networkError wraps a client-level failure. Timeouts and transient network
// errors are retryable; context cancellation is not.
func networkError(provider string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &llmerr.TransportError{Provider: provider, Message: "canceled", Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(provider, err)
	}
	var netErr net.Error
	retryable := errors.As(err, &netErr) && netErr.Timeout()
	// Connection-level failures (refused, reset, DNS) are worth one more try.
	if !retryable {
		var opErr *net.OpError
		retryable = errors.As(err, &opErr)
	}
	return &llmerr.TransportError{
		Provider:  provider,
		Message:   "request failed",
		Retryable: retryable,
		Cause:     err,
	}
}

func timeoutError(provider string, cause error) error {
	return &llmerr.TransportError{
		Provider:  provider,
		Message:   "timeout",
		Retryable: true,
		Cause:     cause,
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
