// Package llmerr defines the provider-agnostic error taxonomy for the engine.
//
// DESIGN: Four classes cover every failure mode:
//
//   - ConfigurationError: unknown provider tag, missing credential. Fatal,
//     raised before any network I/O, never retried.
//   - ValidationError:    malformed canonical Prompt/Message. Fatal, raised
//     before any network I/O.
//   - TransportError:     network failure, timeout, rate limit, 5xx. Retried
//     up to the adapter's budget, then surfaced with Retryable set so callers
//     can distinguish retryable exhaustion from permanent rejection.
//   - ErrUnsupportedOperation: an adapter explicitly declines a capability
//     (e.g. streaming) it does not implement.
//
// Tool failures and structured-output parse failures are NOT errors: the
// orchestrator converts the former into tool-result messages and normalizers
// degrade the latter to raw text, so the model (or the caller) can recover.
package llmerr

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnsupportedOperation is returned by adapters that decline an optional
// capability (streaming, embeddings). Resolved at registration time, not via
// reflection.
var ErrUnsupportedOperation = errors.New("operation not supported by this adapter")

// ConfigurationError reports a fatal configuration problem: an unknown
// provider tag or a missing credential. Never retried.
type ConfigurationError struct {
	Tag    string   // provider tag that failed to resolve, if any
	Known  []string // registered tags, sorted, for the error message
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Tag != "" && len(e.Known) > 0 {
		return fmt.Sprintf("configuration: unknown provider %q (known providers: %s)",
			e.Tag, strings.Join(e.Known, ", "))
	}
	if e.Tag != "" {
		return fmt.Sprintf("configuration: provider %q: %s", e.Tag, e.Reason)
	}
	return fmt.Sprintf("configuration: %s", e.Reason)
}

// ValidationError reports a malformed canonical Prompt or Message. Raised by
// constructors and Prompt.Validate before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("validation: %s", e.Reason)
}

// TransportError reports a failed exchange with a provider back end. The
// transport retries retryable errors up to the configured budget before
// surfacing one of these.
type TransportError struct {
	Provider   string
	Status     int           // HTTP status, 0 for network-level failures
	Code       string        // provider-specific error code, if present
	Message    string        // human-readable message from the error body
	Retryable  bool          // true for timeouts, rate limits, 5xx
	RetryAfter time.Duration // parsed Retry-After hint, 0 if absent
	Raw        []byte        // raw error body, truncated
	Cause      error
}

func (e *TransportError) Error() string {
	var b strings.Builder
	b.WriteString("transport")
	if e.Provider != "" {
		b.WriteString(" ")
		b.WriteString(e.Provider)
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, ": http %d", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	} else if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	if e.Code != "" {
		fmt.Fprintf(&b, " (%s)", e.Code)
	}
	return b.String()
}

func (e *TransportError) Unwrap() error { return e.Cause }

// IsRetryable reports whether err is a TransportError marked retryable.
// Configuration and validation errors are never retryable.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}

// AsTransportError unwraps err to a TransportError, if it is one.
func AsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}
