package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/omnillm/omnillm/llmerr"
)

// Classify maps a non-2xx provider response into the llmerr taxonomy.
//
// Status drives the base classification; vendor-specific error bodies
// ("insufficient credits", "no available upstream", "overloaded") are
// pattern-matched on top so vendor quirks never leak as opaque failures.
func Classify(provider string, status int, body []byte, headers http.Header) error {
	message, code := extractErrorBody(body)

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		reason := message
		if reason == "" {
			reason = "authentication rejected; check the configured credential"
		}
		return &llmerr.ConfigurationError{Reason: reason}
	}

	te := &llmerr.TransportError{
		Provider: provider,
		Status:   status,
		Code:     code,
		Message:  message,
		Raw:      truncate(body, maxErrorBodyLen),
	}

	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		te.Retryable = true
	}

	// Vendor error bodies refine the status-based call.
	lower := strings.ToLower(message + " " + code)
	switch {
	case strings.Contains(lower, "insufficient credit"),
		strings.Contains(lower, "insufficient_quota"),
		strings.Contains(lower, "billing"):
		// Out of money: retrying cannot help.
		te.Retryable = false
	case strings.Contains(lower, "no available upstream"),
		strings.Contains(lower, "overloaded"),
		strings.Contains(lower, "capacity"):
		te.Retryable = true
	}

	if te.Retryable {
		te.RetryAfter = parseRetryAfter(headers.Get("Retry-After"))
	}

	return te
}

// extractErrorBody pulls a human-readable message and vendor code out of the
// common error envelope shapes:
//
//	OpenAI/Ollama:  {"error": {"message": "...", "code": "..."}}
//	Anthropic:      {"error": {"type": "...", "message": "..."}}
//	Gemini:         {"error": {"message": "...", "status": "..."}}
//	plain:          {"message": "..."} or bare text
func extractErrorBody(body []byte) (message, code string) {
	if len(body) == 0 {
		return "", ""
	}
	if !gjson.ValidBytes(body) {
		return strings.TrimSpace(string(truncate(body, 200))), ""
	}

	root := gjson.ParseBytes(body)
	if e := root.Get("error"); e.Exists() {
		if e.Type == gjson.String {
			return e.String(), ""
		}
		message = e.Get("message").String()
		for _, key := range []string{"code", "type", "status"} {
			if v := e.Get(key); v.Exists() {
				code = v.String()
				break
			}
		}
		return message, code
	}
	return root.Get("message").String(), root.Get("code").String()
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
