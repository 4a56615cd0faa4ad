package biz

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"time"
)

// ErrorKind is the classification assigned to a failed external call.
type ErrorKind string

const (
	KindRateLimit  ErrorKind = "RATE_LIMIT"
	KindAuth       ErrorKind = "AUTH_ERROR"
	KindPermission ErrorKind = "PERMISSION_ERROR"
	KindValidation ErrorKind = "VALIDATION_ERROR"
	KindUpload     ErrorKind = "UPLOAD_ERROR"
	KindNetwork    ErrorKind = "NETWORK_ERROR"
	KindServer     ErrorKind = "SERVER_ERROR"
	KindUnknown    ErrorKind = "UNKNOWN_ERROR"
)

// APIError is a structured error surfaced by upstream SDK adapters that do
// expose status codes. Classification prefers these over message matching.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Classification is the outcome of classifying a failed call: what kind of
// failure it was, whether another attempt is worthwhile, and how long to
// wait before it.
type Classification struct {
	Kind        ErrorKind
	ShouldRetry bool
	Delay       time.Duration
}

const (
	rateLimitBaseDelay = 5 * time.Second
	rateLimitMaxDelay  = 60 * time.Second
	uploadRetryDelay   = 2 * time.Second
	networkMaxDelay    = 30 * time.Second
	serverRetryDelay   = 10 * time.Second
	unknownRetryDelay  = 15 * time.Second
)

// ClassifyError maps an error from an external call to a Classification.
// attempt is the zero-based attempt index, used to scale backoff.
//
// Structured status codes (via APIError) are consulted first; keyword
// matching on the error text is a best-effort fallback for SDKs that
// surface free-text errors only. The keyword path is inherently fragile
// and is kept deliberately loose rather than guessing stricter intent.
func ClassifyError(err error, attempt int) Classification {
	if err == nil {
		return Classification{Kind: KindUnknown, ShouldRetry: false}
	}

	// Cancellation and deadline expiry behave like network failures: the
	// caller's context decides whether a retry is even attempted.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return classify(KindNetwork, attempt)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode > 0 {
		return classifyStatusCode(apiErr.StatusCode, attempt)
	}

	return classifyMessage(err.Error(), attempt)
}

// classifyStatusCode maps an HTTP status code to a Classification.
func classifyStatusCode(status, attempt int) Classification {
	switch {
	case status == 429:
		return classify(KindRateLimit, attempt)
	case status == 401:
		return classify(KindAuth, attempt)
	case status == 403:
		return classify(KindPermission, attempt)
	case status == 400 || status == 422:
		return classify(KindValidation, attempt)
	case status == 408:
		return classify(KindNetwork, attempt)
	case status >= 500:
		return classify(KindServer, attempt)
	default:
		return classify(KindUnknown, attempt)
	}
}

// classifyMessage matches keywords in the error text.
// Ordering matters: "invalid token" must classify as auth, not validation.
func classifyMessage(msg string, attempt int) Classification {
	lower := strings.ToLower(msg)

	switch {
	case containsAny(lower, "rate limit", "too many requests", "quota exceeded", "429"):
		return classify(KindRateLimit, attempt)
	case containsAny(lower, "unauthorized", "authentication", "invalid token", "expired token", "401"):
		return classify(KindAuth, attempt)
	case containsAny(lower, "forbidden", "permission denied", "not authorized", "access denied", "403"):
		return classify(KindPermission, attempt)
	case containsAny(lower, "validation", "invalid request", "bad request", "missing required", "422"):
		return classify(KindValidation, attempt)
	case containsAny(lower, "upload failed", "media upload", "file too large"):
		return classify(KindUpload, attempt)
	case containsAny(lower, "connection", "timeout", "timed out", "network", "no such host", "dial tcp", "broken pipe", "unexpected eof"):
		return classify(KindNetwork, attempt)
	case containsAny(lower, "internal server error", "bad gateway", "service unavailable", "gateway timeout", "500", "502", "503", "504"):
		return classify(KindServer, attempt)
	default:
		return classify(KindUnknown, attempt)
	}
}

// classify assigns the retry decision and backoff delay for a kind.
func classify(kind ErrorKind, attempt int) Classification {
	switch kind {
	case KindRateLimit:
		// Exponential backoff with ±20% jitter, capped.
		delay := rateLimitBaseDelay << uint(attempt) // #nosec G115 -- attempt is a small loop index
		if delay > rateLimitMaxDelay || delay <= 0 {
			delay = rateLimitMaxDelay
		}
		return Classification{Kind: kind, ShouldRetry: true, Delay: withJitter(delay)}

	case KindAuth, KindPermission, KindValidation:
		return Classification{Kind: kind, ShouldRetry: false}

	case KindUpload:
		return Classification{Kind: kind, ShouldRetry: true, Delay: uploadRetryDelay}

	case KindNetwork:
		delay := time.Duration(attempt+1) * 5 * time.Second
		if delay > networkMaxDelay {
			delay = networkMaxDelay
		}
		return Classification{Kind: kind, ShouldRetry: true, Delay: delay}

	case KindServer:
		return Classification{Kind: kind, ShouldRetry: true, Delay: serverRetryDelay}

	default:
		// Unknown failures get exactly one cautious retry.
		return Classification{Kind: KindUnknown, ShouldRetry: attempt < 1, Delay: unknownRetryDelay}
	}
}

// withJitter applies ±20% random jitter to a delay.
func withJitter(d time.Duration) time.Duration {
	jitter := 0.8 + rand.Float64()*0.4 // #nosec G404 -- jitter does not need crypto randomness
	return time.Duration(float64(d) * jitter)
}

func containsAny(s string, keywords ...string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
