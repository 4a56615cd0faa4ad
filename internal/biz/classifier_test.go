package biz

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Test classification by structured status code
func TestClassifyError_StatusCodes(t *testing.T) {
	cases := []struct {
		status      int
		wantKind    ErrorKind
		shouldRetry bool
	}{
		{429, KindRateLimit, true},
		{401, KindAuth, false},
		{403, KindPermission, false},
		{400, KindValidation, false},
		{422, KindValidation, false},
		{408, KindNetwork, true},
		{500, KindServer, true},
		{502, KindServer, true},
		{503, KindServer, true},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("status_%d", tc.status), func(t *testing.T) {
			err := &APIError{StatusCode: tc.status, Message: "upstream error"}
			c := ClassifyError(err, 0)
			assert.Equal(t, tc.wantKind, c.Kind)
			assert.Equal(t, tc.shouldRetry, c.ShouldRetry)
		})
	}
}

// Test status code takes precedence over a misleading message
func TestClassifyError_StatusCodeWins(t *testing.T) {
	err := &APIError{StatusCode: 401, Message: "rate limit exceeded"}
	c := ClassifyError(err, 0)
	assert.Equal(t, KindAuth, c.Kind)
	assert.False(t, c.ShouldRetry)
}

// Test keyword fallback for free-text errors
func TestClassifyError_KeywordFallback(t *testing.T) {
	cases := []struct {
		msg         string
		wantKind    ErrorKind
		shouldRetry bool
	}{
		{"Rate limit exceeded, retry later", KindRateLimit, true},
		{"too many requests", KindRateLimit, true},
		{"unauthorized: invalid token", KindAuth, false},
		{"expired token", KindAuth, false},
		{"permission denied for resource", KindPermission, false},
		{"access denied", KindPermission, false},
		{"validation failed: missing required field", KindValidation, false},
		{"media upload failed", KindUpload, true},
		{"dial tcp 10.0.0.1:443: i/o timeout", KindNetwork, true},
		{"connection reset by peer", KindNetwork, true},
		{"internal server error", KindServer, true},
		{"service unavailable", KindServer, true},
		{"something inexplicable happened", KindUnknown, true},
	}

	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			c := ClassifyError(errors.New(tc.msg), 0)
			assert.Equal(t, tc.wantKind, c.Kind)
			assert.Equal(t, tc.shouldRetry, c.ShouldRetry)
		})
	}
}

// "invalid token" must classify as auth, not validation
func TestClassifyError_AuthBeforeValidation(t *testing.T) {
	c := ClassifyError(errors.New("invalid token supplied"), 0)
	assert.Equal(t, KindAuth, c.Kind)
}

// Context errors behave like network failures
func TestClassifyError_ContextErrors(t *testing.T) {
	c := ClassifyError(context.DeadlineExceeded, 0)
	assert.Equal(t, KindNetwork, c.Kind)
	assert.True(t, c.ShouldRetry)

	c = ClassifyError(context.Canceled, 0)
	assert.Equal(t, KindNetwork, c.Kind)
}

// Rate limit backoff grows exponentially with jitter, capped at the max
func TestClassifyError_RateLimitBackoff(t *testing.T) {
	for attempt := 0; attempt < 6; attempt++ {
		c := ClassifyError(&APIError{StatusCode: 429}, attempt)

		nominal := rateLimitBaseDelay << uint(attempt)
		if nominal > rateLimitMaxDelay || nominal <= 0 {
			nominal = rateLimitMaxDelay
		}

		// ±20% jitter band
		assert.GreaterOrEqual(t, c.Delay, time.Duration(float64(nominal)*0.8),
			"attempt %d delay below jitter band", attempt)
		assert.LessOrEqual(t, c.Delay, time.Duration(float64(nominal)*1.2),
			"attempt %d delay above jitter band", attempt)
	}
}

// Network backoff is linear and capped
func TestClassifyError_NetworkBackoff(t *testing.T) {
	c := ClassifyError(context.DeadlineExceeded, 0)
	assert.Equal(t, 5*time.Second, c.Delay)

	c = ClassifyError(context.DeadlineExceeded, 2)
	assert.Equal(t, 15*time.Second, c.Delay)

	c = ClassifyError(context.DeadlineExceeded, 10)
	assert.Equal(t, networkMaxDelay, c.Delay)
}

// Unknown errors get exactly one retry
func TestClassifyError_UnknownSingleRetry(t *testing.T) {
	err := errors.New("weird failure")

	c := ClassifyError(err, 0)
	assert.Equal(t, KindUnknown, c.Kind)
	assert.True(t, c.ShouldRetry)

	c = ClassifyError(err, 1)
	assert.False(t, c.ShouldRetry)
}

// Nil error classifies as unknown, no retry
func TestClassifyError_Nil(t *testing.T) {
	c := ClassifyError(nil, 0)
	assert.Equal(t, KindUnknown, c.Kind)
	assert.False(t, c.ShouldRetry)
}

// Wrapped APIError still classifies by status
func TestClassifyError_WrappedAPIError(t *testing.T) {
	err := fmt.Errorf("calling ad platform: %w", &APIError{StatusCode: 429})
	c := ClassifyError(err, 0)
	assert.Equal(t, KindRateLimit, c.Kind)
}
