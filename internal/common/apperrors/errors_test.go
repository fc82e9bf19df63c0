package apperrors

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"validation", Validation("bad input"), ClassValidation},
		{"authentication", Authentication("bad token"), ClassAuthentication},
		{"unavailable", Unavailable("down"), ClassProviderUnavailable},
		{"rate limit", RateLimited(time.Second, "slow down"), ClassRateLimit},
		{"conflict", Conflict("busy"), ClassConflict},
		{"not found", NotFound("gone"), ClassNotFound},
		{"webhook", WebhookVerification("bad sig"), ClassWebhookVerification},
		{"wrapped by fmt", fmt.Errorf("context: %w", Conflict("busy")), ClassConflict},
		{"untyped", errors.New("plain"), Class("")},
		{"nil", nil, Class("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Unavailable("down")))
	assert.True(t, IsRetryable(RateLimited(0, "slow down")))
	assert.False(t, IsRetryable(Authentication("bad token")))
	assert.False(t, IsRetryable(Validation("bad input")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestIsPermanentAuth(t *testing.T) {
	expired := Authentication("token expired")
	assert.False(t, IsPermanentAuth(expired))

	revoked := Authentication("invalid_grant")
	revoked.Permanent = true
	assert.True(t, IsPermanentAuth(revoked))

	// Permanent on a non-auth class means nothing.
	odd := Validation("bad input")
	odd.Permanent = true
	assert.False(t, IsPermanentAuth(odd))
}

func TestRetryAfterOf(t *testing.T) {
	assert.Equal(t, 30*time.Second, RetryAfterOf(RateLimited(30*time.Second, "slow down")))
	assert.Equal(t, time.Duration(0), RetryAfterOf(Unavailable("down")))
	assert.Equal(t, time.Duration(0), RetryAfterOf(errors.New("plain")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ClassProviderUnavailable, cause, "keeptruckin unreachable")

	assert.True(t, IsUnavailable(err))
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "keeptruckin unreachable")
	assert.Contains(t, err.Error(), "connection refused")
}
