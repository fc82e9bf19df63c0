package providers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-freight/internal/common/apperrors"
)

// classifyStatus maps a provider HTTP response to the error taxonomy. Raw
// transport errors never leave the adapter boundary.
func classifyStatus(p ProviderType, status int, header http.Header, body string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e := apperrors.Authentication("%s rejected credentials (status %d)", p, status)
		if looksRevoked(body) {
			e.Permanent = true
		}
		return e
	case status == http.StatusNotFound:
		return apperrors.NotFound("%s resource not found", p)
	case status == http.StatusTooManyRequests:
		return apperrors.RateLimited(parseRetryAfter(header), "%s rate limited", p)
	case status == http.StatusRequestTimeout || status >= 500:
		return apperrors.Unavailable("%s unavailable (status %d)", p, status)
	case status >= 400:
		return apperrors.Validation("%s rejected request (status %d): %s", p, status, truncate(body, 200))
	}
	return nil
}

// classifyTransport maps network-level failures.
func classifyTransport(p ProviderType, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Wrap(apperrors.ClassProviderUnavailable, err, "%s call timed out", p)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return apperrors.Wrap(apperrors.ClassProviderUnavailable, err, "%s unreachable", p)
}

// looksRevoked detects the provider-side signals that mean the grant is gone
// for good, not merely stale.
func looksRevoked(body string) bool {
	b := strings.ToLower(body)
	return strings.Contains(b, "invalid_grant") ||
		strings.Contains(b, "revoked") ||
		strings.Contains(b, "account_disabled")
}

func parseRetryAfter(header http.Header) time.Duration {
	v := header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
