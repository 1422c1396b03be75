// Package reliability classifies transient failures and computes retry
// backoff for the gateway's outbound calls.
package reliability

import (
	"strings"
	"time"
)

// IsRetryableHTTPStatus classifies retryable HTTP status codes.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

var retryableUpstreamMarkers = []string{
	"rate limit", "rate_limited",
	"resource exhausted", "resource_exhausted",
	"queue overflow", "queue_overflow",
	"overload", "timeout", "temporar", "try again",
}

// IsRetryableUpstreamError classifies transient realtime dialog failures
// reported by the upstream speech service.
func IsRetryableUpstreamError(detail string) bool {
	detail = strings.ToLower(detail)
	if detail == "" {
		return false
	}
	for _, marker := range retryableUpstreamMarkers {
		if strings.Contains(detail, marker) {
			return true
		}
	}
	return false
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
