package reliability

import "time"

// IsRetryableHTTPStatus reports whether a response status should be retried.
// Only server-class failures count as transient; 4xx (including 429) fails
// the call immediately so caller bugs are never masked by the retry loop.
func IsRetryableHTTPStatus(code int) bool {
	return code >= 500
}

// IsRetryableStreamCode classifies retryable error codes carried in
// streaming `error` messages.
func IsRetryableStreamCode(code string) bool {
	switch code {
	case "rate_limited", "resource_exhausted", "queue_overflow", "upstream_unavailable":
		return true
	default:
		return false
	}
}

// ExponentialBackoff computes a deterministic capped backoff duration for a
// zero-based attempt index: base, 2*base, 4*base, ...
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
