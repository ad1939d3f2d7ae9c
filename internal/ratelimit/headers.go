// internal/ratelimit/headers.go
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// RateLimitInfo contains rate limit information
type RateLimitInfo struct {
	Limit     int   `json:"limit"`
	Remaining int   `json:"remaining"`
	Reset     int64 `json:"reset"`
}

// SetHeaders adds rate limit headers to a response
func SetHeaders(w http.ResponseWriter, info RateLimitInfo) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.Reset, 10))
}

// FormatRateLimitError formats a rate limit error response
func FormatRateLimitError(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)

	errorMsg := fmt.Sprintf(`{"error":"Too many login attempts","retry_after":%d}`, retryAfter)
	_, _ = w.Write([]byte(errorMsg))
}

// ParseRetryAfter reads a delay-seconds Retry-After value. HTTP dates are
// not accepted.
func ParseRetryAfter(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("ratelimit: Retry-After missing")
	}
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("ratelimit: Retry-After %q is not numeric", value)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("ratelimit: Retry-After %q is not positive", value)
	}
	return int(seconds + 0.999999), nil
}
