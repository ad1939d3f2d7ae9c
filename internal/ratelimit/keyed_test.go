// internal/ratelimit/keyed_test.go
package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyedLimiter(t *testing.T) {
	t.Run("allows max attempts then reports retry-after", func(t *testing.T) {
		// Arrange
		now := time.Unix(1_700_000_000, 0)
		kl := NewKeyedLimiter(5, time.Minute)
		kl.now = func() time.Time { return now }

		// Act
		for i := 0; i < 5; i++ {
			ok, _ := kl.Allow("a@example.com")
			assert.True(t, ok, "attempt %d", i)
		}
		ok, retryAfter := kl.Allow("a@example.com")

		// Assert
		assert.False(t, ok)
		assert.Equal(t, 12, retryAfter)
	})

	t.Run("keys are independent", func(t *testing.T) {
		kl := NewKeyedLimiter(1, time.Minute)

		ok, _ := kl.Allow("a")
		assert.True(t, ok)
		ok, _ = kl.Allow("a")
		assert.False(t, ok)
		ok, _ = kl.Allow("b")
		assert.True(t, ok)
	})

	t.Run("refills over the window", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		kl := NewKeyedLimiter(2, 10*time.Second)
		kl.now = func() time.Time { return now }

		kl.Allow("k")
		kl.Allow("k")
		ok, _ := kl.Allow("k")
		assert.False(t, ok)

		now = now.Add(5 * time.Second)
		ok, _ = kl.Allow("k")
		assert.True(t, ok)
	})

	t.Run("denied attempts do not consume the bucket", func(t *testing.T) {
		now := time.Unix(1_700_000_000, 0)
		kl := NewKeyedLimiter(1, 10*time.Second)
		kl.now = func() time.Time { return now }

		kl.Allow("k")
		for i := 0; i < 5; i++ {
			kl.Allow("k")
		}
		now = now.Add(10 * time.Second)
		ok, _ := kl.Allow("k")
		assert.True(t, ok)
	})

	t.Run("info and reset", func(t *testing.T) {
		kl := NewKeyedLimiter(3, time.Minute)
		kl.Allow("k")

		info := kl.Info("k")
		assert.Equal(t, 3, info.Limit)
		assert.Equal(t, 2, info.Remaining)

		kl.Reset("k")
		assert.Equal(t, 3, kl.Info("k").Remaining)
	})
}

func TestFormatRateLimitError(t *testing.T) {
	w := httptest.NewRecorder()
	SetHeaders(w, RateLimitInfo{Limit: 5, Remaining: 0, Reset: 42})
	FormatRateLimitError(w, 30)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "30", w.Header().Get("Retry-After"))
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))
	assert.JSONEq(t, `{"error":"Too many login attempts","retry_after":30}`, w.Body.String())
}
