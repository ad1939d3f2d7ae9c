// Package ratelimit verifies the backend's login throttle and provides the
// keyed limiter the sandbox backend enforces it with.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/config"
)

// ExtraAttempts is how many logins past the limit the verifier tries.
const ExtraAttempts = 3

// Verification is the outcome of a throttle check.
type Verification struct {
	Email             string `json:"email"`
	Limit             int    `json:"limit"`
	Attempts          int    `json:"attempts"`
	Successes         int    `json:"successes"`
	Limited           int    `json:"limited"`
	FirstLimitedAt    int    `json:"first_limited_at"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Statuses          []int  `json:"statuses"`
}

// VerificationError is fatal: the throttle is missing or malformed.
type VerificationError struct {
	Reason string
	Result *Verification
}

func (e *VerificationError) Error() string {
	return "ratelimit: verification failed: " + e.Reason
}

// Verifier drives sequential logins for one disposable account.
type Verifier struct {
	bootstrapper *auth.Bootstrapper
	limit        int
	delay        time.Duration
	logger       *zap.Logger
}

// NewVerifier creates a verifier using the configured attempt budget.
func NewVerifier(b *auth.Bootstrapper, cfg *config.Config, logger *zap.Logger) *Verifier {
	return &Verifier{
		bootstrapper: b,
		limit:        cfg.Auth.RateLimitMaxAttempts,
		delay:        time.Duration(codec.DurationToSeconds(cfg.Auth.RateLimitAttemptDelay) * float64(time.Second)),
		logger:       logger,
	}
}

// Verify registers a throwaway account and logs in with it up to
// limit+3 times. The throttle must first answer 429 at a 0-based attempt
// index of at least limit, with a positive numeric Retry-After, and no
// status other than 200 and 429 may appear.
func (v *Verifier) Verify(ctx context.Context) (*Verification, error) {
	cred := auth.NewCredential(v.bootstrapper.PrimaryCredential().Password)
	result := &Verification{Email: cred.Email, Limit: v.limit, FirstLimitedAt: -1}

	resp := v.bootstrapper.Register(ctx, cred)
	if resp.Err != nil || resp.Status == 0 || resp.Status >= 400 {
		return result, &VerificationError{
			Reason: fmt.Sprintf("could not register disposable account (status %d)", resp.Status),
			Result: result,
		}
	}

	budget := v.limit + ExtraAttempts
	for i := 0; i < budget; i++ {
		if i > 0 {
			if err := client.Sleep(ctx, v.delay); err != nil {
				return result, fmt.Errorf("ratelimit: verification interrupted: %w", err)
			}
		}

		resp := v.bootstrapper.Login(ctx, cred)
		result.Attempts++
		result.Statuses = append(result.Statuses, resp.Status)

		switch resp.Status {
		case http.StatusOK:
			result.Successes++
		case http.StatusTooManyRequests:
			result.Limited++
			if result.FirstLimitedAt >= 0 {
				continue
			}
			result.FirstLimitedAt = i
			retryAfter, err := ParseRetryAfter(resp.HeaderValue("Retry-After"))
			if err != nil {
				return result, &VerificationError{Reason: err.Error(), Result: result}
			}
			result.RetryAfterSeconds = retryAfter
		default:
			return result, &VerificationError{
				Reason: fmt.Sprintf("unexpected status %d on login attempt %d", resp.Status, i),
				Result: result,
			}
		}
	}

	if result.FirstLimitedAt < 0 {
		return result, &VerificationError{
			Reason: fmt.Sprintf("no 429 within %d login attempts", budget),
			Result: result,
		}
	}
	if result.FirstLimitedAt < v.limit {
		return result, &VerificationError{
			Reason: fmt.Sprintf("throttled at attempt %d, before the limit of %d", result.FirstLimitedAt, v.limit),
			Result: result,
		}
	}

	v.logger.Info("login rate limit verified",
		zap.Int("limit", v.limit),
		zap.Int("first_limited_at", result.FirstLimitedAt),
		zap.Int("retry_after_seconds", result.RetryAfterSeconds),
		zap.Int("successes", result.Successes),
		zap.Int("limited", result.Limited))
	return result, nil
}
