// internal/scenario/setup.go
package scenario

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/ratelimit"
)

// enrollPause separates setup enrollment from the first scheduled request.
const enrollPause = 100 * time.Millisecond

// SetupOptions selects the optional setup steps.
type SetupOptions struct {
	// VerifyRateLimit runs the login throttle check before load starts.
	VerifyRateLimit bool
	// LoginPoolRPS sizes a pool of disposable accounts for auth_login.
	// Zero builds no pool.
	LoginPoolRPS int
}

// Setup establishes the primary session, hydrates the dataset, enrolls
// the session in the discovered trail and runs the optional steps. Any
// returned error is fatal to the run.
func (h *Harness) Setup(ctx context.Context, opts SetupOptions) (*endpoint.RunContext, error) {
	session, cred, err := h.bootstrapper.EnsureUserCredentials(ctx)
	if err != nil {
		return nil, err
	}

	rc := &endpoint.RunContext{
		Auth:        session,
		Credentials: cred,
		Dataset:     h.hydrator.Hydrate(ctx, session),
	}

	if err := h.enroll(ctx, rc); err != nil {
		return nil, err
	}

	if opts.VerifyRateLimit {
		result, err := ratelimit.NewVerifier(h.bootstrapper, h.cfg, h.logger).Verify(ctx)
		if err != nil {
			return nil, err
		}
		rc.RateLimitVerification = result
	}

	if opts.LoginPoolRPS > 0 {
		size := auth.PoolSize(h.cfg, opts.LoginPoolRPS)
		pool, err := h.bootstrapper.BuildLoginPool(ctx, cred, size)
		if err != nil {
			return nil, err
		}
		rc.LoginPool = pool
	}
	return rc, nil
}

// enroll makes per-user progress reads meaningful. A rejected enrollment
// is logged and the run continues; those reads then count as failures.
func (h *Harness) enroll(ctx context.Context, rc *endpoint.RunContext) error {
	token := rc.Auth.CSRFToken()
	if rc.Dataset.TrailID == "" || rc.Auth.CookieHeader() == "" || token == "" {
		return nil
	}

	csrfHeader := h.bootstrapper.Names().CSRFHeader
	if csrfHeader == "" {
		csrfHeader = "X-CSRF-Token"
	}
	resp := h.client.Do(ctx, client.Request{
		Method: http.MethodPost,
		Path:   "/user-trails/" + rc.Dataset.TrailID + "/enroll",
		Headers: map[string]string{
			"Accept":   "application/json",
			"Cookie":   rc.Auth.CookieHeader(),
			csrfHeader: token,
		},
	})
	if !resp.OK() {
		h.logger.Warn("setup enrollment rejected",
			zap.String("trail_id", rc.Dataset.TrailID),
			zap.Int("status", resp.Status),
			zap.Error(resp.Err))
	}

	if err := client.Sleep(ctx, enrollPause); err != nil {
		return fmt.Errorf("scenario: setup interrupted: %w", err)
	}
	return nil
}
