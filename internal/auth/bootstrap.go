// internal/auth/bootstrap.go
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/config"
)

// MaxLoginPool caps the number of disposable accounts registered for a run.
const MaxLoginPool = 200

// ErrNoSession means the backend accepted the credentials but set no
// session cookie.
var ErrNoSession = errors.New("auth: response carried no session cookie")

// SetupError is fatal: the run cannot obtain an identity.
type SetupError struct {
	Step   string
	Status int
	Body   string
	Err    error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s failed (status %d): %v", e.Step, e.Status, e.Err)
	}
	return fmt.Sprintf("auth: %s failed (status %d): %s", e.Step, e.Status, e.Body)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Bootstrapper registers or logs in synthetic users.
type Bootstrapper struct {
	client *client.Client
	cfg    *config.Config
	names  Names
	logger *zap.Logger
}

// NewBootstrapper creates a bootstrapper for the configured target.
func NewBootstrapper(c *client.Client, cfg *config.Config, logger *zap.Logger) *Bootstrapper {
	return &Bootstrapper{
		client: c,
		cfg:    cfg,
		names:  NamesFromConfig(&cfg.Auth),
		logger: logger,
	}
}

// Names returns the cookie and header names in use.
func (b *Bootstrapper) Names() Names {
	return b.names
}

// NewCredential generates a disposable identity with the given password.
func NewCredential(password string) Credential {
	id := uuid.NewString()
	return Credential{
		Email:    "perf-" + id + "@example.com",
		Password: password,
		Username: "perf_" + strings.ReplaceAll(id, "-", "")[:12],
	}
}

// PrimaryCredential returns the configured identity, generating the
// missing parts.
func (b *Bootstrapper) PrimaryCredential() Credential {
	cred := Credential{
		Email:    b.cfg.Auth.Email,
		Password: b.cfg.Auth.Password,
		Username: b.cfg.Auth.Username,
	}
	if cred.Email == "" {
		generated := NewCredential(cred.Password)
		cred.Email = generated.Email
		if cred.Username == "" {
			cred.Username = generated.Username
		}
	}
	if cred.Username == "" {
		cred.Username, _, _ = strings.Cut(cred.Email, "@")
	}
	return cred
}

// EnsureUserCredentials obtains the primary session: register first, and
// on 409 log in with the same credentials.
func (b *Bootstrapper) EnsureUserCredentials(ctx context.Context) (*Context, Credential, error) {
	cred := b.PrimaryCredential()

	resp := b.Register(ctx, cred)
	step := "register"
	if resp.Status == http.StatusConflict {
		b.logger.Info("account exists, logging in", zap.String("email", cred.Email))
		resp = b.Login(ctx, cred)
		step = "login"
	}
	if resp.Err != nil || resp.Status == 0 || resp.Status >= 400 {
		return nil, cred, &SetupError{Step: step, Status: resp.Status, Body: resp.Snippet(256), Err: resp.Err}
	}

	session := Extract(resp, b.names)
	if !session.HasSession() {
		return nil, cred, &SetupError{Step: step, Status: resp.Status, Err: ErrNoSession}
	}

	b.logger.Info("session established",
		zap.String("email", cred.Email),
		zap.String("step", step),
		zap.String("session_cookie", session.SessionCookieName),
		zap.Bool("csrf_token", session.CSRFToken() != ""))
	return session, cred, nil
}

// Register posts /auth/register for cred.
func (b *Bootstrapper) Register(ctx context.Context, cred Credential) *client.Response {
	body, _ := json.Marshal(map[string]any{
		"email":                cred.Email,
		"password":             cred.Password,
		"name_for_certificate": "Performance Tester",
		"username":             cred.Username,
		"sex":                  "M",
		"role":                 "User",
		"birthday":             "1990-01-01",
		"remember":             true,
	})
	return b.client.PostJSON(ctx, "/auth/register", body, nil)
}

// Login posts /auth/login for cred.
func (b *Bootstrapper) Login(ctx context.Context, cred Credential) *client.Response {
	return b.client.PostJSON(ctx, "/auth/login", LoginBody(cred), nil)
}

// LoginBody is the JSON payload of a login request.
func LoginBody(cred Credential) []byte {
	body, _ := json.Marshal(map[string]any{
		"email":    cred.Email,
		"password": cred.Password,
		"remember": true,
	})
	return body
}

// PoolSize returns how many identities the login pool should hold. An
// explicit LoginUserPool wins; otherwise the pool is sized so that authRPS
// spread across it stays under the per-account limit with 20% headroom.
func PoolSize(cfg *config.Config, authRPS int) int {
	if cfg.Auth.LoginUserPool > 0 {
		return cfg.Auth.LoginUserPool
	}
	attempts := max(1, cfg.Auth.RateLimitMaxAttempts)
	window := max(1, cfg.Auth.RateLimitWindowSeconds)

	size := int(math.Ceil(float64(authRPS) * float64(window) / float64(attempts) * 1.2))
	floor := int(math.Ceil(float64(cfg.Load.PreAllocatedVUs) / 10))
	size = max(size, floor, 1)
	return min(size, MaxLoginPool)
}

// BuildLoginPool returns primary followed by size-1 freshly registered
// accounts. Accounts the backend refuses are logged and left out.
func (b *Bootstrapper) BuildLoginPool(ctx context.Context, primary Credential, size int) ([]Credential, error) {
	pool := []Credential{primary}
	delay := time.Duration(codec.DurationToSeconds(b.cfg.Auth.RateLimitAttemptDelay) * float64(time.Second))

	for i := 1; i < size; i++ {
		cred := NewCredential(primary.Password)
		resp := b.Register(ctx, cred)
		switch {
		case resp.Err != nil || resp.Status == 0:
			b.logger.Warn("pool registration failed", zap.String("email", cred.Email), zap.Error(resp.Err))
		case resp.Status >= 400 && resp.Status != http.StatusConflict:
			b.logger.Warn("pool registration rejected",
				zap.String("email", cred.Email), zap.Int("status", resp.Status))
		default:
			pool = append(pool, cred)
		}

		if err := client.Sleep(ctx, delay); err != nil {
			return pool, fmt.Errorf("auth: building login pool: %w", err)
		}
	}

	b.logger.Info("login pool ready", zap.Int("requested", size), zap.Int("size", len(pool)))
	return pool, nil
}

// Pick selects the pool entry for an iteration.
func Pick(pool []Credential, iteration, vu int) (Credential, bool) {
	if len(pool) == 0 {
		return Credential{}, false
	}
	idx := (iteration + vu) % len(pool)
	if idx < 0 {
		idx += len(pool)
	}
	return pool[idx], true
}
