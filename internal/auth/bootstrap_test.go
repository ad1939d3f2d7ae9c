package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/config"
)

func newTestBootstrapper(t *testing.T, handler http.Handler) (*Bootstrapper, *config.Config) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.Default()
	cfg.Target.BaseURL = srv.URL
	cfg.Auth.RateLimitAttemptDelay = "0s"
	c := client.New(client.Options{BaseURL: srv.URL})
	return NewBootstrapper(c, cfg, zap.NewNop()), cfg
}

func setSession(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{Name: "rota_session", Value: "sess"})
	http.SetCookie(w, &http.Cookie{Name: "rota_csrf", Value: "csrf"})
	w.Header().Set("X-CSRF-Token", "csrf")
}

func TestEnsureUserCredentials(t *testing.T) {
	t.Run("registers a generated user", func(t *testing.T) {
		var registered map[string]any
		b, _ := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/register", r.URL.Path)
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&registered))
			setSession(w)
			w.WriteHeader(http.StatusCreated)
		}))

		session, cred, err := b.EnsureUserCredentials(context.Background())

		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(cred.Email, "perf-"))
		assert.True(t, strings.HasSuffix(cred.Email, "@example.com"))
		assert.Equal(t, cred.Email, registered["email"])
		assert.Equal(t, "PerfTest@123", registered["password"])
		assert.Equal(t, "rota_session=sess; rota_csrf=csrf", session.CookieHeader())
	})

	t.Run("falls back to login on 409 with the same credentials", func(t *testing.T) {
		// Arrange
		var loginBody map[string]any
		b, cfg := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/auth/register":
				w.WriteHeader(http.StatusConflict)
			case "/auth/login":
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&loginBody))
				setSession(w)
			}
		}))
		cfg.Auth.Email = "known@example.com"

		// Act
		session, cred, err := b.EnsureUserCredentials(context.Background())

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "known@example.com", loginBody["email"])
		assert.Equal(t, cfg.Auth.Password, loginBody["password"])
		assert.Equal(t, true, loginBody["remember"])
		assert.Equal(t, "known", cred.Username)
		assert.NotEmpty(t, session.CookieHeader())
		assert.Equal(t, "csrf", session.CSRFToken())
	})

	t.Run("aborts when the fallback login fails", func(t *testing.T) {
		b, _ := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/auth/register" {
				w.WriteHeader(http.StatusConflict)
				return
			}
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
		}))

		session, _, err := b.EnsureUserCredentials(context.Background())

		assert.Nil(t, session)
		var setupErr *SetupError
		require.True(t, errors.As(err, &setupErr))
		assert.Equal(t, "login", setupErr.Step)
		assert.Equal(t, http.StatusUnauthorized, setupErr.Status)
	})

	t.Run("aborts on other register failures", func(t *testing.T) {
		b, _ := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))

		_, _, err := b.EnsureUserCredentials(context.Background())

		var setupErr *SetupError
		require.True(t, errors.As(err, &setupErr))
		assert.Equal(t, "register", setupErr.Step)
		assert.Contains(t, setupErr.Body, "boom")
	})

	t.Run("aborts when no session cookie is set", func(t *testing.T) {
		b, _ := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))

		_, _, err := b.EnsureUserCredentials(context.Background())

		assert.ErrorIs(t, err, ErrNoSession)
	})
}

func TestPoolSize(t *testing.T) {
	cfg := config.Default()

	t.Run("derived from auth rate and limit", func(t *testing.T) {
		// 2 rps * 60s / 5 attempts * 1.2 = 28.8
		assert.Equal(t, 29, PoolSize(cfg, 2))
	})

	t.Run("floored by concurrency", func(t *testing.T) {
		c := *cfg
		c.Load.PreAllocatedVUs = 95
		assert.Equal(t, 10, PoolSize(&c, 0))
	})

	t.Run("capped", func(t *testing.T) {
		assert.Equal(t, MaxLoginPool, PoolSize(cfg, 1000))
	})

	t.Run("explicit size wins", func(t *testing.T) {
		c := *cfg
		c.Auth.LoginUserPool = 3
		assert.Equal(t, 3, PoolSize(&c, 1000))
	})
}

func TestBuildLoginPool(t *testing.T) {
	var calls atomic.Int32
	b, _ := newTestBootstrapper(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	primary := Credential{Email: "primary@example.com", Password: "pw"}

	pool, err := b.BuildLoginPool(context.Background(), primary, 4)

	require.NoError(t, err)
	assert.Len(t, pool, 3)
	assert.Equal(t, primary, pool[0])
	for _, cred := range pool[1:] {
		assert.Equal(t, "pw", cred.Password)
		assert.NotEqual(t, primary.Email, cred.Email)
	}
}

func TestPick(t *testing.T) {
	pool := []Credential{{Email: "a"}, {Email: "b"}, {Email: "c"}}

	cred, ok := Pick(pool, 4, 1)
	require.True(t, ok)
	assert.Equal(t, "c", cred.Email)

	_, ok = Pick(nil, 0, 0)
	assert.False(t, ok)
}
