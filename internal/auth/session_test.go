package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FairForge/trailload/internal/client"
)

var testNames = Names{
	SessionCookie:  "rota_session",
	SessionAliases: []string{"session"},
	CSRFCookie:     "rota_csrf",
	CSRFAliases:    []string{"csrf_token", "XSRF-TOKEN"},
	CSRFHeader:     "X-CSRF-Token",
}

func fetch(t *testing.T, handler http.HandlerFunc) *client.Response {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	resp := client.New(client.Options{BaseURL: srv.URL}).Get(context.Background(), "/", nil)
	require.NoError(t, resp.Err)
	return resp
}

func TestExtract(t *testing.T) {
	t.Run("primary names and header token", func(t *testing.T) {
		resp := fetch(t, func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "rota_session", Value: "s1"})
			http.SetCookie(w, &http.Cookie{Name: "rota_csrf", Value: "c1"})
			w.Header().Set("X-CSRF-Token", "h1")
		})

		session := Extract(resp, testNames)

		assert.Equal(t, "s1", session.SessionCookieValue)
		assert.Equal(t, "c1", session.CSRFCookieValue)
		assert.Equal(t, "h1", session.CSRFToken())
		assert.Equal(t, "rota_session=s1; rota_csrf=c1", session.CookieHeader())
	})

	t.Run("last Set-Cookie for a name wins", func(t *testing.T) {
		resp := fetch(t, func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "rota_session", Value: "old"})
			http.SetCookie(w, &http.Cookie{Name: "rota_session", Value: "new"})
		})

		assert.Equal(t, "new", Extract(resp, testNames).SessionCookieValue)
	})

	t.Run("aliases and cookie fallback for the token", func(t *testing.T) {
		resp := fetch(t, func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s2"})
			http.SetCookie(w, &http.Cookie{Name: "XSRF-TOKEN", Value: "c2"})
		})

		session := Extract(resp, testNames)

		assert.Equal(t, "session", session.SessionCookieName)
		assert.Equal(t, "XSRF-TOKEN", session.CSRFCookieName)
		assert.Equal(t, "c2", session.CSRFToken())
		assert.Equal(t, "session=s2; XSRF-TOKEN=c2", session.CookieHeader())
	})

	t.Run("substring heuristic", func(t *testing.T) {
		resp := fetch(t, func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: "app_session_id", Value: "s3"})
			http.SetCookie(w, &http.Cookie{Name: "my_csrf", Value: "c3"})
			w.Header().Set("X-XSRF-Token", "h3")
		})

		session := Extract(resp, testNames)

		assert.Equal(t, "app_session_id", session.SessionCookieName)
		assert.Equal(t, "my_csrf", session.CSRFCookieName)
		assert.Equal(t, "h3", session.CSRFToken())
	})

	t.Run("no cookies", func(t *testing.T) {
		resp := fetch(t, func(w http.ResponseWriter, r *http.Request) {})

		session := Extract(resp, testNames)

		assert.False(t, session.HasSession())
		assert.Empty(t, session.CookieHeader())
		assert.Equal(t, "rota_csrf", session.CSRFCookieName)
	})
}

func TestContext_Rotate(t *testing.T) {
	t.Run("replaces the token and appends the csrf cookie once", func(t *testing.T) {
		session := NewContext("rota_session", "s", "rota_csrf", "", "")

		session.Rotate("t1", "rota_session=s")
		session.Rotate("t2", "rota_session=s")

		assert.Equal(t, "t2", session.CSRFToken())
		assert.Equal(t, "rota_session=s; rota_csrf=t1", session.CookieHeader())
	})

	t.Run("leaves the header alone when the request carried the cookie", func(t *testing.T) {
		session := NewContext("rota_session", "s", "rota_csrf", "c", "c")

		session.Rotate("t1", session.CookieHeader())

		assert.Equal(t, "t1", session.CSRFToken())
		assert.Equal(t, "rota_session=s; rota_csrf=c", session.CookieHeader())
	})

	t.Run("empty token is ignored", func(t *testing.T) {
		session := NewContext("rota_session", "s", "rota_csrf", "c", "c")
		session.Rotate("", "")
		assert.Equal(t, "c", session.CSRFToken())
	})

	t.Run("concurrent rotation keeps one csrf cookie", func(t *testing.T) {
		session := NewContext("rota_session", "s", "rota_csrf", "", "")

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				session.Rotate("tok", "rota_session=s")
			}()
		}
		wg.Wait()

		assert.Equal(t, "rota_session=s; rota_csrf=tok", session.CookieHeader())
	})

	t.Run("nil context is safe", func(t *testing.T) {
		var session *Context
		assert.NotPanics(t, func() { session.Rotate("t", "x") })
		assert.Empty(t, session.CSRFToken())
		assert.False(t, session.HasSession())
	})
}
