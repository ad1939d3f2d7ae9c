// Package auth obtains and maintains the synthetic identities a load run
// uses: one primary session with its CSRF credentials, and optionally a
// pool of disposable accounts for login-heavy scenarios.
package auth

import (
	"strings"
	"sync/atomic"

	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/config"
)

// Credential is an immutable account identity.
type Credential struct {
	Email    string `json:"email"`
	Password string `json:"-"`
	Username string `json:"username"`
}

// Names lists where session and CSRF credentials may appear in a response.
type Names struct {
	SessionCookie  string
	SessionAliases []string
	CSRFCookie     string
	CSRFAliases    []string
	CSRFHeader     string
}

// NamesFromConfig reads cookie and header names from the auth section.
func NamesFromConfig(cfg *config.AuthConfig) Names {
	return Names{
		SessionCookie:  cfg.SessionCookieName,
		SessionAliases: cfg.SessionCookieAliases,
		CSRFCookie:     cfg.CSRFCookieName,
		CSRFAliases:    cfg.CSRFCookieAliases,
		CSRFHeader:     cfg.CSRFHeaderName,
	}
}

// CSRFHeaders returns the header names a CSRF token may arrive under.
func (n Names) CSRFHeaders() []string {
	headers := make([]string, 0, 3)
	if n.CSRFHeader != "" {
		headers = append(headers, n.CSRFHeader)
	}
	return append(headers, "X-CSRF-Token", "X-XSRF-Token")
}

// Context is the session shared by every worker of a run. The cookie names
// and values are fixed once extracted; the CSRF token and the serialized
// Cookie header may be replaced concurrently by Rotate, last writer wins.
type Context struct {
	SessionCookieName  string
	SessionCookieValue string
	CSRFCookieName     string
	CSRFCookieValue    string

	csrfToken    atomic.Pointer[string]
	cookieHeader atomic.Pointer[string]
}

// NewContext builds a context from already-known credentials.
func NewContext(sessionName, sessionValue, csrfName, csrfValue, token string) *Context {
	c := &Context{
		SessionCookieName:  sessionName,
		SessionCookieValue: sessionValue,
		CSRFCookieName:     csrfName,
		CSRFCookieValue:    csrfValue,
	}
	parts := make([]string, 0, 2)
	if sessionValue != "" {
		parts = append(parts, sessionName+"="+sessionValue)
	}
	if csrfValue != "" {
		parts = append(parts, csrfName+"="+csrfValue)
	}
	header := strings.Join(parts, "; ")
	c.cookieHeader.Store(&header)
	c.csrfToken.Store(&token)
	return c
}

// CSRFToken returns the current token, or "" when none is known.
func (c *Context) CSRFToken() string {
	if c == nil {
		return ""
	}
	if p := c.csrfToken.Load(); p != nil {
		return *p
	}
	return ""
}

// CookieHeader returns the current serialized Cookie header.
func (c *Context) CookieHeader() string {
	if c == nil {
		return ""
	}
	if p := c.cookieHeader.Load(); p != nil {
		return *p
	}
	return ""
}

// HasSession reports whether a session cookie was obtained.
func (c *Context) HasSession() bool {
	return c != nil && c.SessionCookieValue != ""
}

// Rotate installs a fresher CSRF token. When the Cookie header sent with
// the request that produced it carried no CSRF cookie, the token is also
// appended to the shared header as that cookie.
func (c *Context) Rotate(token, outgoingCookie string) {
	if c == nil || token == "" {
		return
	}
	c.csrfToken.Store(&token)

	if outgoingCookie == "" || c.CSRFCookieName == "" || strings.Contains(outgoingCookie, c.CSRFCookieName) {
		return
	}
	for {
		current := c.cookieHeader.Load()
		if current == nil || *current == "" || strings.Contains(*current, c.CSRFCookieName+"=") {
			return
		}
		next := *current + "; " + c.CSRFCookieName + "=" + token
		if c.cookieHeader.CompareAndSwap(current, &next) {
			return
		}
	}
}

// Extract reads the session from a login or register response.
//
// Cookie lookup goes primary name, then aliases, then any cookie whose
// name contains "session" (or "csrf"/"xsrf"). The substring step can match
// unrelated cookies on an unfamiliar backend; configure aliases instead of
// relying on it.
func Extract(resp *client.Response, names Names) *Context {
	sessionName, sessionValue := findCookie(resp, names.SessionCookie, names.SessionAliases, "session")
	csrfName, csrfValue := findCookie(resp, names.CSRFCookie, names.CSRFAliases, "csrf", "xsrf")
	if csrfName == "" {
		csrfName = names.CSRFCookie
	}
	if sessionName == "" {
		sessionName = names.SessionCookie
	}

	token := resp.HeaderValue(names.CSRFHeaders()...)
	if token == "" {
		token = csrfValue
	}
	return NewContext(sessionName, sessionValue, csrfName, csrfValue, token)
}

func findCookie(resp *client.Response, primary string, aliases []string, fragments ...string) (string, string) {
	for _, name := range append([]string{primary}, aliases...) {
		if name == "" {
			continue
		}
		if v := resp.Cookie(name); v != "" {
			return name, v
		}
	}
	for _, c := range resp.Cookies() {
		lower := strings.ToLower(c.Name)
		for _, fragment := range fragments {
			if strings.Contains(lower, fragment) && c.Value != "" {
				return c.Name, resp.Cookie(c.Name)
			}
		}
	}
	return "", ""
}
