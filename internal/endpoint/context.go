// internal/endpoint/context.go
package endpoint

import (
	"strings"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/dataset"
	"github.com/FairForge/trailload/internal/ratelimit"
)

// RunContext is built once by setup and shared by every iteration. Only
// the CSRF cells inside Auth change afterwards.
type RunContext struct {
	Auth                  *auth.Context
	Credentials           auth.Credential
	LoginPool             []auth.Credential
	Dataset               dataset.Dataset
	RateLimitVerification *ratelimit.Verification
}

// Call identifies the iteration issuing a request.
type Call struct {
	VU        int
	Iteration int
	Scenario  string
	Tags      map[string]string
}

// Tag returns a scenario tag or "".
func (c Call) Tag(name string) string {
	return c.Tags[name]
}

// Lookup resolves a dotted requirement path and reports whether the value
// is present and non-empty. Unknown paths resolve to false.
func (rc *RunContext) Lookup(path string) bool {
	if rc == nil {
		return false
	}
	root, field, _ := strings.Cut(path, ".")
	switch root {
	case "dataset":
		if field == "" {
			return true
		}
		return rc.Dataset.Has(field)
	case "auth":
		switch field {
		case "":
			return rc.Auth != nil
		case "cookieHeader":
			return rc.Auth.CookieHeader() != ""
		case "csrfToken":
			return rc.Auth.CSRFToken() != ""
		case "sessionCookie":
			return rc.Auth.HasSession()
		}
	case "credentials":
		switch field {
		case "", "email":
			return rc.Credentials.Email != ""
		case "password":
			return rc.Credentials.Password != ""
		case "username":
			return rc.Credentials.Username != ""
		}
	case "loginPool":
		return len(rc.LoginPool) > 0
	case "rateLimitVerification":
		return rc.RateLimitVerification != nil
	}
	return false
}

// Credential picks the login identity for a call: the pool entry at
// (iteration + vu) when a pool exists, otherwise the primary account.
func (rc *RunContext) Credential(call Call) auth.Credential {
	if cred, ok := auth.Pick(rc.LoginPool, call.Iteration, call.VU); ok {
		return cred
	}
	return rc.Credentials
}
