// internal/client/response.go
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Response is the typed view of an HTTP exchange.
type Response struct {
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
	Err      error

	cookies []*http.Cookie
}

// HeaderValue looks up a header case-insensitively, trying each name in
// order and returning the first non-empty value.
func (r *Response) HeaderValue(names ...string) string {
	if r == nil || r.Header == nil {
		return ""
	}
	for _, name := range names {
		if v := r.Header.Get(name); v != "" {
			return v
		}
		// Header.Get canonicalizes; tolerate servers that bypass it.
		for k, values := range r.Header {
			if strings.EqualFold(k, name) && len(values) > 0 && values[0] != "" {
				return values[0]
			}
		}
	}
	return ""
}

// Cookies returns the cookies set by the response in header order.
func (r *Response) Cookies() []*http.Cookie {
	if r == nil {
		return nil
	}
	return r.cookies
}

// Cookie returns the value of the last Set-Cookie for name.
func (r *Response) Cookie(name string) string {
	if r == nil {
		return ""
	}
	value := ""
	for _, c := range r.cookies {
		if c.Name == name {
			value = c.Value
		}
	}
	return value
}

// OK reports whether the exchange completed with a status below 400.
func (r *Response) OK() bool {
	return r != nil && r.Err == nil && r.Status > 0 && r.Status < 400
}

// JSON decodes the body into v.
func (r *Response) JSON(v any) error {
	if r == nil {
		return errors.New("client: nil response")
	}
	if len(r.Body) == 0 {
		return errors.New("client: empty body")
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("client: decode body: %w", err)
	}
	return nil
}

// Snippet returns at most n bytes of the body for log messages.
func (r *Response) Snippet(n int) string {
	if r == nil {
		return ""
	}
	if len(r.Body) <= n {
		return string(r.Body)
	}
	return string(r.Body[:n]) + "..."
}
