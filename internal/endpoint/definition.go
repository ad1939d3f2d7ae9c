// Package endpoint holds the declarative table of backend endpoints and
// the single executor that resolves their prerequisites, issues them and
// records what happened.
package endpoint

import (
	"sort"
)

// Phase classifies traffic for failure accounting and scheduling.
type Phase string

const (
	PhaseRead  Phase = "read"
	PhaseWrite Phase = "write"
	PhaseAuth  Phase = "auth"
)

// StatusRule decides whether a response status is acceptable.
type StatusRule func(status int) bool

// DefaultStatusRule accepts any completed exchange below 400.
func DefaultStatusRule(status int) bool {
	return status > 0 && status < 400
}

// AllowStatuses accepts exactly the given statuses.
func AllowStatuses(codes ...int) StatusRule {
	allowed := make(map[int]struct{}, len(codes))
	for _, c := range codes {
		allowed[c] = struct{}{}
	}
	return func(status int) bool {
		_, ok := allowed[status]
		return ok
	}
}

// Definition describes one endpoint. Adding an endpoint to the harness is
// adding one of these to the registry.
type Definition struct {
	Key          string
	Name         string
	Method       string
	Path         func(rc *RunContext) string
	Requires     []string
	AuthRequired bool
	RequireCSRF  bool
	Headers      map[string]string
	Body         func(rc *RunContext, call Call) ([]byte, error)
	Acceptable   StatusRule
	Phase        Phase
}

// Accepts applies the endpoint's status rule.
func (d *Definition) Accepts(status int) bool {
	if status <= 0 {
		return false
	}
	if d.Acceptable != nil {
		return d.Acceptable(status)
	}
	return DefaultStatusRule(status)
}

// Registry maps endpoint keys to definitions. It is built once and never
// mutated afterwards.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry indexes defs by key.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]*Definition, len(defs))}
	for i := range defs {
		d := defs[i]
		r.defs[d.Key] = &d
	}
	return r
}

// Get returns the definition for key.
func (r *Registry) Get(key string) (*Definition, bool) {
	d, ok := r.defs[key]
	return d, ok
}

// Keys returns every key in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.defs))
	for k := range r.defs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
