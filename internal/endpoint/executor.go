// internal/endpoint/executor.go
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/metrics"
)

// Outcome is what one Request call did. Skipped calls issued no request
// and count neither as requests nor as failures.
type Outcome struct {
	Skipped    bool
	SkipReason string
	Response   *client.Response
	Failed     bool
	Err        error
}

// Executor issues registry endpoints for scenario iterations.
type Executor struct {
	client   *client.Client
	registry *Registry
	metrics  *metrics.HTTP
	names    auth.Names
	logger   *zap.Logger

	skipNotices sync.Map
}

// NewExecutor creates an executor recording into m.
func NewExecutor(c *client.Client, registry *Registry, m *metrics.HTTP, names auth.Names, logger *zap.Logger) *Executor {
	return &Executor{
		client:   c,
		registry: registry,
		metrics:  m,
		names:    names,
		logger:   logger,
	}
}

// Registry returns the endpoint table in use.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Request runs endpoint key for one iteration. An unknown key is a
// programming error and panics.
func (e *Executor) Request(ctx context.Context, key string, rc *RunContext, call Call) Outcome {
	def, ok := e.registry.Get(key)
	if !ok {
		panic(fmt.Sprintf("endpoint: unknown endpoint key %q", key))
	}

	for _, requirement := range def.Requires {
		if !rc.Lookup(requirement) {
			return e.skip(def, "missing requirement "+requirement)
		}
	}

	headers := map[string]string{"Accept": "application/json"}
	for k, v := range def.Headers {
		headers[k] = v
	}
	var outgoingCookie string
	if def.AuthRequired {
		outgoingCookie = rc.Auth.CookieHeader()
		if outgoingCookie == "" {
			return e.skip(def, "authentication is required but no session is available")
		}
		headers["Cookie"] = outgoingCookie
		if def.RequireCSRF {
			token := rc.Auth.CSRFToken()
			if token == "" {
				return e.skip(def, "a CSRF token is required but none is available")
			}
			headers[e.csrfHeader()] = token
		}
	}

	var body []byte
	if def.Body != nil {
		var err error
		body, err = def.Body(rc, call)
		if err != nil {
			e.logger.Error("building request body", zap.String("endpoint", def.Name), zap.Error(err))
			e.recordFailure(def, call, "error")
			return Outcome{Failed: true, Err: fmt.Errorf("endpoint %s: body: %w", key, err)}
		}
		if _, set := headers["Content-Type"]; !set {
			headers["Content-Type"] = "application/json"
		}
	}

	resp := e.client.Do(ctx, client.Request{
		Method:  def.Method,
		Path:    def.Path(rc),
		Headers: headers,
		Body:    body,
	})

	// A request cut off by graceful stop or an abort is not a backend
	// failure; it is dropped from the metrics.
	if resp.Err != nil && ctx.Err() != nil && errors.Is(resp.Err, context.Canceled) {
		return Outcome{Skipped: true, SkipReason: "interrupted by run stop", Response: resp, Err: resp.Err}
	}

	failed := resp.Err != nil || !def.Accepts(resp.Status)
	e.record(def, call, resp, failed)

	if failed {
		status := statusLabel(resp)
		e.logger.Error("endpoint failed",
			zap.String("endpoint", def.Name),
			zap.String("status", status),
			zap.String("scenario", call.Scenario),
			zap.Error(resp.Err))
		e.recordFailure(def, call, status)
	}

	if def.AuthRequired && resp.Err == nil {
		if token := resp.HeaderValue(e.names.CSRFHeaders()...); token != "" && token != rc.Auth.CSRFToken() {
			rc.Auth.Rotate(token, outgoingCookie)
		}
	}

	return Outcome{Response: resp, Failed: failed, Err: resp.Err}
}

func (e *Executor) csrfHeader() string {
	if e.names.CSRFHeader != "" {
		return e.names.CSRFHeader
	}
	return "X-CSRF-Token"
}

// skip warns once per endpoint for the whole run.
func (e *Executor) skip(def *Definition, reason string) Outcome {
	if _, seen := e.skipNotices.LoadOrStore(def.Key, struct{}{}); !seen {
		e.logger.Warn("skipping endpoint", zap.String("endpoint", def.Name), zap.String("reason", reason))
	}
	return Outcome{Skipped: true, SkipReason: reason}
}

func (e *Executor) labels(def *Definition, call Call) metrics.Labels {
	class := call.Tag("class")
	if class == "" {
		class = string(def.Phase)
	}
	return metrics.Labels{
		"scenario": call.Scenario,
		"stage":    call.Tag("stage"),
		"class":    class,
		"endpoint": def.Name,
	}
}

func (e *Executor) record(def *Definition, call Call, resp *client.Response, failed bool) {
	labels := e.labels(def, call)
	durationMs := float64(resp.Duration.Microseconds()) / 1000
	byEndpoint := metrics.Labels{"endpoint": def.Name}

	e.metrics.Reqs.Inc(labels)
	e.metrics.Failed.Add(failed, labels)
	e.metrics.Duration.Observe(durationMs, labels)
	e.metrics.DataReceived.Add(float64(len(resp.Body)), metrics.Labels{"scenario": call.Scenario})
	e.metrics.EndpointDuration.Observe(durationMs, byEndpoint)
	e.metrics.BodyBytes.Observe(float64(len(resp.Body)), byEndpoint)
}

func (e *Executor) recordFailure(def *Definition, call Call, status string) {
	e.metrics.EndpointFailures.Inc(metrics.Labels{
		"endpoint": def.Name,
		"status":   status,
		"phase":    string(def.Phase),
	})
}

// statusLabel is the literal status, or "error" when the exchange never
// completed.
func statusLabel(resp *client.Response) string {
	if resp == nil || resp.Status == 0 {
		return "error"
	}
	return strconv.Itoa(resp.Status)
}

// Failed reports whether an outcome counts as a failed request: a
// transport error, status 0 or any status of 400 and above.
func Failed(o Outcome) bool {
	if o.Skipped {
		return false
	}
	if o.Err != nil || o.Response == nil {
		return true
	}
	return o.Response.Status == 0 || o.Response.Status >= 400
}
