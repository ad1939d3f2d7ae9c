// internal/metrics/http.go
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Built-in metric names, matching the k6 names the reports read.
const (
	HTTPReqs          = "http_reqs"
	HTTPReqFailed     = "http_req_failed"
	HTTPReqDuration   = "http_req_duration"
	DataReceived      = "data_received"
	EndpointDuration  = "endpoint_duration_ms"
	ResponseBodyBytes = "response_body_bytes"
	EndpointFailures  = "endpoint_failures"
	DroppedIterations = "dropped_iterations"
	Iterations        = "iterations"
)

// RequestLabels are attached to every request-level series.
var RequestLabels = []string{"scenario", "stage", "class", "endpoint"}

var (
	durationBuckets = prometheus.ExponentialBuckets(5, 2, 12)
	sizeBuckets     = prometheus.ExponentialBuckets(100, 10, 8)
)

// HTTP groups the request metrics recorded by the endpoint executor.
type HTTP struct {
	Reqs             *Counter
	Failed           *Rate
	Duration         *Trend
	DataReceived     *Counter
	EndpointDuration *Trend
	BodyBytes        *Trend
	EndpointFailures *Counter
}

// NewHTTP declares the request metrics on s.
func NewHTTP(s *Sink) *HTTP {
	return &HTTP{
		Reqs:             s.Counter(HTTPReqs, "Total HTTP requests issued", RequestLabels...),
		Failed:           s.Rate(HTTPReqFailed, "Fraction of HTTP requests that failed", RequestLabels...),
		Duration:         s.Trend(HTTPReqDuration, "HTTP request duration in milliseconds", durationBuckets, RequestLabels...),
		DataReceived:     s.Counter(DataReceived, "Response bytes received", "scenario"),
		EndpointDuration: s.Trend(EndpointDuration, "Per-endpoint request duration in milliseconds", durationBuckets, "endpoint"),
		BodyBytes:        s.Trend(ResponseBodyBytes, "Per-endpoint response body size in bytes", sizeBuckets, "endpoint"),
		EndpointFailures: s.Counter(EndpointFailures, "Endpoint failures by status and phase", "endpoint", "status", "phase"),
	}
}
