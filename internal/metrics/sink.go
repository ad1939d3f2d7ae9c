// Package metrics records counters, rates and trends for a load run.
//
// Every series is kept twice: in a Prometheus vector on the sink's own
// registry (scraped through Handler) and in an in-process aggregate keyed
// by the k6-style composite key "name{k:v,...}" that reporting and
// threshold evaluation read back through Snapshot.
package metrics

import (
	"net/http"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/FairForge/trailload/internal/codec"
)

// Metric types
const (
	TypeCounter = "counter"
	TypeRate    = "rate"
	TypeTrend   = "trend"
)

// Labels represents metric labels
type Labels map[string]string

// Key returns the composite key of the labels for metric name.
func (l Labels) Key(name string) string {
	return codec.CompositeKey(name, l)
}

// Sink owns every metric of a run.
type Sink struct {
	registry *prometheus.Registry
	factory  promauto.Factory

	mu       sync.RWMutex
	counters map[string]*Counter
	rates    map[string]*Rate
	trends   map[string]*Trend
}

// NewSink creates an empty sink with its own Prometheus registry.
func NewSink() *Sink {
	registry := prometheus.NewRegistry()
	return &Sink{
		registry: registry,
		factory:  promauto.With(registry),
		counters: make(map[string]*Counter),
		rates:    make(map[string]*Rate),
		trends:   make(map[string]*Trend),
	}
}

// Registry exposes the Prometheus registry backing the sink.
func (s *Sink) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (s *Sink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry})
}

// Counter declares a counter, or returns the existing one with that name.
func (s *Sink) Counter(name, help string, labelNames ...string) *Counter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.counters[name]; ok {
		return c
	}
	c := &Counter{
		name:       name,
		labelNames: labelNames,
		vec: s.factory.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, labelNames),
		series: make(map[string]*counterSeries),
	}
	s.counters[name] = c
	return c
}

// Rate declares a rate (fraction of true samples), or returns the existing one.
func (s *Sink) Rate(name, help string, labelNames ...string) *Rate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rates[name]; ok {
		return r
	}
	r := &Rate{
		name:       name,
		labelNames: labelNames,
		vec: s.factory.NewCounterVec(prometheus.CounterOpts{
			Name: name,
			Help: help,
		}, append(append([]string{}, labelNames...), "result")),
		series: make(map[string]*rateSeries),
	}
	s.rates[name] = r
	return r
}

// Trend declares a trend, or returns the existing one.
func (s *Sink) Trend(name, help string, buckets []float64, labelNames ...string) *Trend {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.trends[name]; ok {
		return t
	}
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}
	t := &Trend{
		name:       name,
		labelNames: labelNames,
		vec: s.factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name,
			Help:    help,
			Buckets: buckets,
		}, labelNames),
		series: make(map[string]*trendSeries),
	}
	s.trends[name] = t
	return t
}

// Snapshot aggregates every metric. Each metric appears under its bare
// name (all series merged) and under the composite key of every series.
func (s *Sink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		values: make(map[string]Values),
		types:  make(map[string]string),
	}
	for name, c := range s.counters {
		snap.types[name] = TypeCounter
		c.collect(snap.values)
	}
	for name, r := range s.rates {
		snap.types[name] = TypeRate
		r.collect(snap.values)
	}
	for name, t := range s.trends {
		snap.types[name] = TypeTrend
		t.collect(snap.values)
	}
	return snap
}

// SnapshotOf aggregates only the named metrics. Unknown names are
// ignored.
func (s *Sink) SnapshotOf(names ...string) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		values: make(map[string]Values),
		types:  make(map[string]string),
	}
	for _, name := range names {
		if _, seen := snap.types[name]; seen {
			continue
		}
		if c, ok := s.counters[name]; ok {
			snap.types[name] = TypeCounter
			c.collect(snap.values)
		} else if r, ok := s.rates[name]; ok {
			snap.types[name] = TypeRate
			r.collect(snap.values)
		} else if t, ok := s.trends[name]; ok {
			snap.types[name] = TypeTrend
			t.collect(snap.values)
		}
	}
	return snap
}

// prometheusValues orders labels as declared, filling absent ones with "".
func prometheusValues(labelNames []string, labels Labels) []string {
	values := make([]string, len(labelNames))
	for i, name := range labelNames {
		values[i] = labels[name]
	}
	return values
}

// restrict drops labels the metric did not declare.
func restrict(labelNames []string, labels Labels) Labels {
	out := make(Labels, len(labelNames))
	for _, name := range labelNames {
		if v, ok := labels[name]; ok && v != "" {
			out[name] = v
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
