// internal/metrics/types.go
package metrics

import (
	"math"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Counter is a monotonically increasing metric
type Counter struct {
	name       string
	labelNames []string
	vec        *prometheus.CounterVec

	mu     sync.Mutex
	series map[string]*counterSeries
}

type counterSeries struct {
	labels Labels
	sum    float64
}

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) {
	c.Add(1, labels)
}

// Add adds a non-negative value to the counter
func (c *Counter) Add(v float64, labels Labels) {
	if v < 0 || math.IsNaN(v) {
		return
	}
	labels = restrict(c.labelNames, labels)
	key := labels.Key(c.name)

	c.mu.Lock()
	s, ok := c.series[key]
	if !ok {
		s = &counterSeries{labels: labels}
		c.series[key] = s
	}
	s.sum += v
	c.mu.Unlock()

	c.vec.WithLabelValues(prometheusValues(c.labelNames, labels)...).Add(v)
}

// Value returns the value of the exact series
func (c *Counter) Value(labels Labels) float64 {
	key := restrict(c.labelNames, labels).Key(c.name)
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.series[key]; ok {
		return s.sum
	}
	return 0
}

// Vec returns the Prometheus vector mirroring the counter.
func (c *Counter) Vec() *prometheus.CounterVec {
	return c.vec
}

func (c *Counter) collect(out map[string]Values) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total float64
	for _, key := range sortedKeys(c.series) {
		s := c.series[key]
		total += s.sum
		out[key] = counterValues(s.sum)
	}
	out[c.name] = counterValues(total)
}

func counterValues(sum float64) Values {
	return Values{Count: int64(math.Round(sum)), Sum: sum}
}

// Rate tracks the fraction of true samples, like k6's http_req_failed.
type Rate struct {
	name       string
	labelNames []string
	vec        *prometheus.CounterVec

	mu     sync.Mutex
	series map[string]*rateSeries
}

type rateSeries struct {
	labels Labels
	total  int64
	hits   int64
}

// Add records one sample.
func (r *Rate) Add(hit bool, labels Labels) {
	labels = restrict(r.labelNames, labels)
	key := labels.Key(r.name)

	r.mu.Lock()
	s, ok := r.series[key]
	if !ok {
		s = &rateSeries{labels: labels}
		r.series[key] = s
	}
	s.total++
	if hit {
		s.hits++
	}
	r.mu.Unlock()

	result := "false"
	if hit {
		result = "true"
	}
	values := append(prometheusValues(r.labelNames, labels), result)
	r.vec.WithLabelValues(values...).Inc()
}

func (r *Rate) collect(out map[string]Values) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var total, hits int64
	for _, key := range sortedKeys(r.series) {
		s := r.series[key]
		total += s.total
		hits += s.hits
		out[key] = rateValues(s.total, s.hits)
	}
	out[r.name] = rateValues(total, hits)
}

func rateValues(total, hits int64) Values {
	v := Values{Count: total, Sum: float64(hits)}
	if total > 0 {
		v.Rate = float64(hits) / float64(total)
	}
	return v
}

// Trend keeps every sample so percentiles can be computed at the end.
type Trend struct {
	name       string
	labelNames []string
	vec        *prometheus.HistogramVec

	mu     sync.Mutex
	series map[string]*trendSeries
}

type trendSeries struct {
	labels  Labels
	samples []float64
}

// Observe records a value
func (t *Trend) Observe(v float64, labels Labels) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return
	}
	labels = restrict(t.labelNames, labels)
	key := labels.Key(t.name)

	t.mu.Lock()
	s, ok := t.series[key]
	if !ok {
		s = &trendSeries{labels: labels, samples: make([]float64, 0, 1024)}
		t.series[key] = s
	}
	s.samples = append(s.samples, v)
	t.mu.Unlock()

	t.vec.WithLabelValues(prometheusValues(t.labelNames, labels)...).Observe(v)
}

func (t *Trend) collect(out map[string]Values) {
	// Samples are copied under the lock and sorted after it is released so
	// Observe is never blocked by percentile work.
	t.mu.Lock()
	keys := sortedKeys(t.series)
	copies := make([][]float64, len(keys))
	total := 0
	for i, key := range keys {
		copies[i] = append([]float64(nil), t.series[key].samples...)
		total += len(copies[i])
	}
	t.mu.Unlock()

	all := make([]float64, 0, total)
	for i, key := range keys {
		all = append(all, copies[i]...)
		out[key] = trendValues(copies[i])
	}
	out[t.name] = trendValues(all)
}

func trendValues(samples []float64) Values {
	if len(samples) == 0 {
		return Values{}
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return Values{
		Count: int64(len(sorted)),
		Sum:   sum,
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Avg:   sum / float64(len(sorted)),
		P90:   percentile(sorted, 0.90),
		P95:   percentile(sorted, 0.95),
		P99:   percentile(sorted, 0.99),
	}
}

// percentile interpolates linearly between the closest ranks.
func percentile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := float64(len(sorted)-1) * q
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*frac
}
