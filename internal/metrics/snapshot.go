package metrics

import (
	"encoding/json"
	"strings"

	"github.com/FairForge/trailload/internal/codec"
)

// Values is the aggregate of one series. Counters fill Count and Sum,
// rates fill Count (samples), Sum (true samples) and Rate, trends fill
// everything but Rate.
type Values struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P90   float64 `json:"p(90)"`
	P95   float64 `json:"p(95)"`
	P99   float64 `json:"p(99)"`
	Rate  float64 `json:"rate"`
}

// Snapshot is a point-in-time copy of every series, keyed by composite key.
type Snapshot struct {
	values map[string]Values
	types  map[string]string
}

// Get returns the values stored under an exact composite key.
func (s Snapshot) Get(key string) (Values, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Type returns the metric type of name, or "" when undeclared.
func (s Snapshot) Type(name string) string {
	return s.types[name]
}

// Keys returns every composite key in the snapshot.
func (s Snapshot) Keys() []string {
	return sortedKeys(s.values)
}

// Find returns the values of name restricted to one scenario: the direct
// "name{scenario:x}" key when present, otherwise every tagged series of
// name whose scenario tag matches, merged.
func (s Snapshot) Find(name, scenario string) (Values, bool) {
	if v, ok := s.values[name+"{scenario:"+scenario+"}"]; ok {
		return v, true
	}
	return s.Total(name, map[string]string{"scenario": scenario})
}

// Total merges every tagged series of name whose tags contain filter.
// An empty filter returns the bare aggregate.
func (s Snapshot) Total(name string, filter map[string]string) (Values, bool) {
	if len(filter) == 0 {
		v, ok := s.values[name]
		return v, ok
	}

	var matched []Values
	for key, v := range s.values {
		if !strings.HasPrefix(key, name+"{") {
			continue
		}
		tags := codec.ExtractMetricTags(key, name)
		if matches(tags, filter) {
			matched = append(matched, v)
		}
	}
	if len(matched) == 0 {
		return Values{}, false
	}
	return merge(s.types[name], matched), true
}

// MarshalJSON renders the snapshot as a flat object keyed by composite key.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.values)
}

func matches(tags, filter map[string]string) bool {
	for k, v := range filter {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// merge combines per-series aggregates. Trend percentiles cannot be
// recombined exactly, so the merged trend reports the worst series.
func merge(kind string, values []Values) Values {
	var out Values
	for i, v := range values {
		out.Count += v.Count
		out.Sum += v.Sum
		if i == 0 || v.Min < out.Min {
			out.Min = v.Min
		}
		if v.Max > out.Max {
			out.Max = v.Max
		}
		out.P90 = max(out.P90, v.P90)
		out.P95 = max(out.P95, v.P95)
		out.P99 = max(out.P99, v.P99)
	}
	switch kind {
	case TypeRate:
		if out.Count > 0 {
			out.Rate = out.Sum / float64(out.Count)
		}
	case TypeTrend:
		if out.Count > 0 {
			out.Avg = out.Sum / float64(out.Count)
		}
	}
	return out
}
