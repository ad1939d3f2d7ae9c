// internal/loadtest/thresholds.go
package loadtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/metrics"
)

// Comparator defines how to compare an aggregate against its target.
type Comparator string

const (
	ComparatorLessThan       Comparator = "<"
	ComparatorLessOrEqual    Comparator = "<="
	ComparatorGreaterThan    Comparator = ">"
	ComparatorGreaterOrEqual Comparator = ">="
	ComparatorEqual          Comparator = "=="
	ComparatorNotEqual       Comparator = "!="
)

// Longest operators first so "<=" is not read as "<".
var comparators = []Comparator{
	ComparatorLessOrEqual, ComparatorGreaterOrEqual, ComparatorEqual,
	ComparatorNotEqual, ComparatorLessThan, ComparatorGreaterThan,
}

// Threshold is a pass/fail rule on one aggregate of a metric, e.g.
// "http_req_failed{stage:probe}" with "rate<0.01".
type Threshold struct {
	Selector    string
	Stat        string
	Comparator  Comparator
	Target      float64
	AbortOnFail bool
}

// ThresholdResult captures one evaluation.
type ThresholdResult struct {
	Threshold Threshold
	Actual    float64
	Passed    bool
	NoData    bool
	Message   string
}

// ParseThreshold parses a k6-style expression such as "p(95)<1000" or
// "count==0" against selector.
func ParseThreshold(selector, expr string, abortOnFail bool) (Threshold, error) {
	expr = strings.ReplaceAll(expr, " ", "")
	for _, comp := range comparators {
		idx := strings.Index(expr, string(comp))
		if idx <= 0 {
			continue
		}
		stat := expr[:idx]
		if !validStat(stat) {
			return Threshold{}, fmt.Errorf("loadtest: unknown threshold statistic %q", stat)
		}
		target, err := strconv.ParseFloat(expr[idx+len(comp):], 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("loadtest: threshold %q: %w", expr, err)
		}
		return Threshold{
			Selector:    selector,
			Stat:        stat,
			Comparator:  comp,
			Target:      target,
			AbortOnFail: abortOnFail,
		}, nil
	}
	return Threshold{}, fmt.Errorf("loadtest: threshold %q has no comparator", expr)
}

// MustThreshold is ParseThreshold for expressions fixed at compile time.
func MustThreshold(selector, expr string, abortOnFail bool) Threshold {
	t, err := ParseThreshold(selector, expr, abortOnFail)
	if err != nil {
		panic(err)
	}
	return t
}

func validStat(stat string) bool {
	switch stat {
	case "rate", "count", "sum", "avg", "min", "max", "p(90)", "p(95)", "p(99)":
		return true
	}
	return false
}

// MetricName is the selector without its tag block.
func (t Threshold) MetricName() string {
	if i := strings.IndexByte(t.Selector, '{'); i >= 0 {
		return t.Selector[:i]
	}
	return t.Selector
}

func (t Threshold) String() string {
	return fmt.Sprintf("%s: %s%s%s", t.Selector, t.Stat, t.Comparator, strconv.FormatFloat(t.Target, 'f', -1, 64))
}

// Evaluate checks the threshold against snap. A selector with no samples
// passes, as nothing was measured that could breach it.
func (t Threshold) Evaluate(snap metrics.Snapshot) ThresholdResult {
	name := t.MetricName()
	values, ok := snap.Total(name, codec.ExtractMetricTags(t.Selector, name))
	if !ok {
		return ThresholdResult{
			Threshold: t,
			Passed:    true,
			NoData:    true,
			Message:   fmt.Sprintf("%s (no data)", t),
		}
	}

	actual := statValue(values, t.Stat)
	result := ThresholdResult{
		Threshold: t,
		Actual:    actual,
		Passed:    compareValues(actual, t.Target, t.Comparator),
	}
	mark := "✓"
	if !result.Passed {
		mark = "✗"
	}
	result.Message = fmt.Sprintf("%s %s actual=%.4f", mark, t, actual)
	return result
}

func statValue(v metrics.Values, stat string) float64 {
	switch stat {
	case "rate":
		return v.Rate
	case "count":
		return float64(v.Count)
	case "sum":
		return v.Sum
	case "avg":
		return v.Avg
	case "min":
		return v.Min
	case "max":
		return v.Max
	case "p(90)":
		return v.P90
	case "p(95)":
		return v.P95
	case "p(99)":
		return v.P99
	}
	return 0
}

// compareValues checks if actual meets target based on comparator.
func compareValues(actual, target float64, comp Comparator) bool {
	switch comp {
	case ComparatorLessThan:
		return actual < target
	case ComparatorLessOrEqual:
		return actual <= target
	case ComparatorGreaterThan:
		return actual > target
	case ComparatorGreaterOrEqual:
		return actual >= target
	case ComparatorEqual:
		return actual == target
	case ComparatorNotEqual:
		return actual != target
	default:
		return false
	}
}

// EvaluateThresholds evaluates every threshold against one snapshot.
func EvaluateThresholds(thresholds []Threshold, snap metrics.Snapshot) []ThresholdResult {
	results := make([]ThresholdResult, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, t.Evaluate(snap))
	}
	return results
}

// AllPassed reports whether no threshold breached.
func AllPassed(results []ThresholdResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FormatThresholds renders results one per line.
func FormatThresholds(results []ThresholdResult) string {
	var b strings.Builder
	b.WriteString("Thresholds:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "  %s\n", r.Message)
	}
	return b.String()
}
