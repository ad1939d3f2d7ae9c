// internal/reporting/load.go
package reporting

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
	"github.com/FairForge/trailload/internal/ratelimit"
)

// TopFailures is how many failing endpoint/status pairs are kept per phase.
const TopFailures = 5

var classes = []string{"read", "write", "auth"}

// ClassStats is the request volume and failure rate of one traffic class.
type ClassStats struct {
	Class       string  `json:"class"`
	Requests    int64   `json:"requests"`
	FailureRate float64 `json:"failure_rate"`
}

// FailureEntry counts failures of one endpoint with one status.
type FailureEntry struct {
	Endpoint string `json:"endpoint"`
	Status   string `json:"status"`
	Count    int64  `json:"count"`
}

// ThresholdSummary is the JSON form of a threshold result.
type ThresholdSummary struct {
	Threshold   string  `json:"threshold"`
	Actual      float64 `json:"actual"`
	Passed      bool    `json:"passed"`
	AbortOnFail bool    `json:"abort_on_fail"`
}

// LoadReport summarises a fixed-mix load test.
type LoadReport struct {
	DurationSeconds          float64                   `json:"duration_seconds"`
	TotalRequests            int64                     `json:"total_requests"`
	RequestsPerSecond        float64                   `json:"requests_per_second"`
	RequestsPerMinute        float64                   `json:"requests_per_minute"`
	ThroughputBytesPerSecond float64                   `json:"throughput_bytes_per_second"`
	ThroughputKiBPerSecond   float64                   `json:"throughput_kib_per_second"`
	Classes                  []ClassStats              `json:"classes"`
	TopFailures              map[string][]FailureEntry `json:"top_failures"`
	Thresholds               []ThresholdSummary        `json:"thresholds"`
	Aborted                  bool                      `json:"aborted"`
	RateLimit                *ratelimit.Verification   `json:"rate_limit_verification,omitempty"`
	Passed                   bool                      `json:"passed"`
}

// BuildLoadReport derives the load summary from the metrics snapshot.
func BuildLoadReport(snap metrics.Snapshot, run *loadtest.RunResult, verification *ratelimit.Verification) *LoadReport {
	r := &LoadReport{
		TopFailures: topFailures(snap, TopFailures),
		Thresholds:  []ThresholdSummary{},
		Classes:     []ClassStats{},
		RateLimit:   verification,
		Passed:      true,
	}

	var duration time.Duration
	if run != nil {
		duration = run.Duration
		r.Aborted = run.Aborted
		r.Passed = run.Passed()
		for _, t := range run.Thresholds {
			r.Thresholds = append(r.Thresholds, ThresholdSummary{
				Threshold:   t.Threshold.String(),
				Actual:      t.Actual,
				Passed:      t.Passed,
				AbortOnFail: t.Threshold.AbortOnFail,
			})
		}
	}
	r.DurationSeconds = duration.Seconds()

	if v, ok := snap.Get(metrics.HTTPReqs); ok {
		r.TotalRequests = v.Count
	}
	if r.DurationSeconds > 0 {
		r.RequestsPerSecond = float64(r.TotalRequests) / r.DurationSeconds
		if v, ok := snap.Get(metrics.DataReceived); ok {
			r.ThroughputBytesPerSecond = v.Sum / r.DurationSeconds
		}
	}
	r.RequestsPerMinute = r.RequestsPerSecond * 60
	r.ThroughputKiBPerSecond = r.ThroughputBytesPerSecond / 1024

	for _, class := range classes {
		reqs, ok := snap.Total(metrics.HTTPReqs, map[string]string{"class": class})
		if !ok || reqs.Count == 0 {
			continue
		}
		stats := ClassStats{Class: class, Requests: reqs.Count}
		if failed, ok := snap.Total(metrics.HTTPReqFailed, map[string]string{"class": class}); ok {
			stats.FailureRate = failed.Rate
		}
		r.Classes = append(r.Classes, stats)
	}
	return r
}

// topFailures groups endpoint_failures series by phase and keeps the n
// largest per phase.
func topFailures(snap metrics.Snapshot, n int) map[string][]FailureEntry {
	byPhase := make(map[string][]FailureEntry)
	prefix := metrics.EndpointFailures + "{"
	for _, key := range snap.Keys() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		v, _ := snap.Get(key)
		if v.Count == 0 {
			continue
		}
		tags := codec.ExtractMetricTags(key, metrics.EndpointFailures)
		phase := tags["phase"]
		if phase == "" {
			phase = "unknown"
		}
		byPhase[phase] = append(byPhase[phase], FailureEntry{
			Endpoint: tags["endpoint"],
			Status:   tags["status"],
			Count:    v.Count,
		})
	}

	for phase, entries := range byPhase {
		sort.Slice(entries, func(i, j int) bool {
			if entries[i].Count != entries[j].Count {
				return entries[i].Count > entries[j].Count
			}
			if entries[i].Endpoint != entries[j].Endpoint {
				return entries[i].Endpoint < entries[j].Endpoint
			}
			return entries[i].Status < entries[j].Status
		})
		if len(entries) > n {
			entries = entries[:n]
		}
		byPhase[phase] = entries
	}
	return byPhase
}

// ArtifactName implements Report.
func (r *LoadReport) ArtifactName() string { return LoadResultsFile }

// Text implements Report.
func (r *LoadReport) Text() string {
	lines := []string{
		"========== Performance Summary ==========",
		fmt.Sprintf("Test duration: %.2fs", r.DurationSeconds),
		fmt.Sprintf("Total HTTP requests: %d", r.TotalRequests),
		fmt.Sprintf("Estimated RPS: %.2f", r.RequestsPerSecond),
		fmt.Sprintf("Estimated RPM: %.2f", r.RequestsPerMinute),
		fmt.Sprintf("Throughput: %.2f B/s (%.2f KiB/s)", r.ThroughputBytesPerSecond, r.ThroughputKiBPerSecond),
	}

	if len(r.Classes) > 0 {
		lines = append(lines, "", "Per-class breakdown:")
		for _, c := range r.Classes {
			lines = append(lines, fmt.Sprintf("- %s: %d requests, failures %.2f%%", c.Class, c.Requests, c.FailureRate*100))
		}
	}

	if len(r.TopFailures) > 0 {
		lines = append(lines, "", "Top failures:")
		phases := make([]string, 0, len(r.TopFailures))
		for phase := range r.TopFailures {
			phases = append(phases, phase)
		}
		sort.Strings(phases)
		for _, phase := range phases {
			lines = append(lines, fmt.Sprintf("[%s]", phase))
			for _, f := range r.TopFailures[phase] {
				lines = append(lines, fmt.Sprintf("- %s status %s: %d", f.Endpoint, f.Status, f.Count))
			}
		}
	}

	if len(r.Thresholds) > 0 {
		lines = append(lines, "", "Thresholds:")
		for _, t := range r.Thresholds {
			mark := "PASS"
			if !t.Passed {
				mark = "FAIL"
			}
			lines = append(lines, fmt.Sprintf("- %s actual=%s [%s]", t.Threshold, strconv.FormatFloat(t.Actual, 'f', 4, 64), mark))
		}
	}

	if r.RateLimit != nil {
		lines = append(lines, "",
			fmt.Sprintf("Login rate limit: first 429 at attempt %d (limit %d), Retry-After %ds",
				r.RateLimit.FirstLimitedAt, r.RateLimit.Limit, r.RateLimit.RetryAfterSeconds))
	}
	if r.Aborted {
		lines = append(lines, "", "Run aborted by an abort-on-fail threshold")
	}

	lines = append(lines, "==========================================")
	return strings.Join(lines, "\n") + "\n"
}
