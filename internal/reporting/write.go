// internal/reporting/write.go
package reporting

import (
	"fmt"
	"strings"

	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/metrics"
)

// Write-rate probe metric and scenario names.
const (
	WriteScenario = "progress_write"
	WriteRequests = "progress_write_requests"
	WriteFailures = "progress_write_failures"
)

// WriteReport summarises the focused write-rate probe.
type WriteReport struct {
	TargetRPS          int     `json:"target_rps"`
	WarmupDuration     string  `json:"warmup_duration"`
	TestDuration       string  `json:"test_duration"`
	CooldownDuration   string  `json:"cooldown_duration"`
	FailureTolerance   float64 `json:"failure_tolerance"`
	ObservedRPS        float64 `json:"observed_rps"`
	ObservedRPSPlateau float64 `json:"observed_rps_plateau"`
	TotalRequests      int64   `json:"total_requests"`
	TotalFailures      int64   `json:"total_failures"`
	FailureRate        float64 `json:"failure_rate"`
	Passed             bool    `json:"passed"`
}

// BuildWriteReport reads the write counters. Observed RPS spreads the
// requests over warmup+test+cooldown; the plateau figure uses the test
// window alone.
func BuildWriteReport(cfg *config.WriteConfig, snap metrics.Snapshot) *WriteReport {
	r := &WriteReport{
		TargetRPS:        cfg.TargetRPS,
		WarmupDuration:   cfg.WarmupDuration,
		TestDuration:     cfg.TestDuration,
		CooldownDuration: cfg.CooldownDuration,
		FailureTolerance: cfg.FailureTolerance,
		TotalRequests:    resolveCount(snap, WriteRequests, WriteScenario),
		TotalFailures:    resolveCount(snap, WriteFailures, WriteScenario),
	}
	if r.TotalRequests > 0 {
		r.FailureRate = float64(r.TotalFailures) / float64(r.TotalRequests)
	}

	warmup := codec.DurationToSeconds(cfg.WarmupDuration)
	test := codec.DurationToSeconds(cfg.TestDuration)
	cooldown := codec.DurationToSeconds(cfg.CooldownDuration)
	if total := warmup + test + cooldown; total > 0 {
		r.ObservedRPS = float64(r.TotalRequests) / total
	}
	if test > 0 {
		r.ObservedRPSPlateau = float64(r.TotalRequests) / test
	}
	r.Passed = r.FailureRate <= r.FailureTolerance
	return r
}

// resolveCount prefers the scenario's series and falls back to the bare
// aggregate.
func resolveCount(snap metrics.Snapshot, name, scenario string) int64 {
	if v, ok := snap.Find(name, scenario); ok {
		return v.Count
	}
	if v, ok := snap.Get(name); ok {
		return v.Count
	}
	return 0
}

// ArtifactName implements Report.
func (r *WriteReport) ArtifactName() string { return ProgressWriteResultsFile }

// Text implements Report.
func (r *WriteReport) Text() string {
	status := "PASS"
	if !r.Passed {
		status = "FAIL (above tolerance)"
	}
	lines := []string{
		"========== Progress Write ==========",
		fmt.Sprintf("Target RPS: %d", r.TargetRPS),
		fmt.Sprintf("Warmup: %s, Test: %s, Cooldown: %s", r.WarmupDuration, r.TestDuration, r.CooldownDuration),
		fmt.Sprintf("Observed RPS: %.2f", r.ObservedRPS),
		fmt.Sprintf("Plateau RPS (test window): %.2f", r.ObservedRPSPlateau),
		fmt.Sprintf("Failures: %d/%d (%.2f%%)", r.TotalFailures, r.TotalRequests, r.FailureRate*100),
		fmt.Sprintf("Status: %s (tolerance %.2f%%)", status, r.FailureTolerance*100),
		"====================================",
	}
	return strings.Join(lines, "\n") + "\n"
}
