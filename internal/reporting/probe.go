// internal/reporting/probe.go
package reporting

import (
	"fmt"
	"strings"

	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
)

// ProbeKind selects the probe variant: its metric prefix, artifact and
// summary layout.
type ProbeKind string

const (
	ProbeRPS      ProbeKind = "probe"
	ProbeProgress ProbeKind = "progress"
)

// RequestsMetric is the per-step request counter of the variant.
func (k ProbeKind) RequestsMetric() string { return string(k) + "_requests" }

// FailuresMetric is the per-step failure counter of the variant.
func (k ProbeKind) FailuresMetric() string { return string(k) + "_failures" }

// StepResult is one row of the probe table.
type StepResult struct {
	Scenario       string  `json:"scenario"`
	TargetRPS      int     `json:"target_rps"`
	ObservedRPS    float64 `json:"observed_rps"`
	Requests       int64   `json:"requests"`
	FailureRate    float64 `json:"failure_rate"`
	FailedRequests int64   `json:"failed_requests"`
	Passed         bool    `json:"passed"`
}

// ProbeReport is the capacity table of a monotonic probe.
type ProbeReport struct {
	Kind                 ProbeKind    `json:"-"`
	MinTargetRPS         int          `json:"min_target_rps"`
	MaxTargetRPS         int          `json:"max_target_rps"`
	StepRPS              int          `json:"step_rps"`
	FailureTolerance     float64      `json:"failure_tolerance"`
	ThroughputRatio      float64      `json:"throughput_ratio"`
	HighestPassingTarget *int         `json:"highest_passing_target"`
	Scenarios            []StepResult `json:"scenarios"`
	TotalDurationSeconds *float64     `json:"total_duration_seconds,omitempty"`
}

// StepPasses applies the pass rule: at least one request, a failure rate
// within tolerance and an observed rate of at least ratio*target.
func StepPasses(s StepResult, tolerance, ratio float64) bool {
	return s.Requests > 0 &&
		s.FailureRate <= tolerance &&
		s.ObservedRPS >= ratio*float64(s.TargetRPS)
}

// SelectHighestPassing returns the largest target among passing steps, or
// nil when none passes. Steps are not assumed to pass monotonically.
func SelectHighestPassing(steps []StepResult, tolerance, ratio float64) *int {
	var best *int
	for _, s := range steps {
		if !StepPasses(s, tolerance, ratio) {
			continue
		}
		if best == nil || s.TargetRPS > *best {
			target := s.TargetRPS
			best = &target
		}
	}
	return best
}

// BuildStepResult reads one step's counters from the snapshot.
func BuildStepResult(kind ProbeKind, snap metrics.Snapshot, step loadtest.PlannedStep) StepResult {
	result := StepResult{Scenario: step.Name, TargetRPS: step.TargetRPS}

	if v, ok := snap.Find(kind.RequestsMetric(), step.Name); ok {
		result.Requests = v.Count
	}
	var failed int64
	if v, ok := snap.Find(kind.FailuresMetric(), step.Name); ok {
		failed = v.Count
	}
	if result.Requests > 0 {
		failed = min(result.Requests, failed)
		result.FailureRate = min(1, max(0, float64(failed)/float64(result.Requests)))
	}
	result.FailedRequests = failed

	if secs := step.Duration.Seconds(); secs > 0 {
		result.ObservedRPS = float64(result.Requests) / secs
	}
	return result
}

// BuildProbeReport derives the probe table for every planned step.
func BuildProbeReport(kind ProbeKind, cfg *config.ProbeConfig, plan loadtest.StepPlan, snap metrics.Snapshot, run *loadtest.RunResult) *ProbeReport {
	r := &ProbeReport{
		Kind:             kind,
		MinTargetRPS:     cfg.MinRPS,
		MaxTargetRPS:     cfg.MaxRPS,
		StepRPS:          cfg.StepRPS,
		FailureTolerance: cfg.FailureTolerance,
		ThroughputRatio:  cfg.ThroughputRatio,
		Scenarios:        make([]StepResult, 0, len(plan.Steps)),
	}
	for _, step := range plan.Steps {
		s := BuildStepResult(kind, snap, step)
		s.Passed = StepPasses(s, cfg.FailureTolerance, cfg.ThroughputRatio)
		r.Scenarios = append(r.Scenarios, s)
	}
	r.HighestPassingTarget = SelectHighestPassing(r.Scenarios, cfg.FailureTolerance, cfg.ThroughputRatio)

	if run != nil {
		secs := run.Duration.Seconds()
		r.TotalDurationSeconds = &secs
	}
	return r
}

// ArtifactName implements Report.
func (r *ProbeReport) ArtifactName() string {
	if r.Kind == ProbeProgress {
		return ProgressProbeResultsFile
	}
	return RPSResultsFile
}

// Text implements Report.
func (r *ProbeReport) Text() string {
	var lines []string
	if r.Kind == ProbeProgress {
		lines = append(lines, "========== Progress Probe ==========")
	} else {
		lines = append(lines, "========== RPS Probe Summary =========")
	}
	lines = append(lines,
		fmt.Sprintf("Target range: %d-%d RPS (step %d)", r.MinTargetRPS, r.MaxTargetRPS, r.StepRPS),
		fmt.Sprintf("Failure tolerance: %.2f%%", r.FailureTolerance*100),
	)

	switch {
	case r.HighestPassingTarget != nil && r.Kind == ProbeProgress:
		lines = append(lines, fmt.Sprintf("Highest passing target: %d", *r.HighestPassingTarget))
	case r.HighestPassingTarget != nil:
		lines = append(lines, fmt.Sprintf("Highest passing target: %d RPS", *r.HighestPassingTarget))
	case r.Kind == ProbeProgress:
		lines = append(lines, "Highest passing target: none")
	default:
		lines = append(lines, "Highest passing target: none (all targets failed)")
	}

	lines = append(lines, "", "Per-target breakdown:")
	for _, s := range r.Scenarios {
		status := "PASS"
		if !s.Passed {
			status = "FAIL"
		}
		lines = append(lines, fmt.Sprintf("- %s (target %d RPS): observed %.2f RPS, failures %.2f%% [%s]",
			s.Scenario, s.TargetRPS, s.ObservedRPS, s.FailureRate*100, status))
	}

	if r.Kind == ProbeProgress {
		lines = append(lines, "====================================")
	} else {
		lines = append(lines, "=======================================")
	}
	return strings.Join(lines, "\n") + "\n"
}
