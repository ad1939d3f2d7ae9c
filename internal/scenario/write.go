// internal/scenario/write.go
package scenario

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
	"github.com/FairForge/trailload/internal/reporting"
)

// StageWrite tags the write-rate probe.
const StageWrite = "write"

const (
	writeDrain        = 10 * time.Second
	writeGracefulStop = 20 * time.Second
)

// fractionOf returns max(1, round(target*f)).
func fractionOf(target int, f float64) float64 {
	return math.Max(1, math.Round(float64(target)*f))
}

// WriteScenario builds the ramping progress_write scenario: 25% of target,
// to 50% over the warmup, to target for the test, to 25% over the
// cooldown, then to zero over a 10s drain.
func (h *Harness) WriteScenario(rc *endpoint.RunContext) loadtest.ScenarioConfig {
	w := h.cfg.ProgressWrite
	target := w.TargetRPS

	var stages []loadtest.Stage
	if d := seconds(w.WarmupDuration); d > 0 {
		stages = append(stages, loadtest.Stage{Duration: d, Target: fractionOf(target, 0.5)})
	}
	stages = append(stages, loadtest.Stage{Duration: seconds(w.TestDuration), Target: float64(target)})
	if d := seconds(w.CooldownDuration); d > 0 {
		stages = append(stages, loadtest.Stage{Duration: d, Target: fractionOf(target, 0.25)})
	}
	stages = append(stages, loadtest.Stage{Duration: writeDrain, Target: 0})

	requests := h.sink.Counter(reporting.WriteRequests, "Progress write requests", "scenario", "target_rps")
	failures := h.sink.Counter(reporting.WriteFailures, "Failed progress writes by status", "scenario", "target_rps", "status")

	exec := func(ctx context.Context, it loadtest.Iteration) {
		outcome := h.executor.Request(ctx, endpoint.TrailItemProgress, rc, callFor(it))
		if outcome.Skipped {
			return
		}
		labels := metrics.Labels{"scenario": it.Scenario, "target_rps": it.Tags["target_rps"]}
		requests.Inc(labels)
		if endpoint.Failed(outcome) {
			status := "error"
			if outcome.Response != nil && outcome.Response.Status > 0 {
				status = strconv.Itoa(outcome.Response.Status)
			}
			failures.Inc(metrics.Labels{"scenario": it.Scenario, "target_rps": it.Tags["target_rps"], "status": status})
		}
	}

	return loadtest.ScenarioConfig{
		Name:            reporting.WriteScenario,
		Executor:        loadtest.RampingArrivalRate,
		StartRate:       fractionOf(target, 0.25),
		Stages:          stages,
		GracefulStop:    writeGracefulStop,
		PreAllocatedVUs: w.PreAllocatedVUs,
		MaxVUs:          w.MaxVUs,
		Tags:            map[string]string{"stage": StageWrite, "target_rps": strconv.Itoa(target)},
		Exec:            exec,
	}
}

// WriteThresholds aborts on the write stage's failure rate and fails the
// run on latency or any counted write failure.
func (h *Harness) WriteThresholds() []loadtest.Threshold {
	tol := h.cfg.ProgressWrite.FailureTolerance
	return []loadtest.Threshold{
		loadtest.MustThreshold("http_req_failed{stage:write}", fmt.Sprintf("rate<%g", tol), true),
		loadtest.MustThreshold(metrics.HTTPReqDuration, "p(95)<750", false),
		loadtest.MustThreshold(metrics.HTTPReqDuration, "p(99)<1500", false),
		loadtest.MustThreshold(reporting.WriteFailures, "count==0", false),
	}
}

// RunWrite runs setup, the write-rate probe and writes its artifact.
func (h *Harness) RunWrite(ctx context.Context) (*reporting.WriteReport, error) {
	rc, err := h.Setup(ctx, SetupOptions{})
	if err != nil {
		return nil, err
	}

	scenarios := []loadtest.ScenarioConfig{h.WriteScenario(rc)}
	result, runErr := h.runner().Run(ctx, scenarios, h.WriteThresholds())
	if result == nil {
		return nil, runErr
	}

	report := reporting.BuildWriteReport(&h.cfg.ProgressWrite, h.sink.Snapshot())
	if _, err := reporting.Emit(h.out, h.cfg.Output.ResultsDir, report); err != nil {
		return report, err
	}
	if runErr != nil {
		return report, runErr
	}
	if !result.Passed() {
		return report, ErrThresholdsBreached
	}
	return report, nil
}
