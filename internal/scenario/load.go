// internal/scenario/load.go
package scenario

import (
	"context"
	"fmt"

	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/reporting"
)

// StageLoad tags every fixed-mix scenario.
const StageLoad = "load"

// rampStartFraction is where each load scenario's ramp begins, relative to
// its target.
const rampStartFraction = 0.25

// LoadKeys returns the endpoints of the fixed-mix test: the reads and the
// login, plus the writes when enabled.
func (h *Harness) LoadKeys() []string {
	keys := append([]string{}, endpoint.ReadKeys...)
	keys = append(keys, endpoint.AuthLogin)
	if h.cfg.Load.EnableWriteScenarios {
		keys = append(keys, endpoint.WriteKeys...)
	}
	return keys
}

// LoadScenarios builds one ramping scenario per endpoint: 25% of target
// rising to target over the warmup, held for the test duration, then
// ramped to zero over the cooldown.
func (h *Harness) LoadScenarios(rc *endpoint.RunContext) []loadtest.ScenarioConfig {
	l := h.cfg.Load
	registry := h.executor.Registry()

	var out []loadtest.ScenarioConfig
	for _, key := range h.LoadKeys() {
		def, _ := registry.Get(key)
		target := float64(l.TargetRPS)
		if def.Phase != endpoint.PhaseRead {
			target = float64(l.WriteRPS)
		}

		var stages []loadtest.Stage
		if d := seconds(l.WarmupDuration); d > 0 {
			stages = append(stages, loadtest.Stage{Duration: d, Target: target})
		}
		stages = append(stages, loadtest.Stage{Duration: seconds(l.TestDuration), Target: target})
		if d := seconds(l.CooldownDuration); d > 0 {
			stages = append(stages, loadtest.Stage{Duration: d, Target: 0})
		}

		startRate := target * rampStartFraction
		if seconds(l.WarmupDuration) <= 0 {
			startRate = target
		}

		sc := loadtest.ScenarioConfig{
			Name:            key,
			Executor:        loadtest.RampingArrivalRate,
			StartRate:       startRate,
			Stages:          stages,
			GracefulStop:    seconds(l.GracefulStop),
			PreAllocatedVUs: l.PreAllocatedVUs,
			MaxVUs:          l.MaxVUs,
			Tags:            map[string]string{"class": string(def.Phase), "stage": StageLoad},
			Exec:            h.iteration(key, rc),
		}
		// Enrollment is idempotent; in-flight calls are not worth waiting for.
		if key == endpoint.UserTrailEnroll {
			sc.GracefulStop = 0
		}
		out = append(out, sc)
	}
	return out
}

// LoadThresholds bounds the failure rate of each traffic class.
func (h *Harness) LoadThresholds() []loadtest.Threshold {
	l := h.cfg.Load
	tolerances := []struct {
		class endpoint.Phase
		tol   float64
	}{
		{endpoint.PhaseRead, l.ReadFailureTolerance},
		{endpoint.PhaseWrite, l.WriteFailureTolerance},
		{endpoint.PhaseAuth, l.WriteFailureTolerance},
	}

	out := make([]loadtest.Threshold, 0, len(tolerances))
	for _, t := range tolerances {
		selector := fmt.Sprintf("http_req_failed{class:%s}", t.class)
		out = append(out, loadtest.MustThreshold(selector, fmt.Sprintf("rate<=%g", t.tol), false))
	}
	return out
}

// RunLoad runs setup, the fixed-mix test and writes results.json.
func (h *Harness) RunLoad(ctx context.Context) (*reporting.LoadReport, error) {
	rc, err := h.Setup(ctx, SetupOptions{
		VerifyRateLimit: h.cfg.Load.EnableRateLimitScenarios,
		LoginPoolRPS:    h.cfg.Load.WriteRPS,
	})
	if err != nil {
		return nil, err
	}

	result, runErr := h.runner().Run(ctx, h.LoadScenarios(rc), h.LoadThresholds())
	if result == nil {
		return nil, runErr
	}

	report := reporting.BuildLoadReport(h.sink.Snapshot(), result, rc.RateLimitVerification)
	if _, err := reporting.Emit(h.out, h.cfg.Output.ResultsDir, report); err != nil {
		return report, err
	}
	if runErr != nil {
		return report, runErr
	}
	if !report.Passed {
		return report, ErrThresholdsBreached
	}
	return report, nil
}
