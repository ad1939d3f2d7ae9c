// internal/scenario/probe.go
package scenario

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
	"github.com/FairForge/trailload/internal/reporting"
)

// probeGracefulStop is how long a finished probe step waits for its
// in-flight requests.
const probeGracefulStop = 10 * time.Second

// Probe is one variant of the monotonic capacity probe.
type Probe struct {
	Kind   reporting.ProbeKind
	Config *config.ProbeConfig
	// Keys are cycled by per-VU iteration index.
	Keys []string
	// WarmupRate is the warmup scenario's rate; zero uses MinRPS.
	WarmupRate int
	// P95 and P99 bound http_req_duration in milliseconds.
	P95, P99 float64
}

// RPSProbe probes every read endpoint, plus the writes when enabled.
func (h *Harness) RPSProbe() Probe {
	keys := append([]string{}, endpoint.ReadKeys...)
	if h.cfg.Load.EnableWriteScenarios {
		keys = append(keys, endpoint.WriteKeys...)
	}
	return Probe{
		Kind:   reporting.ProbeRPS,
		Config: &h.cfg.RPSProbe,
		Keys:   keys,
		P95:    1000,
		P99:    2000,
	}
}

// ProgressProbe probes the three per-user progress reads, warming up at
// half the first step.
func (h *Harness) ProgressProbe() Probe {
	return Probe{
		Kind:       reporting.ProbeProgress,
		Config:     &h.cfg.ProgressProbe,
		Keys:       append([]string{}, endpoint.ProgressKeys...),
		WarmupRate: max(1, int(math.Round(float64(h.cfg.ProgressProbe.MinRPS)*0.5))),
		P95:        500,
		P99:        750,
	}
}

// Plan lays out the probe's warmup and steps.
func (p Probe) Plan() loadtest.StepPlan {
	c := p.Config
	return loadtest.BuildStepPlan(loadtest.StepPlanConfig{
		Prefix:     string(p.Kind),
		MinRPS:     c.MinRPS,
		MaxRPS:     c.MaxRPS,
		StepRPS:    c.StepRPS,
		WarmupRate: p.WarmupRate,
		Warmup:     seconds(c.WarmupDuration),
		Step:       seconds(c.StepDuration),
		Pause:      seconds(c.StepPause),
	})
}

// Thresholds aborts the probe once the probe stages exceed the failure
// tolerance; the latency bounds only mark the run failed.
func (p Probe) Thresholds() []loadtest.Threshold {
	return []loadtest.Threshold{
		loadtest.MustThreshold("http_req_failed{stage:probe}", fmt.Sprintf("rate<%g", p.Config.FailureTolerance), true),
		loadtest.MustThreshold(metrics.HTTPReqDuration, fmt.Sprintf("p(95)<%g", p.P95), false),
		loadtest.MustThreshold(metrics.HTTPReqDuration, fmt.Sprintf("p(99)<%g", p.P99), false),
	}
}

// ProbeScenarios builds the step scenarios. Each iteration issues
// Keys[index % len(Keys)] and counts the outcome in the variant's
// requests and failures counters; skipped calls are not counted.
func (h *Harness) ProbeScenarios(p Probe, rc *endpoint.RunContext) []loadtest.ScenarioConfig {
	requests := h.sink.Counter(p.Kind.RequestsMetric(), "Requests issued per probe step", "scenario", "target_rps")
	failures := h.sink.Counter(p.Kind.FailuresMetric(), "Failed requests per probe step", "scenario", "target_rps")

	exec := func(ctx context.Context, it loadtest.Iteration) {
		if len(p.Keys) == 0 {
			return
		}
		key := p.Keys[it.Index%len(p.Keys)]
		outcome := h.executor.Request(ctx, key, rc, callFor(it))
		if outcome.Skipped {
			return
		}
		labels := metrics.Labels{"scenario": it.Scenario, "target_rps": it.Tags["target_rps"]}
		requests.Inc(labels)
		if endpoint.Failed(outcome) {
			failures.Inc(labels)
		}
	}

	return p.Plan().Scenarios(loadtest.ScenarioConfig{
		GracefulStop:    probeGracefulStop,
		PreAllocatedVUs: p.Config.PreAllocatedVUs,
		MaxVUs:          p.Config.MaxVUs,
		Exec:            exec,
	})
}

// RunProbe runs setup, the probe and writes its artifact.
func (h *Harness) RunProbe(ctx context.Context, p Probe) (*reporting.ProbeReport, error) {
	rc, err := h.Setup(ctx, SetupOptions{})
	if err != nil {
		return nil, err
	}

	result, runErr := h.runner().Run(ctx, h.ProbeScenarios(p, rc), p.Thresholds())
	if result == nil {
		return nil, runErr
	}

	report := reporting.BuildProbeReport(p.Kind, p.Config, p.Plan(), h.sink.Snapshot(), result)
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
