// Package loadtest runs open-model, arrival-rate load scenarios.
//
// # Overview
//
// A ScenarioConfig describes when iterations start, not how many workers
// run them. The Runner starts iterations at the scenario's rate and hands
// each one to a free virtual user (VU) from a bounded pool:
//
//   - constant-arrival-rate: a fixed rate for a fixed duration
//   - ramping-arrival-rate: a rate interpolated linearly between stage
//     targets, starting from StartRate
//
// When every VU is busy and the pool is at MaxVUs, the iteration is dropped
// and counted in the dropped_iterations metric instead of queueing, so a
// slow target shows up as a missed rate rather than as a hidden backlog.
//
// # Scheduling
//
// Scenarios run concurrently. StartTime delays a scenario relative to the
// start of the run; the probe schedulers use it to lay steps end to end:
//
//	plan := loadtest.BuildStepPlan(loadtest.StepPlanConfig{
//	    MinRPS: 10, MaxRPS: 100, StepRPS: 10,
//	    Warmup: 30 * time.Second, Step: 30 * time.Second, Pause: 5 * time.Second,
//	})
//	for _, step := range plan.Steps {
//	    // step.Offset == warmup + index*(step+pause)
//	}
//
// After a scenario's last iteration has been started, in-flight
// iterations get GracefulStop to finish before their context is
// cancelled.
//
// # Thresholds
//
// Thresholds are k6-style expressions on a metric selector:
//
//	loadtest.MustThreshold("http_req_failed{stage:probe}", "rate<0.01", true)
//	loadtest.MustThreshold("http_req_duration", "p(95)<1000", false)
//
// Thresholds marked abort-on-fail are evaluated while the run is in
// progress and cancel it as soon as they breach. All thresholds are
// evaluated once more when the run ends.
package loadtest
