// internal/loadtest/plan.go
package loadtest

import (
	"fmt"
	"strconv"
	"time"
)

// Stage tags used by the probe schedules.
const (
	StageWarmup = "warmup"
	StageProbe  = "probe"
)

// StepPlanConfig defines a monotonic capacity probe.
type StepPlanConfig struct {
	Prefix     string // step names are <Prefix>_<rate>, "probe" when empty
	MinRPS     int
	MaxRPS     int
	StepRPS    int
	WarmupRate int // 0 uses MinRPS
	Warmup     time.Duration
	Step       time.Duration
	Pause      time.Duration
}

// PlannedStep is one constant-rate segment of the probe.
type PlannedStep struct {
	Name      string
	Stage     string
	TargetRPS int
	Offset    time.Duration
	Duration  time.Duration
}

// StepPlan is the full probe schedule. Warmup is nil when no warmup was
// requested.
type StepPlan struct {
	Warmup *PlannedStep
	Steps  []PlannedStep
	Total  time.Duration
}

// Rates returns MIN, MIN+STEP, ... up to and including MAX when reachable,
// or just MIN when the range is empty.
func (c StepPlanConfig) Rates() []int {
	step := max(1, c.StepRPS)
	var rates []int
	for r := c.MinRPS; r <= c.MaxRPS; r += step {
		rates = append(rates, r)
	}
	if len(rates) == 0 {
		rates = append(rates, c.MinRPS)
	}
	return rates
}

// BuildStepPlan lays the warmup and probe steps end to end. Step i starts
// at warmup + i*(step+pause).
func BuildStepPlan(c StepPlanConfig) StepPlan {
	var plan StepPlan
	offset := time.Duration(0)

	if c.Warmup > 0 {
		rate := c.WarmupRate
		if rate <= 0 {
			rate = c.MinRPS
		}
		plan.Warmup = &PlannedStep{
			Name:      StageWarmup,
			Stage:     StageWarmup,
			TargetRPS: max(1, rate),
			Duration:  c.Warmup,
		}
		offset = c.Warmup
	}

	prefix := c.Prefix
	if prefix == "" {
		prefix = StageProbe
	}
	for _, rate := range c.Rates() {
		plan.Steps = append(plan.Steps, PlannedStep{
			Name:      fmt.Sprintf("%s_%d", prefix, rate),
			Stage:     StageProbe,
			TargetRPS: rate,
			Offset:    offset,
			Duration:  c.Step,
		})
		plan.Total = offset + c.Step
		offset += c.Step + c.Pause
	}
	return plan
}

// Scenarios turns the plan into constant-arrival-rate scenarios sharing
// exec. Every scenario is tagged with its stage and target_rps.
func (p StepPlan) Scenarios(base ScenarioConfig) []ScenarioConfig {
	var out []ScenarioConfig
	add := func(s PlannedStep) {
		sc := base
		sc.Name = s.Name
		sc.Executor = ConstantArrivalRate
		sc.Rate = float64(s.TargetRPS)
		sc.Duration = s.Duration
		sc.StartTime = s.Offset
		sc.Tags = mergeTags(base.Tags, map[string]string{
			"stage":      s.Stage,
			"target_rps": strconv.Itoa(s.TargetRPS),
		})
		out = append(out, sc)
	}
	if p.Warmup != nil {
		add(*p.Warmup)
	}
	for _, s := range p.Steps {
		add(s)
	}
	return out
}

func mergeTags(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
