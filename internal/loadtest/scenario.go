// internal/loadtest/scenario.go
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ExecutorType selects how a scenario paces iterations.
type ExecutorType string

const (
	ConstantArrivalRate ExecutorType = "constant-arrival-rate"
	RampingArrivalRate  ExecutorType = "ramping-arrival-rate"
)

// Stage is one segment of a ramping schedule: the rate moves linearly to
// Target over Duration.
type Stage struct {
	Duration time.Duration
	Target   float64
}

// Iteration identifies one execution of a scenario's function. VU is
// 1-based and unique across the run; Index counts the iterations that VU
// has run within the scenario.
type Iteration struct {
	VU       int
	Index    int
	Scenario string
	Tags     map[string]string
}

// IterationFunc is the body of a scenario. It must honour ctx.
type IterationFunc func(ctx context.Context, it Iteration)

// ScenarioConfig describes one scenario.
type ScenarioConfig struct {
	Name     string
	Executor ExecutorType

	// Constant arrival rate.
	Rate     float64
	Duration time.Duration

	// Ramping arrival rate.
	StartRate float64
	Stages    []Stage

	StartTime       time.Duration
	GracefulStop    time.Duration
	PreAllocatedVUs int
	MaxVUs          int
	Tags            map[string]string
	Exec            IterationFunc
}

// Validate checks the scenario can be scheduled.
func (s *ScenarioConfig) Validate() error {
	if s.Name == "" {
		return errors.New("loadtest: scenario name is required")
	}
	if s.Exec == nil {
		return fmt.Errorf("loadtest: scenario %s has no iteration function", s.Name)
	}
	if s.PreAllocatedVUs < 1 {
		return fmt.Errorf("loadtest: scenario %s needs at least one pre-allocated VU", s.Name)
	}
	switch s.Executor {
	case ConstantArrivalRate:
		if s.Rate <= 0 || s.Duration <= 0 {
			return fmt.Errorf("loadtest: scenario %s needs a positive rate and duration", s.Name)
		}
	case RampingArrivalRate:
		if len(s.Stages) == 0 {
			return fmt.Errorf("loadtest: scenario %s has no stages", s.Name)
		}
	default:
		return fmt.Errorf("loadtest: scenario %s has unknown executor %q", s.Name, s.Executor)
	}
	return nil
}

// TotalDuration is how long iterations keep being started.
func (s *ScenarioConfig) TotalDuration() time.Duration {
	if s.Executor == ConstantArrivalRate {
		return s.Duration
	}
	var total time.Duration
	for _, st := range s.Stages {
		total += st.Duration
	}
	return total
}

// End is when the scenario stops starting iterations, relative to the run.
func (s *ScenarioConfig) End() time.Duration {
	return s.StartTime + s.TotalDuration()
}

// RateAt returns the target iterations per second at elapsed time into
// the scenario.
func (s *ScenarioConfig) RateAt(elapsed time.Duration) float64 {
	if s.Executor == ConstantArrivalRate {
		return s.Rate
	}
	from := s.StartRate
	var offset time.Duration
	for _, st := range s.Stages {
		if elapsed < offset+st.Duration {
			if st.Duration <= 0 {
				return st.Target
			}
			frac := float64(elapsed-offset) / float64(st.Duration)
			return from + (st.Target-from)*frac
		}
		offset += st.Duration
		from = st.Target
	}
	return from
}

// ExpectedIterations integrates the rate over the whole schedule.
func (s *ScenarioConfig) ExpectedIterations() float64 {
	if s.Executor == ConstantArrivalRate {
		return s.Rate * s.Duration.Seconds()
	}
	total := 0.0
	from := s.StartRate
	for _, st := range s.Stages {
		total += (from + st.Target) / 2 * st.Duration.Seconds()
		from = st.Target
	}
	return math.Max(0, total)
}
