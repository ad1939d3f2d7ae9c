// internal/loadtest/framework.go
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/FairForge/trailload/internal/metrics"
)

// maxPacingSleep bounds how long the scheduler sleeps before it looks at
// the ramp again.
const maxPacingSleep = 100 * time.Millisecond

// ScenarioStats summarises one scenario after the run.
type ScenarioStats struct {
	Name       string
	Iterations int64
	Dropped    int64
	VUs        int
}

// RunResult aggregates a run.
type RunResult struct {
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	Aborted     bool
	AbortReason string
	Thresholds  []ThresholdResult
	Scenarios   []ScenarioStats
}

// Passed reports whether the run completed and every threshold held.
func (r *RunResult) Passed() bool {
	return !r.Aborted && AllPassed(r.Thresholds)
}

// Runner orchestrates arrival-rate scenarios.
type Runner struct {
	sink       *metrics.Sink
	logger     *zap.Logger
	iterations *metrics.Counter
	dropped    *metrics.Counter

	// CheckInterval is how often abort-on-fail thresholds are evaluated.
	CheckInterval time.Duration

	vuSeq atomic.Int64

	mu      sync.Mutex
	running bool
}

// NewRunner creates a runner recording into sink.
func NewRunner(sink *metrics.Sink, logger *zap.Logger) *Runner {
	return &Runner{
		sink:          sink,
		logger:        logger,
		iterations:    sink.Counter(metrics.Iterations, "Completed scenario iterations", "scenario"),
		dropped:       sink.Counter(metrics.DroppedIterations, "Iterations not started because no VU was free", "scenario"),
		CheckInterval: time.Second,
	}
}

// Run executes scenarios concurrently and evaluates thresholds at the end.
// An abort-on-fail breach cancels the run and is reported in the result,
// not as an error. Cancelling ctx returns the partial result with
// ctx.Err().
func (r *Runner) Run(ctx context.Context, scenarios []ScenarioConfig, thresholds []Threshold) (*RunResult, error) {
	if len(scenarios) == 0 {
		return nil, errors.New("loadtest: no scenarios to run")
	}
	for i := range scenarios {
		if err := scenarios[i].Validate(); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, fmt.Errorf("loadtest: run already in progress")
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &RunResult{Start: time.Now()}
	stats := make([]ScenarioStats, len(scenarios))

	watchDone := make(chan struct{})
	stopWatch := make(chan struct{})
	go func() {
		defer close(watchDone)
		reason := r.watchAbort(stopWatch, thresholds)
		if reason != "" {
			result.Aborted = true
			result.AbortReason = reason
			cancel()
		}
	}()

	var wg sync.WaitGroup
	for i := range scenarios {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			stats[i] = r.runScenario(runCtx, result.Start, scenarios[i])
		}(i)
	}
	wg.Wait()
	close(stopWatch)
	<-watchDone

	result.End = time.Now()
	result.Duration = result.End.Sub(result.Start)
	result.Scenarios = stats
	result.Thresholds = EvaluateThresholds(thresholds, r.sink.Snapshot())

	if result.Aborted {
		r.logger.Warn("run aborted by threshold", zap.String("reason", result.AbortReason))
	}
	if !result.Aborted && ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

// watchAbort polls abort-on-fail thresholds until stop closes. It returns
// the first breach message, or "" when none breached.
func (r *Runner) watchAbort(stop <-chan struct{}, thresholds []Threshold) string {
	var (
		abort []Threshold
		names []string
	)
	for _, t := range thresholds {
		if t.AbortOnFail {
			abort = append(abort, t)
			names = append(names, t.MetricName())
		}
	}
	if len(abort) == 0 {
		<-stop
		return ""
	}

	ticker := time.NewTicker(r.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return ""
		case <-ticker.C:
			snap := r.sink.SnapshotOf(names...)
			for _, t := range abort {
				if res := t.Evaluate(snap); !res.Passed {
					return res.Message
				}
			}
		}
	}
}

type vu struct {
	id    int
	index int
}

// runScenario paces one scenario and blocks until its iterations finish
// or are interrupted after the graceful stop.
func (r *Runner) runScenario(ctx context.Context, runStart time.Time, sc ScenarioConfig) ScenarioStats {
	stats := ScenarioStats{Name: sc.Name}
	labels := metrics.Labels{"scenario": sc.Name}

	if !sleepUntil(ctx, runStart.Add(sc.StartTime)) {
		return stats
	}

	maxVUs := max(sc.MaxVUs, sc.PreAllocatedVUs)
	idle := make(chan *vu, maxVUs)
	allocated := 0
	allocate := func() *vu {
		allocated++
		return &vu{id: int(r.vuSeq.Add(1))}
	}
	for i := 0; i < sc.PreAllocatedVUs; i++ {
		idle <- allocate()
	}

	iterCtx, cancelIter := context.WithCancel(ctx)
	defer cancelIter()

	var (
		inflight   sync.WaitGroup
		iterations atomic.Int64
	)
	start := func(v *vu) {
		it := Iteration{VU: v.id, Index: v.index, Scenario: sc.Name, Tags: sc.Tags}
		v.index++
		inflight.Add(1)
		go func() {
			defer inflight.Done()
			sc.Exec(iterCtx, it)
			iterations.Add(1)
			r.iterations.Inc(labels)
			idle <- v
		}()
	}

	r.logger.Info("scenario started",
		zap.String("scenario", sc.Name),
		zap.String("executor", string(sc.Executor)),
		zap.Duration("duration", sc.TotalDuration()))

	scStart := time.Now()
	end := scStart.Add(sc.TotalDuration())
	limiter := rate.NewLimiter(rate.Limit(sc.RateAt(0)), 1)

	for {
		now := time.Now()
		if !now.Before(end) {
			break
		}
		current := sc.RateAt(now.Sub(scStart))
		if current <= 0 {
			if !sleepFor(ctx, min(maxPacingSleep, end.Sub(now))) {
				break
			}
			continue
		}

		limiter.SetLimitAt(now, rate.Limit(current))
		res := limiter.ReserveN(now, 1)
		delay := res.DelayFrom(now)
		if delay > maxPacingSleep {
			res.CancelAt(now)
			if !sleepFor(ctx, min(maxPacingSleep, end.Sub(now))) {
				break
			}
			continue
		}
		if !now.Add(delay).Before(end) {
			break
		}
		if !sleepFor(ctx, delay) {
			break
		}

		select {
		case v := <-idle:
			start(v)
		default:
			if allocated < maxVUs {
				start(allocate())
			} else {
				stats.Dropped++
				r.dropped.Inc(labels)
			}
		}
	}

	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	grace := time.NewTimer(sc.GracefulStop)
	defer grace.Stop()
	select {
	case <-done:
	case <-grace.C:
		cancelIter()
		<-done
	case <-ctx.Done():
		cancelIter()
		<-done
	}

	stats.Iterations = iterations.Load()
	stats.VUs = allocated
	r.logger.Info("scenario finished",
		zap.String("scenario", sc.Name),
		zap.Int64("iterations", stats.Iterations),
		zap.Int64("dropped", stats.Dropped),
		zap.Int("vus", stats.VUs))
	return stats
}

func sleepUntil(ctx context.Context, t time.Time) bool {
	return sleepFor(ctx, time.Until(t))
}

// sleepFor waits d or until ctx is done, reporting whether ctx is still live.
func sleepFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
