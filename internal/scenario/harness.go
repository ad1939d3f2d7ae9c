// Package scenario assembles the harness's three run modes, the fixed-mix
// load test, the monotonic probes and the focused write probe, from the
// shared setup, the endpoint executor and the arrival-rate runner.
package scenario

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/client"
	"github.com/FairForge/trailload/internal/codec"
	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/dataset"
	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
)

// ErrThresholdsBreached is returned after the report has been written when
// a threshold failed or an abort-on-fail threshold stopped the run.
var ErrThresholdsBreached = errors.New("scenario: thresholds breached")

// Harness holds everything one run shares: configuration, transport,
// metrics and the endpoint executor.
type Harness struct {
	cfg          *config.Config
	logger       *zap.Logger
	client       *client.Client
	sink         *metrics.Sink
	executor     *endpoint.Executor
	bootstrapper *auth.Bootstrapper
	hydrator     *dataset.Hydrator
	out          io.Writer

	// CheckInterval overrides how often abort-on-fail thresholds are
	// polled; zero keeps the runner default.
	CheckInterval time.Duration
}

// New wires a harness for cfg. Reports are printed to stdout.
func New(cfg *config.Config, sink *metrics.Sink, logger *zap.Logger) *Harness {
	c := client.New(client.Options{
		BaseURL:               cfg.Target.BaseURL,
		Timeout:               seconds(cfg.Target.RequestTimeout),
		InsecureSkipTLSVerify: cfg.Target.InsecureSkipTLSVerify,
		MaxConns:              max(cfg.Load.MaxVUs, cfg.RPSProbe.MaxVUs, cfg.ProgressProbe.MaxVUs, cfg.ProgressWrite.MaxVUs),
	})
	b := auth.NewBootstrapper(c, cfg, logger)

	return &Harness{
		cfg:          cfg,
		logger:       logger,
		client:       c,
		sink:         sink,
		executor:     endpoint.NewExecutor(c, endpoint.DefaultRegistry(), metrics.NewHTTP(sink), b.Names(), logger),
		bootstrapper: b,
		hydrator:     dataset.NewHydrator(c, logger),
		out:          os.Stdout,
	}
}

// SetOutput redirects the text summaries.
func (h *Harness) SetOutput(w io.Writer) {
	h.out = w
}

// Bootstrapper exposes the identity bootstrapper, e.g. for a standalone
// rate-limit check.
func (h *Harness) Bootstrapper() *auth.Bootstrapper {
	return h.bootstrapper
}

func (h *Harness) runner() *loadtest.Runner {
	r := loadtest.NewRunner(h.sink, h.logger)
	if h.CheckInterval > 0 {
		r.CheckInterval = h.CheckInterval
	}
	return r
}

// iteration adapts an endpoint key into a scenario body.
func (h *Harness) iteration(key string, rc *endpoint.RunContext) loadtest.IterationFunc {
	return func(ctx context.Context, it loadtest.Iteration) {
		h.executor.Request(ctx, key, rc, callFor(it))
	}
}

func callFor(it loadtest.Iteration) endpoint.Call {
	return endpoint.Call{VU: it.VU, Iteration: it.Index, Scenario: it.Scenario, Tags: it.Tags}
}

func seconds(s string) time.Duration {
	return time.Duration(codec.DurationToSeconds(s) * float64(time.Second))
}
