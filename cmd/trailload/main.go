// cmd/trailload/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/logging"
	"github.com/FairForge/trailload/internal/metrics"
	"github.com/FairForge/trailload/internal/ratelimit"
	"github.com/FairForge/trailload/internal/sandbox"
	"github.com/FairForge/trailload/internal/scenario"
)

// exitThresholds matches k6's exit code for breached thresholds.
const exitThresholds = 99

// app is what every subcommand needs.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	sink   *metrics.Sink
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "trailload",
		Short:         "Adaptive load generation for the trails backend",
		Long:          "trailload drives arrival-rate load and capacity probes against the trails REST API. Configuration comes from the environment and the optional HARNESS_CONFIG YAML file.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		harnessCmd("load", "Run the fixed-mix load test", func(ctx context.Context, h *scenario.Harness) error {
			_, err := h.RunLoad(ctx)
			return err
		}),
		harnessCmd("rps-probe", "Probe read (and write) capacity in increasing steps", func(ctx context.Context, h *scenario.Harness) error {
			_, err := h.RunProbe(ctx, h.RPSProbe())
			return err
		}),
		harnessCmd("progress-probe", "Probe the per-user progress reads in increasing steps", func(ctx context.Context, h *scenario.Harness) error {
			_, err := h.RunProbe(ctx, h.ProgressProbe())
			return err
		}),
		harnessCmd("progress-write", "Ramp item progress writes to the configured rate", func(ctx context.Context, h *scenario.Harness) error {
			_, err := h.RunWrite(ctx)
			return err
		}),
		verifyCmd(),
		sandboxCmd(),
	)
	return rootCmd
}

// harnessCmd wraps a scenario run with config, logging and metrics.
func harnessCmd(use, short string, run func(context.Context, *scenario.Harness) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			ctx := cmd.Context()
			a.serveMetrics(ctx)

			a.logger.Info("starting run",
				zap.String("command", use),
				zap.String("base_url", a.cfg.Target.BaseURL))
			start := time.Now()

			err = run(ctx, scenario.New(a.cfg, a.sink, a.logger))
			a.logRunEnd(use, time.Since(start), err)
			return err
		},
	}
}

func verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-ratelimit",
		Short: "Check that repeated logins are throttled with a Retry-After",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			h := scenario.New(a.cfg, a.sink, a.logger)
			result, err := ratelimit.NewVerifier(h.Bootstrapper(), a.cfg, a.logger).Verify(cmd.Context())
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					a.logger.Error("failed to print verification", zap.Error(encErr))
				}
			}
			return err
		},
	}
}

func sandboxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sandbox",
		Short: "Serve an in-memory trails backend for dry runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer func() { _ = a.logger.Sync() }()

			srv := sandbox.New(sandbox.OptionsFromConfig(a.cfg), a.logger)
			return srv.ListenAndServe(cmd.Context(), a.cfg.Output.SandboxAddr)
		},
	}
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(logging.LoggerConfig{
		Level:  cfg.Output.LogLevel,
		Format: cfg.Output.LogFormat,
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, sink: metrics.NewSink()}, nil
}

// serveMetrics exposes the sink on METRICS_ADDR until ctx is done.
func (a *app) serveMetrics(ctx context.Context) {
	addr := a.cfg.Output.MetricsAddr
	if addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.sink.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		a.logger.Info("metrics listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

func (a *app) logRunEnd(command string, elapsed time.Duration, err error) {
	fields := []zap.Field{zap.String("command", command), zap.Duration("elapsed", elapsed)}
	switch {
	case err == nil:
		a.logger.Info("run passed", fields...)
	case errors.Is(err, scenario.ErrThresholdsBreached):
		a.logger.Warn("run finished with breached thresholds", fields...)
	default:
		a.logger.Error("run failed", append(fields, zap.Error(err))...)
	}
}

// exitCode maps a command error onto the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, scenario.ErrThresholdsBreached):
		return exitThresholds
	default:
		fmt.Fprintln(os.Stderr, "trailload:", err)
		return 1
	}
}
