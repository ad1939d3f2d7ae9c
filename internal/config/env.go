// internal/config/env.go
package config

import (
	"math"
	"os"
	"strconv"
	"strings"
)

// LoadFromEnv overrides cfg with every harness environment variable that is
// set. Malformed numbers keep the previous value.
func LoadFromEnv(cfg *Config) {
	t := &cfg.Target
	setString(&t.BaseURL, "BASE_URL")
	t.BaseURL = strings.TrimRight(t.BaseURL, "/")
	setBool(&t.InsecureSkipTLSVerify, "INSECURE_SKIP_TLS_VERIFY")
	setString(&t.RequestTimeout, "REQUEST_TIMEOUT")

	a := &cfg.Auth
	setString(&a.Email, "AUTH_EMAIL")
	setString(&a.Password, "AUTH_PASSWORD")
	setString(&a.Username, "AUTH_USERNAME")
	setString(&a.SessionCookieName, "SESSION_COOKIE_NAME")
	setList(&a.SessionCookieAliases, "SESSION_COOKIE_ALIASES")
	setString(&a.CSRFCookieName, "CSRF_COOKIE_NAME")
	setList(&a.CSRFCookieAliases, "CSRF_COOKIE_ALIASES")
	setString(&a.CSRFHeaderName, "CSRF_HEADER_NAME")
	setInt(&a.RateLimitMaxAttempts, "AUTH_RATE_LIMIT_MAX_ATTEMPTS")
	setInt(&a.RateLimitWindowSeconds, "AUTH_RATE_LIMIT_WINDOW_SECONDS")
	setString(&a.RateLimitAttemptDelay, "AUTH_RATE_LIMIT_ATTEMPT_DELAY")
	setInt(&a.LoginUserPool, "LOGIN_USER_POOL")

	l := &cfg.Load
	setInt(&l.TargetRPS, "TARGET_RPS")
	setInt(&l.WriteRPS, "WRITE_RPS")
	setString(&l.TestDuration, "TEST_DURATION")
	setString(&l.WarmupDuration, "WARMUP_DURATION")
	setString(&l.CooldownDuration, "COOLDOWN_DURATION")
	setString(&l.GracefulStop, "GRACEFUL_STOP")
	setInt(&l.PreAllocatedVUs, "PRE_ALLOCATED_VUS")
	setInt(&l.MaxVUs, "MAX_VUS")
	setBool(&l.EnableWriteScenarios, "ENABLE_WRITE_SCENARIOS")
	setBool(&l.EnableRateLimitScenarios, "ENABLE_RATE_LIMIT_SCENARIOS")
	setFloat(&l.ReadFailureTolerance, "READ_FAILURE_TOLERANCE")
	setFloat(&l.WriteFailureTolerance, "WRITE_FAILURE_TOLERANCE")

	loadProbe(&cfg.RPSProbe, probeKeys{
		min: "MIN_PROBE_RPS", max: "MAX_PROBE_RPS", step: "PROBE_STEP_RPS",
		warmup: "PROBE_WARMUP_DURATION", stepDuration: "PROBE_STEP_DURATION", pause: "PROBE_STEP_PAUSE",
		tolerance: "PROBE_FAILURE_TOLERANCE", ratio: "PROBE_THROUGHPUT_RATIO",
		preVUs: "PRE_ALLOCATED_VUS", maxVUs: "MAX_VUS",
	})
	loadProbe(&cfg.ProgressProbe, probeKeys{
		min: "PROGRESS_MIN_RPS", max: "PROGRESS_MAX_RPS", step: "PROGRESS_STEP_RPS",
		warmup: "PROGRESS_WARMUP_DURATION", stepDuration: "PROGRESS_STEP_DURATION", pause: "PROGRESS_STEP_PAUSE",
		tolerance: "PROGRESS_FAILURE_TOLERANCE", ratio: "PROGRESS_THROUGHPUT_RATIO",
		preVUs: "PROGRESS_PRE_ALLOCATED_VUS", maxVUs: "PROGRESS_MAX_VUS",
	})

	w := &cfg.ProgressWrite
	setInt(&w.TargetRPS, "PROGRESS_WRITE_RPS")
	setString(&w.TestDuration, "PROGRESS_WRITE_DURATION")
	setString(&w.WarmupDuration, "PROGRESS_WRITE_WARMUP")
	setString(&w.CooldownDuration, "PROGRESS_WRITE_COOLDOWN")
	setFloat(&w.FailureTolerance, "PROGRESS_WRITE_FAILURE_TOLERANCE")
	setInt(&w.PreAllocatedVUs, "PROGRESS_WRITE_PRE_ALLOCATED_VUS")
	setInt(&w.MaxVUs, "PROGRESS_WRITE_MAX_VUS")

	o := &cfg.Output
	setString(&o.ResultsDir, "RESULTS_DIR")
	setString(&o.MetricsAddr, "METRICS_ADDR")
	setString(&o.LogLevel, "LOG_LEVEL")
	setString(&o.LogFormat, "LOG_FORMAT")
	setString(&o.SandboxAddr, "SANDBOX_ADDR")
}

type probeKeys struct {
	min, max, step, warmup, stepDuration, pause, tolerance, ratio, preVUs, maxVUs string
}

func loadProbe(p *ProbeConfig, keys probeKeys) {
	setInt(&p.MinRPS, keys.min)
	setInt(&p.MaxRPS, keys.max)
	setInt(&p.StepRPS, keys.step)
	setString(&p.WarmupDuration, keys.warmup)
	setString(&p.StepDuration, keys.stepDuration)
	setString(&p.StepPause, keys.pause)
	setFloat(&p.FailureTolerance, keys.tolerance)
	setFloat(&p.ThroughputRatio, keys.ratio)
	setInt(&p.PreAllocatedVUs, keys.preVUs)
	setInt(&p.MaxVUs, keys.maxVUs)
}

// GetEnvOrDefault returns the value of key, or defaultValue when it is
// unset or empty.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setString(dst *string, key string) {
	*dst = GetEnvOrDefault(key, *dst)
}

// setBool accepts the strconv.ParseBool forms plus yes/no and on/off.
// Anything else keeps the current value.
func setBool(dst *bool, key string) {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch value {
	case "":
		return
	case "yes", "on", "y":
		*dst = true
		return
	case "no", "off", "n":
		*dst = false
		return
	}
	if b, err := strconv.ParseBool(value); err == nil {
		*dst = b
	}
}

func setInt(dst *int, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	if n, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		*dst = n
		return
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*dst = int(math.Round(f))
	}
}

func setFloat(dst *float64, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		*dst = f
	}
}

func setList(dst *[]string, key string) {
	value := os.Getenv(key)
	if value == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*dst = items
}
