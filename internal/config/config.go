// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/FairForge/trailload/internal/codec"
)

// Config is built once at process start and passed by pointer to every
// scheduler. Durations are kept in their human form ("30s") and converted
// with codec.DurationToSeconds where the schedule is computed.
type Config struct {
	Target        TargetConfig `yaml:"target"`
	Auth          AuthConfig   `yaml:"auth"`
	Load          LoadConfig   `yaml:"load"`
	RPSProbe      ProbeConfig  `yaml:"rps_probe"`
	ProgressProbe ProbeConfig  `yaml:"progress_probe"`
	ProgressWrite WriteConfig  `yaml:"progress_write"`
	Output        OutputConfig `yaml:"output"`
}

type TargetConfig struct {
	BaseURL               string `yaml:"base_url" default:"http://localhost:5000"`
	InsecureSkipTLSVerify bool   `yaml:"insecure_skip_tls_verify" default:"true"`
	RequestTimeout        string `yaml:"request_timeout" default:"60s"`
}

type AuthConfig struct {
	Email                string   `yaml:"email"`
	Password             string   `yaml:"password" default:"PerfTest@123"`
	Username             string   `yaml:"username"`
	SessionCookieName    string   `yaml:"session_cookie_name" default:"rota_session"`
	SessionCookieAliases []string `yaml:"session_cookie_aliases"`
	CSRFCookieName       string   `yaml:"csrf_cookie_name" default:"rota_csrf"`
	CSRFCookieAliases    []string `yaml:"csrf_cookie_aliases"`
	CSRFHeaderName       string   `yaml:"csrf_header_name" default:"X-CSRF-Token"`

	RateLimitMaxAttempts   int    `yaml:"rate_limit_max_attempts" default:"5"`
	RateLimitWindowSeconds int    `yaml:"rate_limit_window_seconds" default:"60"`
	RateLimitAttemptDelay  string `yaml:"rate_limit_attempt_delay" default:"100ms"`
	LoginUserPool          int    `yaml:"login_user_pool"` // 0 sizes the pool from WriteRPS
}

type LoadConfig struct {
	TargetRPS                int     `yaml:"target_rps" default:"5"`
	WriteRPS                 int     `yaml:"write_rps"` // 0 derives 20% of TargetRPS
	TestDuration             string  `yaml:"test_duration" default:"1m"`
	WarmupDuration           string  `yaml:"warmup_duration" default:"10s"`
	CooldownDuration         string  `yaml:"cooldown_duration" default:"10s"`
	GracefulStop             string  `yaml:"graceful_stop" default:"10s"`
	PreAllocatedVUs          int     `yaml:"pre_allocated_vus" default:"20"`
	MaxVUs                   int     `yaml:"max_vus"`
	EnableWriteScenarios     bool    `yaml:"enable_write_scenarios" default:"true"`
	EnableRateLimitScenarios bool    `yaml:"enable_rate_limit_scenarios" default:"false"`
	ReadFailureTolerance     float64 `yaml:"read_failure_tolerance" default:"0.01"`
	WriteFailureTolerance    float64 `yaml:"write_failure_tolerance" default:"0.05"`
}

// ProbeConfig drives a monotonic step probe.
type ProbeConfig struct {
	MinRPS           int     `yaml:"min_rps"`
	MaxRPS           int     `yaml:"max_rps"`
	StepRPS          int     `yaml:"step_rps"`
	WarmupDuration   string  `yaml:"warmup_duration"`
	StepDuration     string  `yaml:"step_duration"`
	StepPause        string  `yaml:"step_pause"`
	FailureTolerance float64 `yaml:"failure_tolerance"`
	ThroughputRatio  float64 `yaml:"throughput_ratio" default:"0.9"`
	PreAllocatedVUs  int     `yaml:"pre_allocated_vus"`
	MaxVUs           int     `yaml:"max_vus"`
}

type WriteConfig struct {
	TargetRPS        int     `yaml:"target_rps" default:"500"`
	TestDuration     string  `yaml:"test_duration" default:"2m"`
	WarmupDuration   string  `yaml:"warmup_duration" default:"30s"`
	CooldownDuration string  `yaml:"cooldown_duration" default:"30s"`
	FailureTolerance float64 `yaml:"failure_tolerance" default:"0.02"`
	PreAllocatedVUs  int     `yaml:"pre_allocated_vus" default:"100"`
	MaxVUs           int     `yaml:"max_vus"`
}

type OutputConfig struct {
	ResultsDir  string `yaml:"results_dir" default:"performance"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level" default:"info"`
	LogFormat   string `yaml:"log_format" default:"json"`
	SandboxAddr string `yaml:"sandbox_addr" default:":5000"`
}

// Default returns the harness defaults.
func Default() *Config {
	return &Config{
		Target: TargetConfig{
			BaseURL:               "http://localhost:5000",
			InsecureSkipTLSVerify: true,
			RequestTimeout:        "60s",
		},
		Auth: AuthConfig{
			Password:               "PerfTest@123",
			SessionCookieName:      "rota_session",
			SessionCookieAliases:   []string{"session"},
			CSRFCookieName:         "rota_csrf",
			CSRFCookieAliases:      []string{"csrf_token", "XSRF-TOKEN"},
			CSRFHeaderName:         "X-CSRF-Token",
			RateLimitMaxAttempts:   5,
			RateLimitWindowSeconds: 60,
			RateLimitAttemptDelay:  "100ms",
		},
		Load: LoadConfig{
			TargetRPS:             5,
			TestDuration:          "1m",
			WarmupDuration:        "10s",
			CooldownDuration:      "10s",
			GracefulStop:          "10s",
			PreAllocatedVUs:       20,
			EnableWriteScenarios:  true,
			ReadFailureTolerance:  0.01,
			WriteFailureTolerance: 0.05,
		},
		RPSProbe: ProbeConfig{
			MinRPS:           10,
			MaxRPS:           100,
			StepRPS:          10,
			WarmupDuration:   "30s",
			StepDuration:     "30s",
			StepPause:        "5s",
			FailureTolerance: 0.01,
			ThroughputRatio:  0.9,
			PreAllocatedVUs:  50,
		},
		ProgressProbe: ProbeConfig{
			MinRPS:           100,
			MaxRPS:           1000,
			StepRPS:          100,
			WarmupDuration:   "30s",
			StepDuration:     "60s",
			StepPause:        "10s",
			FailureTolerance: 0.01,
			ThroughputRatio:  0.9,
			PreAllocatedVUs:  80,
		},
		ProgressWrite: WriteConfig{
			TargetRPS:        500,
			TestDuration:     "2m",
			WarmupDuration:   "30s",
			CooldownDuration: "30s",
			FailureTolerance: 0.02,
			PreAllocatedVUs:  100,
		},
		Output: OutputConfig{
			ResultsDir:  "performance",
			LogLevel:    "info",
			LogFormat:   "json",
			SandboxAddr: ":5000",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// HARNESS_CONFIG if any, then environment overrides.
func Load() (*Config, error) {
	cfg := Default()

	if path := GetEnvOrDefault("HARNESS_CONFIG", ""); path != "" {
		if err := LoadFile(cfg, path); err != nil {
			return nil, err
		}
	}

	LoadFromEnv(cfg)
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a YAML document onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// normalize fills the values that depend on other values.
func (c *Config) normalize() {
	if c.Load.TargetRPS < 1 {
		c.Load.TargetRPS = 1
	}
	if c.Load.WriteRPS <= 0 {
		c.Load.WriteRPS = max(1, (c.Load.TargetRPS+2)/5)
	}
	if c.Load.PreAllocatedVUs < 1 {
		c.Load.PreAllocatedVUs = 1
	}
	if c.Load.MaxVUs <= 0 {
		c.Load.MaxVUs = max(c.Load.PreAllocatedVUs*4, c.Load.PreAllocatedVUs+20)
	}
	c.Load.MaxVUs = max(c.Load.PreAllocatedVUs, c.Load.MaxVUs)

	normalizeProbe(&c.RPSProbe)
	normalizeProbe(&c.ProgressProbe)

	w := &c.ProgressWrite
	w.TargetRPS = max(1, w.TargetRPS)
	w.FailureTolerance = max(0, w.FailureTolerance)
	w.PreAllocatedVUs = max(1, w.PreAllocatedVUs)
	if w.MaxVUs <= 0 {
		w.MaxVUs = w.PreAllocatedVUs * 4
	}
	w.MaxVUs = max(w.PreAllocatedVUs, w.MaxVUs)
}

func normalizeProbe(p *ProbeConfig) {
	p.MinRPS = max(1, p.MinRPS)
	p.MaxRPS = max(p.MinRPS, p.MaxRPS)
	p.StepRPS = max(1, p.StepRPS)
	p.FailureTolerance = max(0, p.FailureTolerance)
	if p.ThroughputRatio <= 0 {
		p.ThroughputRatio = 0.9
	}
	p.PreAllocatedVUs = max(1, p.PreAllocatedVUs)
	if p.MaxVUs <= 0 {
		p.MaxVUs = max(p.PreAllocatedVUs*4, p.PreAllocatedVUs+20)
	}
	p.MaxVUs = max(p.PreAllocatedVUs, p.MaxVUs)
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	if c.Target.BaseURL == "" {
		return errors.New("config: BASE_URL is required")
	}
	if c.Auth.SessionCookieName == "" || c.Auth.CSRFCookieName == "" {
		return errors.New("config: session and CSRF cookie names are required")
	}
	if c.Auth.CSRFHeaderName == "" {
		return errors.New("config: CSRF header name is required")
	}
	if c.Auth.RateLimitMaxAttempts < 1 {
		return fmt.Errorf("config: invalid AUTH_RATE_LIMIT_MAX_ATTEMPTS: %d", c.Auth.RateLimitMaxAttempts)
	}
	if c.Auth.RateLimitWindowSeconds < 1 {
		return fmt.Errorf("config: invalid AUTH_RATE_LIMIT_WINDOW_SECONDS: %d", c.Auth.RateLimitWindowSeconds)
	}
	if err := c.validateDurations(); err != nil {
		return err
	}
	for name, ratio := range map[string]float64{
		"PROBE_THROUGHPUT_RATIO":    c.RPSProbe.ThroughputRatio,
		"PROGRESS_THROUGHPUT_RATIO": c.ProgressProbe.ThroughputRatio,
	} {
		if ratio > 1 {
			return fmt.Errorf("config: %s must be in (0, 1], got %v", name, ratio)
		}
	}
	return nil
}

type durationSetting struct {
	env      string
	value    string
	positive bool
}

// validateDurations rejects malformed durations. Settings that size a
// schedule must be positive; warmups, cooldowns and pauses may be zero.
func (c *Config) validateDurations() error {
	settings := []durationSetting{
		{"REQUEST_TIMEOUT", c.Target.RequestTimeout, true},
		{"AUTH_RATE_LIMIT_ATTEMPT_DELAY", c.Auth.RateLimitAttemptDelay, false},
		{"TEST_DURATION", c.Load.TestDuration, true},
		{"WARMUP_DURATION", c.Load.WarmupDuration, false},
		{"COOLDOWN_DURATION", c.Load.CooldownDuration, false},
		{"GRACEFUL_STOP", c.Load.GracefulStop, false},
		{"PROBE_WARMUP_DURATION", c.RPSProbe.WarmupDuration, false},
		{"PROBE_STEP_DURATION", c.RPSProbe.StepDuration, true},
		{"PROBE_STEP_PAUSE", c.RPSProbe.StepPause, false},
		{"PROGRESS_WARMUP_DURATION", c.ProgressProbe.WarmupDuration, false},
		{"PROGRESS_STEP_DURATION", c.ProgressProbe.StepDuration, true},
		{"PROGRESS_STEP_PAUSE", c.ProgressProbe.StepPause, false},
		{"PROGRESS_WRITE_DURATION", c.ProgressWrite.TestDuration, true},
		{"PROGRESS_WRITE_WARMUP", c.ProgressWrite.WarmupDuration, false},
		{"PROGRESS_WRITE_COOLDOWN", c.ProgressWrite.CooldownDuration, false},
	}
	for _, d := range settings {
		seconds, err := codec.ParseSeconds(d.value)
		if err != nil {
			return fmt.Errorf("config: invalid %s: %q", d.env, d.value)
		}
		if d.positive && seconds <= 0 {
			return fmt.Errorf("config: invalid %s: %q must be greater than zero", d.env, d.value)
		}
	}
	return nil
}
