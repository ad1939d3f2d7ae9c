package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HARNESS_CONFIG", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:5000", cfg.Target.BaseURL)
	assert.Equal(t, "rota_session", cfg.Auth.SessionCookieName)
	assert.Equal(t, "rota_csrf", cfg.Auth.CSRFCookieName)
	assert.Equal(t, 5, cfg.Load.TargetRPS)
	assert.Equal(t, 1, cfg.Load.WriteRPS)
	assert.Equal(t, 80, cfg.Load.MaxVUs)
	assert.True(t, cfg.Load.EnableWriteScenarios)
	assert.False(t, cfg.Load.EnableRateLimitScenarios)
	assert.Equal(t, 200, cfg.RPSProbe.MaxVUs)
	assert.Equal(t, 400, cfg.ProgressWrite.MaxVUs)
	assert.Equal(t, 0.9, cfg.ProgressProbe.ThroughputRatio)
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("BASE_URL", "https://perf.example.com/")
	t.Setenv("TARGET_RPS", "50")
	t.Setenv("WRITE_RPS", "7.6")
	t.Setenv("ENABLE_WRITE_SCENARIOS", "FALSE")
	t.Setenv("ENABLE_RATE_LIMIT_SCENARIOS", "yes")
	t.Setenv("CSRF_COOKIE_ALIASES", " xsrf , ,csrftoken")
	t.Setenv("PROBE_FAILURE_TOLERANCE", "0.05")
	t.Setenv("PROGRESS_MIN_RPS", "not-a-number")

	cfg := Default()
	LoadFromEnv(cfg)
	cfg.normalize()

	assert.Equal(t, "https://perf.example.com", cfg.Target.BaseURL)
	assert.Equal(t, 50, cfg.Load.TargetRPS)
	assert.Equal(t, 8, cfg.Load.WriteRPS)
	assert.False(t, cfg.Load.EnableWriteScenarios)
	assert.True(t, cfg.Load.EnableRateLimitScenarios)
	assert.Equal(t, []string{"xsrf", "csrftoken"}, cfg.Auth.CSRFCookieAliases)
	assert.Equal(t, 0.05, cfg.RPSProbe.FailureTolerance)
	assert.Equal(t, 100, cfg.ProgressProbe.MinRPS)
}

func TestNormalize_ProbeBounds(t *testing.T) {
	cfg := Default()
	cfg.RPSProbe.MinRPS = 0
	cfg.RPSProbe.MaxRPS = -4
	cfg.RPSProbe.StepRPS = 0
	cfg.RPSProbe.MaxVUs = 3
	cfg.normalize()

	assert.Equal(t, 1, cfg.RPSProbe.MinRPS)
	assert.Equal(t, 1, cfg.RPSProbe.MaxRPS)
	assert.Equal(t, 1, cfg.RPSProbe.StepRPS)
	assert.Equal(t, 50, cfg.RPSProbe.MaxVUs)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "harness.yaml")
	doc := []byte(`
target:
  base_url: http://staging:8080
load:
  target_rps: 40
progress_write:
  target_rps: 120
`)
	require.NoError(t, os.WriteFile(path, doc, 0o600))
	t.Setenv("HARNESS_CONFIG", path)
	t.Setenv("TARGET_RPS", "60")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://staging:8080", cfg.Target.BaseURL)
	assert.Equal(t, 60, cfg.Load.TargetRPS, "environment wins over the file")
	assert.Equal(t, 120, cfg.ProgressWrite.TargetRPS)
	assert.Equal(t, "rota_session", cfg.Auth.SessionCookieName, "unset keys keep defaults")
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Auth.RateLimitMaxAttempts = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.RPSProbe.ThroughputRatio = 1.5
	assert.Error(t, cfg.Validate())

	assert.NoError(t, Default().Validate())
}

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("TRAILLOAD_TEST_VALUE", "set")
	assert.Equal(t, "set", GetEnvOrDefault("TRAILLOAD_TEST_VALUE", "fallback"))
	assert.Equal(t, "fallback", GetEnvOrDefault("TRAILLOAD_TEST_MISSING", "fallback"))

	t.Run("unset string settings keep their current value", func(t *testing.T) {
		t.Setenv("RESULTS_DIR", "")
		cfg := Default()
		LoadFromEnv(cfg)
		assert.Equal(t, "performance", cfg.Output.ResultsDir)
	})
}

func TestLoadFromEnv_Booleans(t *testing.T) {
	tests := []struct {
		value string
		start bool
		want  bool
	}{
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"false", true, false},
		{"1", false, true},
		{"TRUE", false, true},
		{"on", false, true},
		{"maybe", true, true},
		{"maybe", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			// Arrange
			t.Setenv("ENABLE_RATE_LIMIT_SCENARIOS", tt.value)
			cfg := Default()
			cfg.Load.EnableRateLimitScenarios = tt.start

			// Act
			LoadFromEnv(cfg)

			// Assert
			assert.Equal(t, tt.want, cfg.Load.EnableRateLimitScenarios)
		})
	}
}

func TestLoad_Durations(t *testing.T) {
	t.Setenv("HARNESS_CONFIG", "")

	t.Run("compound durations are accepted", func(t *testing.T) {
		t.Setenv("TEST_DURATION", "1m30s")
		t.Setenv("PROBE_STEP_DURATION", "45")
		t.Setenv("WARMUP_DURATION", "0s")

		cfg, err := Load()

		require.NoError(t, err)
		assert.Equal(t, "1m30s", cfg.Load.TestDuration)
		assert.Equal(t, "45", cfg.RPSProbe.StepDuration)
	})

	tests := []struct {
		env   string
		value string
	}{
		{"TEST_DURATION", "30 s"},
		{"TEST_DURATION", "0s"},
		{"PROBE_STEP_DURATION", "abc"},
		{"PROGRESS_STEP_DURATION", "0"},
		{"PROGRESS_WRITE_DURATION", "-1m"},
		{"REQUEST_TIMEOUT", "10d"},
		{"WARMUP_DURATION", "ten seconds"},
		{"PROBE_STEP_PAUSE", "5 s"},
		{"PROGRESS_WRITE_COOLDOWN", "-5s"},
		{"GRACEFUL_STOP", "1m30"},
	}
	for _, tt := range tests {
		t.Run(tt.env+"="+tt.value, func(t *testing.T) {
			// Arrange
			t.Setenv(tt.env, tt.value)

			// Act
			_, err := Load()

			// Assert
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config: invalid "+tt.env)
		})
	}
}
