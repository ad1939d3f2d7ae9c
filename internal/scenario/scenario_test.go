package scenario

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FairForge/trailload/internal/auth"
	"github.com/FairForge/trailload/internal/config"
	"github.com/FairForge/trailload/internal/endpoint"
	"github.com/FairForge/trailload/internal/loadtest"
	"github.com/FairForge/trailload/internal/metrics"
	"github.com/FairForge/trailload/internal/reporting"
	"github.com/FairForge/trailload/internal/sandbox"
)

// testConfig returns a configuration with short schedules pointed at url.
func testConfig(t *testing.T, url string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Target.BaseURL = url
	cfg.Auth.RateLimitMaxAttempts = 3
	cfg.Auth.RateLimitAttemptDelay = "1ms"
	cfg.Output.ResultsDir = t.TempDir()
	return cfg
}

func newSandbox(t *testing.T, cfg *config.Config) (*sandbox.Server, string) {
	t.Helper()
	sb := sandbox.New(sandbox.OptionsFromConfig(cfg), zap.NewNop())
	srv := httptest.NewServer(sb)
	t.Cleanup(srv.Close)
	return sb, srv.URL
}

// sandboxHarness starts a sandbox and a harness pointed at it.
func sandboxHarness(t *testing.T, tweak func(cfg *config.Config)) (*Harness, *sandbox.Server, *bytes.Buffer) {
	t.Helper()
	cfg := testConfig(t, "")
	if tweak != nil {
		tweak(cfg)
	}
	sb, url := newSandbox(t, cfg)
	cfg.Target.BaseURL = url

	h := New(cfg, metrics.NewSink(), zap.NewNop())
	h.CheckInterval = 50 * time.Millisecond
	out := &bytes.Buffer{}
	h.SetOutput(out)
	return h, sb, out
}

func TestSetup_AgainstSandbox(t *testing.T) {
	// Arrange
	h, sb, _ := sandboxHarness(t, func(cfg *config.Config) {
		cfg.Auth.LoginUserPool = 3
	})

	// Act
	rc, err := h.Setup(context.Background(), SetupOptions{VerifyRateLimit: true, LoginPoolRPS: 1})

	// Assert
	require.NoError(t, err)
	assert.True(t, rc.Auth.HasSession())
	assert.NotEmpty(t, rc.Auth.CSRFToken())
	assert.Contains(t, rc.Auth.CookieHeader(), "rota_session=")
	assert.Contains(t, rc.Auth.CookieHeader(), "rota_csrf=")

	assert.Equal(t, "1", rc.Dataset.TrailID)
	assert.Equal(t, "10", rc.Dataset.SectionID)
	assert.Equal(t, "100", rc.Dataset.ItemID)
	assert.Equal(t, 120, rc.Dataset.ItemDurationSeconds)
	assert.Equal(t, "101", rc.Dataset.FormItemID)
	require.Len(t, rc.Dataset.FormQuestions, 2)
	assert.Equal(t, "7000", rc.Dataset.FormQuestions[0].FirstOptionID)
	assert.Empty(t, rc.Dataset.FormQuestions[1].FirstOptionID)

	assert.True(t, sb.Enrolled(rc.Credentials.Email, "1"))
	assert.Len(t, rc.LoginPool, 3)
	assert.Equal(t, rc.Credentials, rc.LoginPool[0])

	require.NotNil(t, rc.RateLimitVerification)
	assert.Equal(t, 3, rc.RateLimitVerification.FirstLimitedAt)
	assert.Equal(t, 20, rc.RateLimitVerification.RetryAfterSeconds)
	assert.Equal(t, []int{200, 200, 200, 429, 429, 429}, rc.RateLimitVerification.Statuses)
}

func TestSetup_RegisterConflictFallsBackToLogin(t *testing.T) {
	loginBackend := func(t *testing.T, loginStatus int) (string, func() []string) {
		var (
			mu     sync.Mutex
			logins []string
		)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/auth/register":
				w.WriteHeader(http.StatusConflict)
				_, _ = w.Write([]byte(`{"error":"User already exists"}`))
			case "/auth/login":
				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)
				mu.Lock()
				logins = append(logins, body["email"].(string))
				mu.Unlock()
				if loginStatus == http.StatusOK {
					http.SetCookie(w, &http.Cookie{Name: "rota_session", Value: "sess-1"})
					http.SetCookie(w, &http.Cookie{Name: "rota_csrf", Value: "csrf-1"})
					w.Header().Set("X-CSRF-Token", "csrf-1")
				}
				w.WriteHeader(loginStatus)
			default:
				http.NotFound(w, r)
			}
		}))
		t.Cleanup(srv.Close)
		return srv.URL, func() []string {
			mu.Lock()
			defer mu.Unlock()
			return append([]string(nil), logins...)
		}
	}

	t.Run("login succeeds", func(t *testing.T) {
		// Arrange
		url, logins := loginBackend(t, http.StatusOK)
		cfg := testConfig(t, url)
		cfg.Auth.Email = "existing@example.com"
		h := New(cfg, metrics.NewSink(), zap.NewNop())

		// Act
		rc, err := h.Setup(context.Background(), SetupOptions{})

		// Assert
		require.NoError(t, err)
		assert.Equal(t, "rota_session=sess-1; rota_csrf=csrf-1", rc.Auth.CookieHeader())
		assert.Equal(t, []string{"existing@example.com"}, logins())
		assert.Empty(t, rc.Dataset.TrailID)
	})

	t.Run("login fails", func(t *testing.T) {
		// Arrange
		url, _ := loginBackend(t, http.StatusUnauthorized)
		cfg := testConfig(t, url)
		cfg.Auth.Email = "existing@example.com"
		h := New(cfg, metrics.NewSink(), zap.NewNop())

		// Act
		rc, err := h.Setup(context.Background(), SetupOptions{})

		// Assert
		assert.Nil(t, rc)
		var setupErr *auth.SetupError
		require.True(t, errors.As(err, &setupErr))
		assert.Equal(t, "login", setupErr.Step)
		assert.Equal(t, http.StatusUnauthorized, setupErr.Status)
	})
}

func TestLoadScenarios(t *testing.T) {
	h, _, _ := sandboxHarness(t, func(cfg *config.Config) {
		cfg.Load.TargetRPS = 40
		cfg.Load.WriteRPS = 8
		cfg.Load.WarmupDuration = "10s"
		cfg.Load.TestDuration = "1m"
		cfg.Load.CooldownDuration = "10s"
	})

	t.Run("one ramping scenario per endpoint", func(t *testing.T) {
		scenarios := h.LoadScenarios(&endpoint.RunContext{})

		require.Len(t, scenarios, len(endpoint.ReadKeys)+1+len(endpoint.WriteKeys))
		byName := make(map[string]loadtest.ScenarioConfig)
		for _, sc := range scenarios {
			require.NoError(t, sc.Validate())
			byName[sc.Name] = sc
		}

		read := byName[endpoint.TrailsShowcase]
		assert.Equal(t, loadtest.RampingArrivalRate, read.Executor)
		assert.Equal(t, float64(10), read.StartRate)
		assert.Equal(t, []loadtest.Stage{
			{Duration: 10 * time.Second, Target: 40},
			{Duration: time.Minute, Target: 40},
			{Duration: 10 * time.Second, Target: 0},
		}, read.Stages)
		assert.Equal(t, map[string]string{"class": "read", "stage": "load"}, read.Tags)
		assert.Equal(t, 10*time.Second, read.GracefulStop)

		login := byName[endpoint.AuthLogin]
		assert.Equal(t, float64(2), login.StartRate)
		assert.Equal(t, float64(8), login.Stages[1].Target)
		assert.Equal(t, "auth", login.Tags["class"])

		enroll := byName[endpoint.UserTrailEnroll]
		assert.Equal(t, "write", enroll.Tags["class"])
		assert.Equal(t, time.Duration(0), enroll.GracefulStop)
	})

	t.Run("writes disabled", func(t *testing.T) {
		h.cfg.Load.EnableWriteScenarios = false
		defer func() { h.cfg.Load.EnableWriteScenarios = true }()

		keys := h.LoadKeys()

		assert.NotContains(t, keys, endpoint.TrailItemProgress)
		assert.NotContains(t, keys, endpoint.UserTrailEnroll)
		assert.Contains(t, keys, endpoint.AuthLogin)
	})

	t.Run("per-class thresholds", func(t *testing.T) {
		var selectors []string
		for _, th := range h.LoadThresholds() {
			selectors = append(selectors, th.String())
		}
		assert.Equal(t, []string{
			"http_req_failed{class:read}: rate<=0.01",
			"http_req_failed{class:write}: rate<=0.05",
			"http_req_failed{class:auth}: rate<=0.05",
		}, selectors)
	})
}

func TestProbeVariants(t *testing.T) {
	h, _, _ := sandboxHarness(t, nil)

	t.Run("rps", func(t *testing.T) {
		p := h.RPSProbe()
		plan := p.Plan()

		assert.Len(t, p.Keys, len(endpoint.ReadKeys)+len(endpoint.WriteKeys))
		require.NotNil(t, plan.Warmup)
		assert.Equal(t, 10, plan.Warmup.TargetRPS)
		assert.Len(t, plan.Steps, 10)
		assert.Equal(t, "probe_100", plan.Steps[9].Name)
		assert.Equal(t, "http_req_failed{stage:probe}: rate<0.01", p.Thresholds()[0].String())
		assert.True(t, p.Thresholds()[0].AbortOnFail)
		assert.Equal(t, "http_req_duration: p(95)<1000", p.Thresholds()[1].String())
	})

	t.Run("progress", func(t *testing.T) {
		p := h.ProgressProbe()
		plan := p.Plan()

		assert.Equal(t, endpoint.ProgressKeys, p.Keys)
		require.NotNil(t, plan.Warmup)
		assert.Equal(t, 50, plan.Warmup.TargetRPS)
		assert.Equal(t, "progress_100", plan.Steps[0].Name)
		assert.Equal(t, 30*time.Second, plan.Steps[0].Offset)
		assert.Equal(t, 100*time.Second, plan.Steps[1].Offset)
		assert.Equal(t, "http_req_duration: p(99)<750", p.Thresholds()[2].String())
	})
}

func TestWriteScenario(t *testing.T) {
	t.Run("full schedule", func(t *testing.T) {
		h, _, _ := sandboxHarness(t, func(cfg *config.Config) {
			cfg.ProgressWrite.TargetRPS = 10
		})

		sc := h.WriteScenario(&endpoint.RunContext{})

		assert.Equal(t, "progress_write", sc.Name)
		assert.Equal(t, float64(3), sc.StartRate)
		assert.Equal(t, []loadtest.Stage{
			{Duration: 30 * time.Second, Target: 5},
			{Duration: 2 * time.Minute, Target: 10},
			{Duration: 30 * time.Second, Target: 3},
			{Duration: 10 * time.Second, Target: 0},
		}, sc.Stages)
		assert.Equal(t, 20*time.Second, sc.GracefulStop)
		assert.Equal(t, map[string]string{"stage": "write", "target_rps": "10"}, sc.Tags)
	})

	t.Run("no warmup or cooldown", func(t *testing.T) {
		h, _, _ := sandboxHarness(t, func(cfg *config.Config) {
			cfg.ProgressWrite.TargetRPS = 1
			cfg.ProgressWrite.WarmupDuration = "0s"
			cfg.ProgressWrite.CooldownDuration = ""
		})

		sc := h.WriteScenario(&endpoint.RunContext{})

		assert.Equal(t, float64(1), sc.StartRate)
		assert.Equal(t, []loadtest.Stage{
			{Duration: 2 * time.Minute, Target: 1},
			{Duration: 10 * time.Second, Target: 0},
		}, sc.Stages)
	})
}

func TestRunProbe_Progress(t *testing.T) {
	// Arrange
	h, sb, out := sandboxHarness(t, func(cfg *config.Config) {
		p := &cfg.ProgressProbe
		p.MinRPS, p.MaxRPS, p.StepRPS = 10, 20, 10
		p.WarmupDuration = "0s"
		p.StepDuration = "1s"
		p.StepPause = "0s"
		p.ThroughputRatio = 0.5
		p.PreAllocatedVUs = 4
	})

	// Act
	report, err := h.RunProbe(context.Background(), h.ProgressProbe())

	// Assert
	require.NoError(t, err)
	require.Len(t, report.Scenarios, 2)
	for _, s := range report.Scenarios {
		assert.Positive(t, s.Requests, s.Scenario)
		assert.Zero(t, s.FailedRequests, s.Scenario)
		assert.True(t, s.Passed, s.Scenario)
	}
	require.NotNil(t, report.HighestPassingTarget)
	assert.Equal(t, 20, *report.HighestPassingTarget)
	assert.Positive(t, sb.Requests("/user-trails/{trailID}/progress"))

	assert.Contains(t, out.String(), "========== Progress Probe ==========")
	data, err := os.ReadFile(filepath.Join(h.cfg.Output.ResultsDir, reporting.ProgressProbeResultsFile))
	require.NoError(t, err)
	assert.NoError(t, reporting.Validate(reporting.ProgressProbeResultsFile, data))
}

func TestRunProbe_AbortsOnFailures(t *testing.T) {
	// Arrange
	h, _, _ := sandboxHarness(t, func(cfg *config.Config) {
		p := &cfg.RPSProbe
		p.MinRPS, p.MaxRPS, p.StepRPS = 20, 20, 10
		p.WarmupDuration = "0s"
		p.StepDuration = "2s"
		p.PreAllocatedVUs = 1
		p.MaxVUs = 1
		cfg.Load.EnableWriteScenarios = false
	})
	probe := h.RPSProbe()
	probe.Keys = []string{endpoint.TrailsShowcase, endpoint.MeProfile}

	// Act
	ctx := context.Background()
	rc, err := h.Setup(ctx, SetupOptions{})
	require.NoError(t, err)
	rc.Auth = auth.NewContext("rota_session", "forged", "rota_csrf", "", "")
	result, err := h.runner().Run(ctx, h.ProbeScenarios(probe, rc), probe.Thresholds())

	// Assert
	require.NoError(t, err)
	assert.True(t, result.Aborted)
	assert.Less(t, result.Duration, 2*time.Second)
	step := reporting.BuildStepResult(probe.Kind, h.sink.Snapshot(), probe.Plan().Steps[0])
	assert.Positive(t, step.FailedRequests)
	assert.Greater(t, step.FailureRate, probe.Config.FailureTolerance)
}

func TestRunWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the 10s drain")
	}

	// Arrange
	h, sb, out := sandboxHarness(t, func(cfg *config.Config) {
		w := &cfg.ProgressWrite
		w.TargetRPS = 10
		w.WarmupDuration = "0s"
		w.TestDuration = "1s"
		w.CooldownDuration = "0s"
		w.PreAllocatedVUs = 4
	})

	// Act
	report, err := h.RunWrite(context.Background())

	// Assert
	require.NoError(t, err)
	assert.Positive(t, report.TotalRequests)
	assert.Zero(t, report.TotalFailures)
	assert.True(t, report.Passed)
	assert.Positive(t, sb.Requests("/trails/{trailID}/items/{itemID}/progress"))
	assert.Contains(t, out.String(), "========== Progress Write ==========")
}

func TestRunLoad(t *testing.T) {
	// Arrange
	h, sb, out := sandboxHarness(t, func(cfg *config.Config) {
		l := &cfg.Load
		l.TargetRPS = 4
		l.WriteRPS = 2
		l.WarmupDuration = "0s"
		l.TestDuration = "1s"
		l.CooldownDuration = "0s"
		l.GracefulStop = "2s"
		l.PreAllocatedVUs = 2
		l.EnableRateLimitScenarios = true
		cfg.Auth.LoginUserPool = 2
	})

	// Act
	report, err := h.RunLoad(context.Background())

	// Assert
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Positive(t, report.TotalRequests)
	require.Len(t, report.Classes, 3)
	for _, class := range report.Classes {
		assert.Positive(t, class.Requests, class.Class)
		assert.Zero(t, class.FailureRate, class.Class)
	}
	require.NotNil(t, report.RateLimit)
	assert.Equal(t, 3, report.RateLimit.FirstLimitedAt)
	assert.Positive(t, sb.Submissions())

	assert.Contains(t, out.String(), "========== Performance Summary ==========")
	data, err := os.ReadFile(filepath.Join(h.cfg.Output.ResultsDir, reporting.LoadResultsFile))
	require.NoError(t, err)
	assert.NoError(t, reporting.Validate(reporting.LoadResultsFile, data))
}
