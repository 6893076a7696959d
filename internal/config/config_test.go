package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kestrel.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	want := domain.DefaultConfig()
	assert.Equal(t, want.Tier, cfg.Tier)
	assert.Equal(t, want.Server.Port, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Cache.LocalTTL)
	assert.Equal(t, 60, cfg.Pipeline.Simulation.NbDays)
	assert.Equal(t, uint64(19911127), cfg.Pipeline.HPO.RandomState)
	assert.Equal(t, want.Pipeline.Evaluation.Metrics, cfg.Pipeline.Evaluation.Metrics)
	assert.True(t, cfg.Pipeline.Evaluation.ExcludeDetected)
}

func TestLoadFile(t *testing.T) {
	path := writeYAML(t, `
environment: test
server:
  port: 9090
pipeline:
  algorithm: gradient_boosting
  do_hpo: true
  simulation:
    n_customers: 50
  evaluation:
    metrics: [roc_auc]
serving:
  block_rules:
    - id: large
      name: Large amount
      expression: tx_amount > 5000.0
      enabled: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, domain.EnvTest, cfg.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gradient_boosting", cfg.Pipeline.Algorithm)
	assert.True(t, cfg.Pipeline.DoHPO)
	assert.Equal(t, 50, cfg.Pipeline.Simulation.NCustomers)
	// Untouched siblings keep their defaults.
	assert.Equal(t, 1000, cfg.Pipeline.Simulation.NTerminals)
	assert.Equal(t, []string{"roc_auc"}, cfg.Pipeline.Evaluation.Metrics)
	require.Len(t, cfg.Serving.BlockRules, 1)
	assert.Equal(t, "tx_amount > 5000.0", cfg.Serving.BlockRules[0].Expression)
	assert.True(t, cfg.Serving.BlockRules[0].Enabled)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "server:\n  port: 9090\n")
	t.Setenv("KESTREL_SERVER__PORT", "9191")
	t.Setenv("KESTREL_PIPELINE__HPO__N_CALLS", "12")
	t.Setenv("KESTREL_SERVING__TENANT_IDS", "acme,globex")
	t.Setenv("KESTREL_DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 12, cfg.Pipeline.HPO.NCalls)
	assert.Equal(t, []string{"acme", "globex"}, cfg.Serving.TenantIDs)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadEnvLists(t *testing.T) {
	t.Setenv("KESTREL_SERVING__TENANT_IDS", " acme, globex ,,initech")
	t.Setenv("KESTREL_PIPELINE__EVALUATION__METRICS", "roc_auc,average_precision")
	t.Setenv("KESTREL_EVENTBUS__NATS_URL", "nats://a:4222,nats://b:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"acme", "globex", "initech"}, cfg.Serving.TenantIDs)
	assert.Equal(t, []string{"roc_auc", "average_precision"}, cfg.Pipeline.Evaluation.Metrics)
	assert.Equal(t, "nats://a:4222,nats://b:4222", cfg.EventBus.NATSUrl)
}

func TestLoadProTier(t *testing.T) {
	t.Setenv("KESTREL_TIER", "pro")
	t.Setenv("KESTREL_EVENTBUS__NATS_URL", "nats://bus:4222")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, domain.TierPro, cfg.Tier)
	assert.Equal(t, "postgres", cfg.Repository.Driver)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "nats", cfg.EventBus.Type)
	assert.Equal(t, "nats://bus:4222", cfg.EventBus.NATSUrl)
	assert.True(t, cfg.Serving.AsyncWorker)
}

func TestLoadPathFromEnv(t *testing.T) {
	t.Setenv(PathEnv, writeYAML(t, "artifacts:\n  path: /srv/assets\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/srv/assets", cfg.Artifacts.Path)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"Environment", "environment: staging\n"},
		{"Tier", "tier: enterprise\n"},
		{"Port", "server:\n  port: 70000\n"},
		{"LogFormat", "logging:\n  format: xml\n"},
		{"RateLimit", "serving:\n  rate_limit_rps: -1\n"},
		{"MalformedYAML", "server: [unterminated\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeYAML(t, tt.yaml))
			assert.ErrorIs(t, err, domain.ErrConfiguration)
		})
	}
}

func TestLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, Level("DEBUG"))
	assert.Equal(t, slog.LevelWarn, Level("warning"))
	assert.Equal(t, slog.LevelError, Level("error"))
	assert.Equal(t, slog.LevelInfo, Level("verbose"))
}
