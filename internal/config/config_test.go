package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "curation", cfg.Curation.Dir)
	assert.Equal(t, 500, cfg.Pipeline.BatchSize)
	assert.Equal(t, 200, cfg.Pipeline.PauseMillis)
	assert.InDelta(t, 100, cfg.Resolver.RadiusM, 0.001)
	assert.InDelta(t, 1500, cfg.Resolver.LargeRadiusM, 0.001)
	assert.InDelta(t, 0.95, cfg.Resolver.FuzzyThreshold, 0.001)
	assert.Contains(t, cfg.Resolver.LargeCategories, "stadium")
	assert.InDelta(t, 60, cfg.Geofence.PointBufferM, 0.001)
	assert.InDelta(t, 450, cfg.Geofence.SearchRadiusM, 0.001)
	assert.InDelta(t, 60, cfg.Geofence.SafetyMarginM, 0.001)
	assert.True(t, cfg.Iconic.Enabled)
	assert.Equal(t, 70, cfg.Iconic.PrefilterScore)
	assert.Equal(t, 20, cfg.Iconic.BatchSize)
	assert.Equal(t, 3600, cfg.Worker.MaxRuntimeSecs)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  batch_size: 50
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 50, cfg.Pipeline.BatchSize)
	// Defaults still apply for unset values
	assert.InDelta(t, 100, cfg.Resolver.RadiusM, 0.001)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("HYDRATE_STORE_DRIVER", "postgres")
	t.Setenv("HYDRATE_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })

	t.Setenv("HYDRATE_SERVER_PORT", "3000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/hydrate"
	cfg.Pipeline.BatchSize = 500
	cfg.Resolver.RadiusM = 100
	cfg.Resolver.LargeRadiusM = 1500
	cfg.Resolver.FuzzyThreshold = 0.95
	cfg.Iconic.Enabled = true
	cfg.Anthropic.Key = "sk-ant-key"
	cfg.Worker.Concurrency = 2
	cfg.Server.Port = 8080
	return cfg
}

func TestValidateHydrate_AllPresent(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("hydrate"))
}

func TestValidateHydrate_MissingFields(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	cfg.Anthropic.Key = ""

	err := cfg.Validate("hydrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
	assert.Contains(t, err.Error(), "anthropic.key is required")
}

func TestValidateHydrate_IconicDisabledSkipsKey(t *testing.T) {
	cfg := validDefaults()
	cfg.Iconic.Enabled = false
	cfg.Anthropic.Key = ""

	assert.NoError(t, cfg.Validate("hydrate"))
}

func TestValidateHydrate_BadResolver(t *testing.T) {
	cfg := validDefaults()
	cfg.Resolver.LargeRadiusM = 50 // below base radius

	err := cfg.Validate("hydrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "resolver radii")

	cfg = validDefaults()
	cfg.Resolver.FuzzyThreshold = 1.5
	err = cfg.Validate("hydrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "fuzzy_threshold")
}

func TestValidateWorker_ConcurrencyBounds(t *testing.T) {
	cfg := validDefaults()

	cfg.Worker.Concurrency = 0
	err := cfg.Validate("worker")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "worker.concurrency must be between 1 and 16")

	cfg.Worker.Concurrency = 17
	err = cfg.Validate("worker")
	assert.Error(t, err)

	cfg.Worker.Concurrency = 16
	assert.NoError(t, cfg.Validate("worker"))
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "server.port must be > 0")
}

func TestValidateUnknownMode(t *testing.T) {
	cfg := validDefaults()
	err := cfg.Validate("unknown")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}

func TestValidateBadDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("hydrate")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")
}
