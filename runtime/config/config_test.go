package config_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpipeline.dev/core/runtime/config"
)

// chdirToTemp does not change the working directory: it points every
// directory-valued PIPELINE_* variable at a fresh temp directory, so Load
// creates its directories there.
func chdirToTemp(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("PIPELINE_INGRESS_DIR", filepath.Join(dir, "ingress"))
	t.Setenv("PIPELINE_PROCESSED_DIR", filepath.Join(dir, "processed"))
	t.Setenv("PIPELINE_POISONED_DIR", filepath.Join(dir, "poisoned"))
	t.Setenv("PIPELINE_OUTPUT_DIR", filepath.Join(dir, "output"))
	t.Setenv("PIPELINE_MOCK_DIR", filepath.Join(dir, "mock_issues"))
}

func TestLoad_Defaults(t *testing.T) {
	chdirToTemp(t)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderAnthropic, cfg.Provider)
	assert.Equal(t, 0.2, cfg.Temperature)
	assert.Equal(t, 500*time.Millisecond, cfg.WatcherPollInterval)
	assert.Equal(t, 1*time.Second, cfg.WatcherQuietInterval)
	assert.Equal(t, 1, cfg.WatcherWorkers)
	assert.Equal(t, config.LogLevelInfo, cfg.LogLevel)
	assert.NotEmpty(t, cfg.PricingTable)

	assert.DirExists(t, cfg.IngressDir)
	assert.DirExists(t, cfg.OutputDir)
	assert.DirExists(t, cfg.MockDir)
	assert.NotEqual(t, cfg.IngressDir, cfg.MockDir)
}

func TestLoad_MockDirOverride(t *testing.T) {
	chdirToTemp(t)
	dir := t.TempDir()
	t.Setenv("PIPELINE_MOCK_DIR", filepath.Join(dir, "canned_issues"))

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "canned_issues"), cfg.MockDir)
	assert.DirExists(t, cfg.MockDir)
}

func TestLoad_RespectsOverrides(t *testing.T) {
	chdirToTemp(t)
	t.Setenv("PIPELINE_PROVIDER", "openai")
	t.Setenv("PIPELINE_MODEL", "gpt-4o")
	t.Setenv("PIPELINE_TEMPERATURE", "0.7")
	t.Setenv("PIPELINE_WATCHER_WORKERS", "4")
	t.Setenv("PIPELINE_WATCHER_POLL_INTERVAL_MS", "250")
	t.Setenv("PIPELINE_LOG_LEVEL", "debug")
	t.Setenv("PIPELINE_REMOTE_BASE_URL", "https://issues.example.com/api")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, config.ProviderOpenAI, cfg.Provider)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 0.7, cfg.Temperature)
	assert.Equal(t, 4, cfg.WatcherWorkers)
	assert.Equal(t, 250*time.Millisecond, cfg.WatcherPollInterval)
	assert.Equal(t, config.LogLevelDebug, cfg.LogLevel)
	assert.Equal(t, "https://issues.example.com/api", cfg.RemoteBaseURL)
}

func TestLoad_RejectsUnknownProvider(t *testing.T) {
	chdirToTemp(t)
	t.Setenv("PIPELINE_PROVIDER", "bogus")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_RejectsUnknownLogLevel(t *testing.T) {
	chdirToTemp(t)
	t.Setenv("PIPELINE_LOG_LEVEL", "verbose")

	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_PricingJSONOverride(t *testing.T) {
	chdirToTemp(t)
	t.Setenv("PIPELINE_PRICING_JSON", `{"custom/model-":{"InputPerMillion":1.5,"OutputPerMillion":6}}`)

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Contains(t, cfg.PricingTable, "custom/model-")
	assert.Equal(t, 1.5, cfg.PricingTable["custom/model-"].InputPerMillion)
}

func TestLoad_InvalidPricingJSON_Errors(t *testing.T) {
	chdirToTemp(t)
	t.Setenv("PIPELINE_PRICING_JSON", `not json`)

	_, err := config.Load()
	assert.Error(t, err)
}
