// Package config resolves the pipeline's configuration once at process
// start from environment variables, following the same envOr/envIntOr
// shape used across the teacher's command entrypoints. Later reads are
// from the resolved snapshot, never from the environment directly.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"agentpipeline.dev/core/runtime/tokens"
)

// Provider identifies which chat endpoint implementation to construct.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderAzure     Provider = "azure"
)

func (p Provider) valid() bool {
	switch p {
	case ProviderAnthropic, ProviderOpenAI, ProviderAzure:
		return true
	default:
		return false
	}
}

// LogLevel is one of the four recognized logging verbosities.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// Config is the resolved configuration snapshot for a pipeline process
// (cmd/pipeline, cmd/watcher, or cmd/mcpserver). Every field corresponds to
// one of spec.md §4.9's recognized options.
type Config struct {
	Provider Provider
	Model    string

	Temperature float64
	ChatBaseURL string

	ProviderAPIKey     string
	ProviderEndpoint   string
	ProviderDeployment string

	RemoteAPIToken   string
	RemoteBaseURL    string

	IngressDir   string
	ProcessedDir string
	PoisonedDir  string
	OutputDir    string
	MockDir      string

	RunIndexPath string

	NominalContextWindow int

	WatcherPollInterval  time.Duration
	WatcherQuietInterval time.Duration
	WatcherWorkers       int

	LogLevel LogLevel

	PricingTable map[string]tokens.PricingEntry
}

// Load resolves a Config from the process environment. Directories named
// by IngressDir/ProcessedDir/PoisonedDir/OutputDir/MockDir are created if
// absent. MockDir is distinct from IngressDir: it holds canned issue files
// read on demand by the mock source, separate from the watcher's live
// ingress drop-box.
// PIPELINE_PRICING_JSON, when set, overrides the built-in pricing table
// with a JSON object of the shape {prefix: {"InputPerMillion": n,
// "OutputPerMillion": n}} (tokens.PricingEntry's field names).
func Load() (*Config, error) {
	cfg := &Config{
		Provider:             Provider(envOr("PIPELINE_PROVIDER", string(ProviderAnthropic))),
		Model:                envOr("PIPELINE_MODEL", "claude-3-5-sonnet-20241022"),
		Temperature:          envFloatOr("PIPELINE_TEMPERATURE", 0.2),
		ChatBaseURL:          os.Getenv("PIPELINE_CHAT_BASE_URL"),
		ProviderAPIKey:       os.Getenv("PIPELINE_PROVIDER_API_KEY"),
		ProviderEndpoint:     os.Getenv("PIPELINE_PROVIDER_ENDPOINT"),
		ProviderDeployment:   os.Getenv("PIPELINE_PROVIDER_DEPLOYMENT"),
		RemoteAPIToken:       os.Getenv("PIPELINE_REMOTE_API_TOKEN"),
		RemoteBaseURL:        os.Getenv("PIPELINE_REMOTE_BASE_URL"),
		IngressDir:           envOr("PIPELINE_INGRESS_DIR", "./data/ingress"),
		ProcessedDir:         envOr("PIPELINE_PROCESSED_DIR", "./data/processed"),
		PoisonedDir:          envOr("PIPELINE_POISONED_DIR", "./data/poisoned"),
		OutputDir:            envOr("PIPELINE_OUTPUT_DIR", "./data/output"),
		MockDir:              envOr("PIPELINE_MOCK_DIR", "./data/mock_issues"),
		RunIndexPath:         envOr("PIPELINE_RUN_INDEX_PATH", "./data/run_index.db"),
		NominalContextWindow: envIntOr("PIPELINE_NOMINAL_CONTEXT_WINDOW", tokens.DefaultNominalContextWindow),
		WatcherPollInterval:  envDurationMsOr("PIPELINE_WATCHER_POLL_INTERVAL_MS", 500*time.Millisecond),
		WatcherQuietInterval: envDurationMsOr("PIPELINE_WATCHER_QUIET_INTERVAL_MS", 1*time.Second),
		WatcherWorkers:       envIntOr("PIPELINE_WATCHER_WORKERS", 1),
		LogLevel:             LogLevel(envOr("PIPELINE_LOG_LEVEL", string(LogLevelInfo))),
	}

	pricing, err := resolvePricingTable()
	if err != nil {
		return nil, err
	}
	cfg.PricingTable = pricing

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.IngressDir, cfg.ProcessedDir, cfg.PoisonedDir, cfg.OutputDir, cfg.MockDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: creating directory %q: %w", dir, err)
		}
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if !c.Provider.valid() {
		return fmt.Errorf("config: PIPELINE_PROVIDER %q must be one of anthropic|openai|azure", c.Provider)
	}
	if !c.LogLevel.valid() {
		return fmt.Errorf("config: PIPELINE_LOG_LEVEL %q must be one of debug|info|warn|error", c.LogLevel)
	}
	if c.Temperature < 0 {
		return fmt.Errorf("config: PIPELINE_TEMPERATURE must be non-negative, got %v", c.Temperature)
	}
	if c.WatcherWorkers < 1 {
		return fmt.Errorf("config: PIPELINE_WATCHER_WORKERS must be >= 1, got %d", c.WatcherWorkers)
	}
	return nil
}

func resolvePricingTable() (map[string]tokens.PricingEntry, error) {
	raw := os.Getenv("PIPELINE_PRICING_JSON")
	if strings.TrimSpace(raw) == "" {
		return tokens.DefaultPricingTable(), nil
	}
	var table map[string]tokens.PricingEntry
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("config: PIPELINE_PRICING_JSON is not valid JSON: %w", err)
	}
	return table, nil
}

func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOr(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func envFloatOr(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envDurationMsOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
