// Command watcher polls the configured ingress directory for issue files,
// runs the pipeline against each stable file it finds, and relocates the
// file to the processed or poisoned directory depending on outcome. It runs
// until interrupted with SIGINT or SIGTERM, finishing in-flight work before
// exiting.
package main

import (
	"context"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"syscall"

	cluelog "goa.design/clue/log"

	"agentpipeline.dev/core/features/model/anthropic"
	"agentpipeline.dev/core/features/model/azure"
	"agentpipeline.dev/core/features/model/openai"
	"agentpipeline.dev/core/runtime/config"
	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/llm"
	"agentpipeline.dev/core/runtime/persistence/resultstore"
	"agentpipeline.dev/core/runtime/persistence/runindex"
	"agentpipeline.dev/core/runtime/pipeline"
	"agentpipeline.dev/core/runtime/telemetry"
	"agentpipeline.dev/core/runtime/tokens"
	"agentpipeline.dev/core/runtime/watcher"
)

const defaultMaxTokens = 4096

func main() {
	if err := run(); err != nil {
		stdlog.Fatal(err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	format := cluelog.FormatJSON
	if cluelog.IsTerminal() {
		format = cluelog.FormatTerminal
	}
	ctx := cluelog.Context(context.Background(), cluelog.WithFormat(format))
	if cfg.LogLevel == config.LogLevelDebug {
		ctx = cluelog.Context(ctx, cluelog.WithDebug())
	}

	chat, err := buildChatClient(cfg)
	if err != nil {
		return fmt.Errorf("building chat endpoint client: %w", err)
	}

	store, err := resultstore.New(cfg.OutputDir)
	if err != nil {
		return fmt.Errorf("opening result store: %w", err)
	}
	index, err := runindex.Open(cfg.RunIndexPath)
	if err != nil {
		return fmt.Errorf("opening run index: %w", err)
	}
	defer index.Close()

	logger := telemetry.NewClueLogger()
	machine := &pipeline.Machine{
		Executor: &pipeline.Executor{
			Chat:        chat,
			Accountant:  tokens.NewAccountant(cfg.PricingTable, cfg.NominalContextWindow),
			Logger:      logger,
			Metrics:     telemetry.NewClueMetrics(),
			Tracer:      telemetry.NewClueTracer(),
			Prompts:     pipeline.DefaultPrompts(),
			Provider:    string(cfg.Provider),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   defaultMaxTokens,
		},
		Store:  store,
		Index:  index,
		Logger: logger,
	}

	w, err := watcher.New(watcher.Options{
		IngressDir:    cfg.IngressDir,
		ProcessedDir:  cfg.ProcessedDir,
		PoisonedDir:   cfg.PoisonedDir,
		PollInterval:  cfg.WatcherPollInterval,
		QuietInterval: cfg.WatcherQuietInterval,
		Workers:       cfg.WatcherWorkers,
		Logger:        logger,
	}, machineRunner{machine: machine})
	if err != nil {
		return fmt.Errorf("constructing watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		sig := <-c
		cluelog.Printf(ctx, "received %s, finishing in-flight work before exit", sig)
		cancel()
	}()

	cluelog.Printf(ctx, "watching %s (poll=%s quiet=%s workers=%d)",
		cfg.IngressDir, cfg.WatcherPollInterval, cfg.WatcherQuietInterval, cfg.WatcherWorkers)
	return w.Run(ctx)
}

// machineRunner adapts *pipeline.Machine's RunState-returning Run method to
// watcher.Runner's plain error return.
type machineRunner struct {
	machine *pipeline.Machine
}

func (r machineRunner) Run(ctx context.Context, runID string, iss *issue.Issue, sourceFilePath string) error {
	state := r.machine.Run(ctx, runID, iss, sourceFilePath)
	return state.Err
}

func buildChatClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		return anthropic.NewFromAPIKey(cfg.ProviderAPIKey, cfg.Model, defaultMaxTokens)
	case config.ProviderOpenAI:
		return openai.NewFromAPIKey(cfg.ProviderAPIKey, cfg.Model, defaultMaxTokens)
	case config.ProviderAzure:
		return azure.NewFromAPIKey(azure.Options{
			Endpoint:    cfg.ProviderEndpoint,
			Deployment:  cfg.ProviderDeployment,
			APIKey:      cfg.ProviderAPIKey,
			MaxTokens:   defaultMaxTokens,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unsupported provider %q", cfg.Provider)
	}
}
