// Command mcpserver runs the JSON-RPC Tool Server over stdio: the five
// pipeline operations (list_mock_issues, load_mock_issue,
// fetch_remote_issue, run_pipeline, process_file), a configuration snapshot
// resource, and the default stage prompt templates, all addressable by a
// front-end (editor plugin, chat client) that speaks line-delimited
// JSON-RPC 2.0.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	stdlog "log"
	"os"

	cluelog "goa.design/clue/log"

	"agentpipeline.dev/core/features/model/anthropic"
	"agentpipeline.dev/core/features/model/azure"
	"agentpipeline.dev/core/features/model/openai"
	"agentpipeline.dev/core/runtime/config"
	"agentpipeline.dev/core/runtime/issue/source"
	"agentpipeline.dev/core/runtime/llm"
	"agentpipeline.dev/core/runtime/persistence/resultstore"
	"agentpipeline.dev/core/runtime/persistence/runindex"
	"agentpipeline.dev/core/runtime/pipeline"
	"agentpipeline.dev/core/runtime/rpcserver"
	"agentpipeline.dev/core/runtime/telemetry"
	"agentpipeline.dev/core/runtime/tokens"
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
	prompts := pipeline.DefaultPrompts()
	machine := &pipeline.Machine{
		Executor: &pipeline.Executor{
			Chat:        chat,
			Accountant:  tokens.NewAccountant(cfg.PricingTable, cfg.NominalContextWindow),
			Logger:      logger,
			Metrics:     telemetry.NewClueMetrics(),
			Tracer:      telemetry.NewClueTracer(),
			Prompts:     prompts,
			Provider:    string(cfg.Provider),
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   defaultMaxTokens,
		},
		Store:  store,
		Index:  index,
		Logger: logger,
	}

	srv := &rpcserver.Server{
		Machine: machine,
		Sources: &source.Set{
			MockDir:       cfg.MockDir,
			RemoteBaseURL: cfg.RemoteBaseURL,
			RemoteToken:   cfg.RemoteAPIToken,
		},
		IngressDir: cfg.IngressDir,
		Logger:     logger,
		Resources: []rpcserver.Resource{
			{
				Name: "config_snapshot",
				Data: map[string]any{
					"provider":        string(cfg.Provider),
					"model":           cfg.Model,
					"temperature":     cfg.Temperature,
					"ingress_dir":     cfg.IngressDir,
					"mock_dir":        cfg.MockDir,
					"output_dir":      cfg.OutputDir,
					"watcher_workers": cfg.WatcherWorkers,
					"log_level":       string(cfg.LogLevel),
				},
			},
		},
		Prompts: stagePrompts(prompts),
	}

	cluelog.Printf(ctx, "serving JSON-RPC tool methods over stdio")
	return srv.Serve(ctx, os.Stdin, os.Stdout)
}

// stagePrompts exposes each stage's fixed system/user template text as a
// read-only prompt resource named "prompt_pm", "prompt_dev", "prompt_qa".
// These ignore params: the templates are substituted against a live
// RunState inside the executor, not against arbitrary caller-supplied
// values.
func stagePrompts(prompts pipeline.PromptSet) []rpcserver.Prompt {
	out := make([]rpcserver.Prompt, 0, len(prompts))
	for stage, p := range prompts {
		p := p
		out = append(out, rpcserver.Prompt{
			Name: "prompt_" + lower(string(stage)),
			Render: func(json.RawMessage) (string, error) {
				return "SYSTEM: " + p.System + "\n\nUSER TEMPLATE: " + p.UserTemplate, nil
			},
		})
	}
	return out
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
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
