// Command pipeline runs the PM -> Dev -> QA pipeline once against a single
// issue resolved from a mock file, an arbitrary file path, or a remote
// issue-tracker reference, then exits.
//
// # Configuration
//
// Environment variables are documented on runtime/config.Config; the chat
// endpoint credential is read from PIPELINE_PROVIDER_API_KEY (or, for
// azure, PIPELINE_PROVIDER_ENDPOINT/PIPELINE_PROVIDER_DEPLOYMENT as well).
//
// # Example
//
//	PIPELINE_PROVIDER_API_KEY=sk-... go run ./cmd/pipeline -mock example_issue.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"time"

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
	"agentpipeline.dev/core/runtime/telemetry"
	"agentpipeline.dev/core/runtime/tokens"
)

// defaultMaxTokens is the completion cap applied when no override is
// configured; none of the three provider adapters expose a separate env
// override today, matching spec.md's fixed per-stage token ceiling.
const defaultMaxTokens = 4096

// runFailedError distinguishes a failed pipeline run (exit code 3) from a
// configuration or wiring error (exit code 1).
type runFailedError struct{ err error }

func (e *runFailedError) Error() string { return e.err.Error() }
func (e *runFailedError) Unwrap() error { return e.err }

func main() {
	err := run()
	if err == nil {
		return
	}
	var rf *runFailedError
	if errors.As(err, &rf) {
		stdlog.Print(err)
		os.Exit(3)
	}
	stdlog.Fatal(err)
}

func run() error {
	var (
		mockF   = flag.String("mock", "", "filename within the mock issue directory")
		fileF   = flag.String("file", "", "path to an arbitrary issue JSON file")
		ownerF  = flag.String("owner", "", "remote issue owner/org")
		repoF   = flag.String("repo", "", "remote issue repository")
		numberF = flag.Int("number", 0, "remote issue number")
	)
	flag.Parse()

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

	sources := &source.Set{
		MockDir:       cfg.MockDir,
		RemoteBaseURL: cfg.RemoteBaseURL,
		RemoteToken:   cfg.RemoteAPIToken,
	}

	selector, sourceFilePath, err := resolveSelector(*mockF, *fileF, *ownerF, *repoF, *numberF)
	if err != nil {
		return err
	}
	iss, err := sources.Fetch(ctx, selector)
	if err != nil {
		return fmt.Errorf("resolving issue: %w", err)
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	cluelog.Printf(ctx, "starting run %s for issue %s", runID, iss.IssueID)

	state := machine.Run(ctx, runID, iss, sourceFilePath)
	if state.Err != nil {
		return &runFailedError{err: fmt.Errorf("run %s failed: %w", runID, state.Err)}
	}

	cluelog.Printf(ctx, "run %s completed: verdict=%s result=%s", runID, state.Result.QA.Verdict, state.ResultPath)
	return nil
}

// resolveSelector turns the command's mutually-exclusive flag set into a
// single source.Selector, returning the source file path (non-empty only
// for -file, matching the watcher's SourceFilePath convention).
func resolveSelector(mockFile, filePath, owner, repo string, number int) (source.Selector, string, error) {
	switch {
	case mockFile != "":
		return source.MockSelector{Filename: mockFile}, "", nil
	case filePath != "":
		return source.FileSelector{Path: filePath}, filePath, nil
	case owner != "" && repo != "" && number > 0:
		return source.RemoteSelector{Owner: owner, Repo: repo, Number: number}, "", nil
	default:
		return nil, "", fmt.Errorf("one of -mock, -file, or -owner/-repo/-number is required")
	}
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
