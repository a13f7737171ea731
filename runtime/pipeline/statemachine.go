package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/telemetry"
	"agentpipeline.dev/core/runtime/tokens"
)

// ResultStore persists a completed Result to durable storage (the JSON
// result file).
type ResultStore interface {
	WriteResult(ctx context.Context, result *Result) (path string, err error)
}

// RunIndex records one row per terminated run in the relational run index.
type RunIndex interface {
	IndexRun(ctx context.Context, row RunIndexRow) error
}

// Machine drives a single RunState through LoadIssue -> PM -> Dev -> QA ->
// Finalize -> Terminal. A Machine holds no per-run state (each run gets its
// own RunState), so one instance is shared by concurrent runs, as the
// JSON-RPC server and the multi-worker watcher do.
type Machine struct {
	Executor *Executor
	Store    ResultStore
	Index    RunIndex
	Logger   telemetry.Logger
}

func (m *Machine) logger() telemetry.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return telemetry.NewNoopLogger()
}

// Run executes the full state machine for one issue, returning the final
// RunState (carrying either a populated Result or an Err).
func (m *Machine) Run(ctx context.Context, runID string, iss *issue.Issue, sourceFilePath string) *RunState {
	return m.RunWithProgress(ctx, runID, iss, sourceFilePath, nil)
}

// ProgressFunc receives a coarse-grained progress fraction in [0, 1] and a
// short stage label as a run advances. It is advisory only — completion is
// signaled by Run/RunWithProgress returning, never by a fraction of 1.
type ProgressFunc func(fraction float64, stage string)

// RunWithProgress behaves like Run but invokes onProgress (when non-nil)
// as each state is entered, for front-ends (the JSON-RPC tool server) that
// surface long-running-operation progress notifications.
func (m *Machine) RunWithProgress(ctx context.Context, runID string, iss *issue.Issue, sourceFilePath string, onProgress ProgressFunc) *RunState {
	report := func(fraction float64, stage string) {
		if onProgress != nil {
			onProgress(fraction, stage)
		}
	}

	state := NewRunState(runID, time.Now().UTC())
	state.SourceFilePath = sourceFilePath

	report(0.0, "LoadIssue")
	state = m.loadIssue(state, iss)
	report(0.2, "PM")
	state = m.Executor.Execute(ctx, tokens.StagePM, state)
	report(0.45, "Dev")
	state = m.Executor.Execute(ctx, tokens.StageDev, state)
	report(0.7, "QA")
	state = m.Executor.Execute(ctx, tokens.StageQA, state)
	report(0.9, "Finalize")
	state = m.finalize(ctx, state)
	report(1.0, "Terminal")

	return state
}

// loadIssue is the LoadIssue state: it validates the issue is present and
// attaches it to the state, or sets Err.
func (m *Machine) loadIssue(state *RunState, iss *issue.Issue) *RunState {
	if iss == nil {
		state.Err = perr.New(perr.KindInvalidInput, "no issue supplied to run").WithStage("LoadIssue")
		return state
	}
	state.Issue = iss
	return state
}

// finalize is the Finalize state: it always runs, even on a short-circuited
// error state. On success it assembles the Result and persists it; on error
// it records a run-index row with a null verdict and the error string, and
// writes no Result file. Persistence failures are logged, never fatal to
// the caller — the run has already completed by the time Finalize executes.
func (m *Machine) finalize(ctx context.Context, state *RunState) *RunState {
	completedAt := time.Now().UTC()
	duration := completedAt.Sub(state.StartedAt).Seconds()

	if state.Err != nil {
		m.logger().Error(ctx, "run terminated with error",
			"run_id", state.RunID, "error", state.Err.Error(), "duration_seconds", duration)
		row := RunIndexRow{
			RunID:       state.RunID,
			IssueID:     issueIDOrEmpty(state.Issue),
			Verdict:     "",
			StartedAt:   state.StartedAt.Format(time.RFC3339),
			CompletedAt: completedAt.Format(time.RFC3339),
			Error:       state.Err.Error(),
			ResultJSON:  "",
		}
		if err := m.Index.IndexRun(ctx, row); err != nil {
			m.logger().Error(ctx, "failed to index errored run", "run_id", state.RunID, "error", err.Error())
		}
		return state
	}

	runTokens := m.accountant().Aggregate(state.StageTokens)
	notes := []string{formatTokenSummary(runTokens)}

	result := &Result{
		RunID:        state.RunID,
		TimestampUTC: completedAt.Format(time.RFC3339),
		Issue:        *state.Issue,
		PM:           *state.PM,
		Dev:          *state.Dev,
		QA:           *state.QA,
		Metadata: ResultMetadata{
			RunID:               state.RunID,
			TimestampUTC:        completedAt.Format(time.RFC3339),
			DurationSeconds:     duration,
			TokenUsage:          runTokens,
			ImplementationNotes: notes,
		},
	}
	state.Result = result

	resultPath, err := m.Store.WriteResult(ctx, result)
	if err != nil {
		m.logger().Error(ctx, "failed to write result file", "run_id", state.RunID, "error", err.Error())
	} else {
		state.ResultPath = resultPath
	}

	resultJSON, err := json.Marshal(result)
	if err != nil {
		m.logger().Error(ctx, "failed to serialize result for run index", "run_id", state.RunID, "error", err.Error())
	}

	row := RunIndexRow{
		RunID:       state.RunID,
		IssueID:     state.Issue.IssueID,
		Verdict:     string(state.QA.Verdict),
		StartedAt:   state.StartedAt.Format(time.RFC3339),
		CompletedAt: completedAt.Format(time.RFC3339),
		Error:       "",
		ResultJSON:  string(resultJSON),
	}
	if err := m.Index.IndexRun(ctx, row); err != nil {
		m.logger().Error(ctx, "failed to index run", "run_id", state.RunID, "error", err.Error())
	}

	m.logger().Info(ctx, "run completed",
		"run_id", state.RunID, "verdict", string(state.QA.Verdict), "duration_seconds", duration)

	return state
}

func (m *Machine) accountant() *tokens.Accountant {
	if m.Executor != nil && m.Executor.Accountant != nil {
		return m.Executor.Accountant
	}
	return tokens.NewAccountant(nil, 0)
}

func issueIDOrEmpty(iss *issue.Issue) string {
	if iss == nil {
		return ""
	}
	return iss.IssueID
}

func formatTokenSummary(rt tokens.RunTokens) string {
	return fmt.Sprintf(
		"token summary: %d input / %d output / %d total tokens, estimated cost $%.6f across %d stage(s)",
		rt.TotalInputTokens, rt.TotalOutputTokens, rt.TotalTokens, rt.TotalCostUSD, rt.Efficiency.StageCount,
	)
}
