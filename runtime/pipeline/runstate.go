// Package pipeline implements the Stage Executor and Pipeline State
// Machine: the engine that advances a RunState through LoadIssue, PM, Dev,
// QA, and Finalize, producing an immutable Result on success.
package pipeline

import (
	"time"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/stageoutput"
	"agentpipeline.dev/core/runtime/tokens"
)

// RunState is the mutable, pipeline-local record carrying a single run
// through its stages. Optional fields are pointers: nil is the absence
// marker, not a separate presence flag. Invariants: stages fill in strictly
// PM -> Dev -> QA; once Err is set, no subsequent stage mutates anything
// except to pass the state through unchanged.
type RunState struct {
	RunID          string
	StartedAt      time.Time
	SourceFilePath string // empty when the run did not originate from a file
	Issue          *issue.Issue
	PM             *stageoutput.PM
	Dev            *stageoutput.Dev
	QA             *stageoutput.QA
	StageTokens    []tokens.StageTokens
	Err            error
	Result         *Result
	ResultPath     string // set by Finalize once WriteResult succeeds; empty on error or write failure
}

// NewRunState constructs a fresh RunState for a run beginning now, with the
// given generated run id.
func NewRunState(runID string, startedAt time.Time) *RunState {
	return &RunState{RunID: runID, StartedAt: startedAt}
}
