package pipeline

import (
	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/stageoutput"
	"agentpipeline.dev/core/runtime/tokens"
)

type (
	// Result is the immutable output artifact produced by a successfully
	// completed run (all three stages ran, possibly with fallback outputs).
	Result struct {
		RunID        string               `json:"run_id"`
		TimestampUTC string               `json:"timestamp_utc"`
		Issue        issue.Issue          `json:"issue"`
		PM           stageoutput.PM       `json:"pm"`
		Dev          stageoutput.Dev      `json:"dev"`
		QA           stageoutput.QA       `json:"qa"`
		Metadata     ResultMetadata       `json:"metadata"`
	}

	// ResultMetadata carries the run's bookkeeping: duration, token/cost
	// accounting, and free-text implementation notes (which always include
	// the formatted token summary).
	ResultMetadata struct {
		RunID               string           `json:"run_id"`
		TimestampUTC        string           `json:"timestamp_utc"`
		DurationSeconds     float64          `json:"duration_seconds"`
		TokenUsage          tokens.RunTokens `json:"token_usage"`
		ImplementationNotes []string         `json:"implementation_notes"`
	}

	// RunIndexRow is one row of the relational run index: one per
	// terminated run, never overwritten.
	RunIndexRow struct {
		RunID       string
		IssueID     string
		Verdict     string // empty means null/no verdict (error runs)
		StartedAt   string // ISO-8601
		CompletedAt string // ISO-8601
		Error       string // empty means null
		ResultJSON  string // full serialized Result as JSON text, empty for error runs
	}
)
