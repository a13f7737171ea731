package pipeline

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/codes"

	"agentpipeline.dev/core/runtime/llm"
	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/stageoutput"
	"agentpipeline.dev/core/runtime/structured"
	"agentpipeline.dev/core/runtime/telemetry"
	"agentpipeline.dev/core/runtime/tokens"
)

// DefaultStageTimeout is the per-stage chat-endpoint deadline applied when
// Executor.StageTimeout is zero.
const DefaultStageTimeout = 120 * time.Second

// Executor runs a single stage of a single run: compose the prompt, invoke
// the chat endpoint, extract token usage, parse the structured output (or
// fall back), and attach the result to the RunState.
type Executor struct {
	Chat         llm.Client
	Accountant   *tokens.Accountant
	Logger       telemetry.Logger
	Metrics      telemetry.Metrics
	Tracer       telemetry.Tracer
	Prompts      PromptSet
	Provider     string // "anthropic" | "openai" | "azure", used to key pricing
	Model        string
	Temperature  float64
	MaxTokens    int
	StageTimeout time.Duration
}

func (e *Executor) pricingModel() string {
	if e.Provider == "" {
		return e.Model
	}
	return e.Provider + "/" + e.Model
}

func (e *Executor) timeout() time.Duration {
	if e.StageTimeout > 0 {
		return e.StageTimeout
	}
	return DefaultStageTimeout
}

func (e *Executor) logger() telemetry.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return telemetry.NewNoopLogger()
}

func (e *Executor) metrics() telemetry.Metrics {
	if e.Metrics != nil {
		return e.Metrics
	}
	return telemetry.NewNoopMetrics()
}

func (e *Executor) tracer() telemetry.Tracer {
	if e.Tracer != nil {
		return e.Tracer
	}
	return telemetry.NewNoopTracer()
}

// Execute advances state through one stage. If state already carries an
// error, it is returned unchanged (short-circuit). Otherwise the stage's
// prompt is composed, the chat endpoint invoked under a per-stage deadline,
// token usage recorded, and the response parsed (with fallback on parse
// failure) into the stage's slot.
func (e *Executor) Execute(ctx context.Context, stage tokens.StageName, state *RunState) *RunState {
	if state.Err != nil {
		return state
	}

	prompt, ok := e.Prompts[stage]
	if !ok {
		state.Err = perr.New(perr.KindStageFailed, "no prompt configured for stage").WithStage(string(stage))
		return state
	}
	userMsg, err := prompt.Render(state)
	if err != nil {
		state.Err = perr.Wrap(perr.KindStageFailed, err, "rendering stage prompt").WithStage(string(stage))
		return state
	}

	spanCtx, span := e.tracer().Start(ctx, "pipeline.stage.chat_completion")
	defer span.End()
	tags := []string{"stage", string(stage), "provider", e.Provider}

	started := time.Now()
	stageCtx, cancel := context.WithTimeout(spanCtx, e.timeout())
	defer cancel()

	resp, err := e.Chat.Complete(stageCtx, llm.Request{
		Model:       e.Model,
		Temperature: e.Temperature,
		MaxTokens:   e.MaxTokens,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt.System},
			{Role: llm.RoleUser, Content: userMsg},
		},
	})
	duration := time.Since(started)
	e.metrics().RecordTimer("pipeline.stage.chat_duration", duration, tags...)
	if err != nil {
		subkind := perr.SubkindTransport
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			subkind = perr.SubkindTimeout
		}
		state.Err = perr.Wrap(perr.KindStageFailed, err, "chat endpoint call failed").
			WithStage(string(stage)).WithSubkind(subkind)
		e.metrics().IncCounter("pipeline.stage.chat_errors", 1, tags...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger().Error(ctx, "stage chat endpoint call failed",
			"run_id", state.RunID, "stage", string(stage), "duration_ms", duration.Milliseconds(), "error", err.Error())
		return state
	}

	usage := e.Accountant.Extract(resp, e.pricingModel())
	state.StageTokens = append(state.StageTokens, tokens.StageTokens{Stage: stage, Usage: usage})
	e.metrics().IncCounter("pipeline.stage.chat_calls", 1, tags...)
	e.metrics().RecordGauge("pipeline.stage.input_tokens", float64(usage.InputTokens), tags...)
	e.metrics().RecordGauge("pipeline.stage.output_tokens", float64(usage.OutputTokens), tags...)
	span.SetStatus(codes.Ok, "")

	degraded := e.attachOutput(stage, resp.Text, state)

	e.logger().Info(ctx, "stage completed",
		"run_id", state.RunID, "stage", string(stage), "duration_ms", duration.Milliseconds(),
		"input_tokens", usage.InputTokens, "output_tokens", usage.OutputTokens, "degraded", degraded)

	return state
}

// attachOutput parses resp text against the stage's schema, attaching a
// fallback record on failure, and reports whether the fallback was used.
func (e *Executor) attachOutput(stage tokens.StageName, text string, state *RunState) bool {
	switch stage {
	case tokens.StagePM:
		if pm := structured.Parse[stageoutput.PM](text, stageoutput.ValidatePM); pm != nil {
			state.PM = pm
			return false
		}
		state.PM = stageoutput.FallbackPM(text)
		return true
	case tokens.StageDev:
		if dev := structured.Parse[stageoutput.Dev](text, stageoutput.ValidateDev); dev != nil {
			state.Dev = dev
			return false
		}
		state.Dev = stageoutput.FallbackDev(text)
		return true
	case tokens.StageQA:
		if qa := structured.Parse[stageoutput.QA](text, stageoutput.ValidateQA); qa != nil {
			state.QA = qa
			return false
		}
		state.QA = stageoutput.FallbackQA(text)
		return true
	default:
		return false
	}
}
