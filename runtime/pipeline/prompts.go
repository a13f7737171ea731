package pipeline

import (
	"bytes"
	"fmt"
	"text/template"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/stageoutput"
	"agentpipeline.dev/core/runtime/tokens"
)

// StagePrompt is a stage's prompt template: a fixed system message plus a
// user-message template substituting the Issue and any prior stage
// outputs. Prompt wording itself is configuration, not core logic (see the
// pipeline's non-goals); only the substitution mechanism lives here.
type StagePrompt struct {
	System       string
	UserTemplate string
}

// promptData is the substitution context available to a stage's user
// template.
type promptData struct {
	Issue *issue.Issue
	PM    *stageoutput.PM
	Dev   *stageoutput.Dev
}

// Render substitutes state into the stage's user template using
// text/template, returning the composed user message.
func (p StagePrompt) Render(state *RunState) (string, error) {
	tmpl, err := template.New("stage-prompt").Parse(p.UserTemplate)
	if err != nil {
		return "", fmt.Errorf("parsing stage prompt template: %w", err)
	}
	var buf bytes.Buffer
	data := promptData{Issue: state.Issue, PM: state.PM, Dev: state.Dev}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering stage prompt template: %w", err)
	}
	return buf.String(), nil
}

// PromptSet maps each stage to its prompt template.
type PromptSet map[tokens.StageName]StagePrompt

// DefaultPrompts returns the baseline prompt set that all three commands
// install as Executor.Prompts. Config has no option for prompt wording;
// other wording is supplied by setting Executor.Prompts directly.
func DefaultPrompts() PromptSet {
	return PromptSet{
		tokens.StagePM: {
			System: "You are a product manager. Produce a JSON object with fields " +
				"summary, acceptance_criteria (list), plan (list), assumptions (list).",
			UserTemplate: "Issue {{.Issue.IssueID}}: {{.Issue.Title}}\n\n{{.Issue.Body}}",
		},
		tokens.StageDev: {
			System: "You are a software developer. Produce a JSON object with fields " +
				"files (list of {path, content, language}) and notes (list).",
			UserTemplate: "Issue {{.Issue.IssueID}}: {{.Issue.Title}}\n\n" +
				"PM summary: {{.PM.Summary}}\nPlan:\n{{range .PM.Plan}}- {{.}}\n{{end}}",
		},
		tokens.StageQA: {
			System: "You are a quality assurance reviewer. Produce a JSON object with " +
				"fields verdict (pass|fail|needs-human), findings (list), suggested_changes (list).",
			UserTemplate: "Issue {{.Issue.IssueID}}: {{.Issue.Title}}\n\n" +
				"PM summary: {{.PM.Summary}}\n\nDev notes:\n{{range .Dev.Notes}}- {{.}}\n{{end}}",
		},
	}
}
