package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/issue/source"
	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/pipeline"
)

type mockIssueEntry struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	Priority string `json:"priority"`
	Path     string `json:"path"`
}

func (s *Server) listMockIssues() (any, error) {
	summaries, err := s.Sources.ListMockIssues()
	if err != nil {
		return nil, err
	}
	issues := make([]mockIssueEntry, 0, len(summaries))
	for _, sm := range summaries {
		issues = append(issues, mockIssueEntry{Filename: sm.Filename, Title: sm.Title, Priority: sm.Priority, Path: sm.Path})
	}
	return map[string]any{
		"status": "success",
		"issues": issues,
		"count":  len(issues),
	}, nil
}

func (s *Server) loadMockIssue(params json.RawMessage) (any, error) {
	var p struct {
		Filename string `json:"filename"`
	}
	if err := json.Unmarshal(params, &p); err != nil || p.Filename == "" {
		return nil, perr.New(perr.KindInvalidInput, "load_mock_issue requires a non-empty filename")
	}
	iss, err := s.Sources.Fetch(context.Background(), source.MockSelector{Filename: p.Filename})
	if err != nil {
		return nil, err
	}
	return map[string]any{"status": "success", "issue": iss}, nil
}

func (s *Server) fetchRemoteIssue(ctx context.Context, params json.RawMessage) (any, error) {
	var p struct {
		Owner         string `json:"owner"`
		Repo          string `json:"repo"`
		Number        int    `json:"number"`
		SaveToIngress bool   `json:"save_to_ingress"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, perr.Wrap(perr.KindInvalidInput, err, "decoding fetch_remote_issue params")
	}
	if p.Owner == "" || p.Repo == "" || p.Number < 1 {
		return nil, perr.New(perr.KindInvalidInput, "fetch_remote_issue requires owner, repo, and a positive number")
	}

	iss, err := s.Sources.Fetch(ctx, source.RemoteSelector{Owner: p.Owner, Repo: p.Repo, Number: p.Number})
	if err != nil {
		return nil, err
	}

	result := map[string]any{"status": "success", "issue": iss}
	if p.SaveToIngress {
		savedTo, err := s.saveToIngress(iss)
		if err != nil {
			return nil, err
		}
		result["saved_to"] = savedTo
	}
	return result, nil
}

func (s *Server) saveToIngress(iss *issue.Issue) (string, error) {
	if s.IngressDir == "" {
		return "", perr.New(perr.KindInvalidInput, "save_to_ingress requested but no ingress directory is configured")
	}
	if err := os.MkdirAll(s.IngressDir, 0o755); err != nil {
		return "", perr.Wrap(perr.KindPersistenceFailed, err, "creating ingress directory")
	}
	body, err := json.MarshalIndent(iss, "", "  ")
	if err != nil {
		return "", perr.Wrap(perr.KindPersistenceFailed, err, "marshaling issue for ingress")
	}
	name := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("2006-01-02T15-04-05.000000000"), sanitizeFilename(iss.IssueID))
	path := s.IngressDir + string(os.PathSeparator) + name
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", perr.Wrap(perr.KindPersistenceFailed, err, "writing issue into ingress directory")
	}
	return path, nil
}

func sanitizeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func (s *Server) runPipeline(ctx context.Context, w io.Writer, req rpcRequest) (any, error) {
	var p struct {
		Issue json.RawMessage `json:"issue"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || len(p.Issue) == 0 {
		return nil, perr.New(perr.KindInvalidInput, "run_pipeline requires an issue object")
	}
	iss, err := issue.Parse(p.Issue)
	if err != nil {
		return nil, err
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	state := s.Machine.RunWithProgress(ctx, runID, iss, "", func(fraction float64, stage string) {
		s.emitProgress(w, req.ID, fraction, stage)
	})
	return s.runResult(state)
}

func (s *Server) processFile(ctx context.Context, w io.Writer, req rpcRequest) (any, error) {
	var p struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(req.Params, &p); err != nil || p.Path == "" {
		return nil, perr.New(perr.KindInvalidInput, "process_file requires a non-empty path")
	}

	iss, err := s.Sources.Fetch(ctx, source.FileSelector{Path: p.Path})
	if err != nil {
		return nil, err
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	state := s.Machine.RunWithProgress(ctx, runID, iss, p.Path, func(fraction float64, stage string) {
		s.emitProgress(w, req.ID, fraction, stage)
	})
	return s.runResult(state)
}

func (s *Server) runResult(state *pipeline.RunState) (any, error) {
	if state.Err != nil {
		return nil, state.Err
	}
	result := state.Result
	return map[string]any{
		"status": "success",
		"run_id": state.RunID,
		"stages": map[string]any{
			"pm":  result.PM,
			"dev": result.Dev,
			"qa":  result.QA,
		},
		"verdict":     result.QA.Verdict,
		"output_file": state.ResultPath,
		"token_usage": result.Metadata.TokenUsage,
		"report":      result.Metadata.ImplementationNotes,
	}, nil
}
