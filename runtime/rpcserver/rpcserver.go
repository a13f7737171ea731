// Package rpcserver implements the JSON-RPC Tool Server: a line-delimited
// JSON-RPC 2.0 service over stdio exposing the five pipeline operations,
// read-only resources, and prompt templates, with advisory progress
// notifications for the two long-running methods.
package rpcserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"agentpipeline.dev/core/runtime/issue/source"
	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/pipeline"
	"agentpipeline.dev/core/runtime/telemetry"
)

// DefaultConcurrency is the default number of requests processed at once.
const DefaultConcurrency = 4

type (
	rpcRequest struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}

	rpcResponse struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      json.RawMessage `json:"id"`
		Result  any             `json:"result,omitempty"`
		Error   *rpcErrorBody   `json:"error,omitempty"`
	}

	rpcErrorBody struct {
		Message string `json:"message"`
		Kind    string `json:"kind"`
	}

	progressNotification struct {
		JSONRPC string         `json:"jsonrpc"`
		Method  string         `json:"method"`
		Params  progressParams `json:"params"`
	}

	progressParams struct {
		ID       json.RawMessage `json:"id"`
		Progress float64         `json:"progress"`
		Stage    string          `json:"stage"`
	}
)

// Resource is a read-only named document the server exposes alongside its
// methods: a configuration snapshot, a schema, or similar static data.
type Resource struct {
	Name string
	Data any
}

// Prompt is a parameterized prompt template the server exposes; Render
// receives the request's raw JSON params and returns the prompt text.
type Prompt struct {
	Name   string
	Render func(params json.RawMessage) (string, error)
}

// Server implements the line-delimited JSON-RPC transport over an
// io.Reader/io.Writer pair (stdio in production, pipes in tests).
type Server struct {
	Machine    *pipeline.Machine
	Sources    *source.Set
	IngressDir string
	Concurrency int
	Logger     telemetry.Logger
	Resources  []Resource
	Prompts    []Prompt

	writeMu sync.Mutex
}

func (s *Server) logger() telemetry.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return telemetry.NewNoopLogger()
}

func (s *Server) concurrency() int {
	if s.Concurrency > 0 {
		return s.Concurrency
	}
	return DefaultConcurrency
}

// Serve reads newline-delimited JSON-RPC requests from r and writes
// responses (and progress notifications) to w until r is exhausted or ctx
// is canceled; cancellation is noticed when the next request line has been
// read. Requests are dispatched concurrently up to Concurrency;
// responses are emitted in completion order, not request order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	sem := make(chan struct{}, s.concurrency())
	var wg sync.WaitGroup

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		select {
		case <-ctx.Done():
			wg.Wait()
			return nil
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			s.handleLine(ctx, w, line)
		}()
	}

	wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("rpcserver: reading request stream: %w", err)
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, w io.Writer, line []byte) {
	var req rpcRequest
	if err := json.Unmarshal(line, &req); err != nil {
		s.writeResponse(w, rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcErrorBody{Message: "malformed JSON-RPC request", Kind: string(perr.KindInvalidInput)},
		})
		return
	}

	result, err := s.dispatch(ctx, w, req)
	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
	if err != nil {
		resp.Error = errorBody(err)
		s.logger().Error(ctx, "rpc method failed", "method", req.Method, "error", err.Error())
	} else {
		resp.Result = result
	}
	s.writeResponse(w, resp)
}

func (s *Server) dispatch(ctx context.Context, w io.Writer, req rpcRequest) (any, error) {
	switch req.Method {
	case "list_mock_issues":
		return s.listMockIssues()
	case "load_mock_issue":
		return s.loadMockIssue(req.Params)
	case "fetch_remote_issue":
		return s.fetchRemoteIssue(ctx, req.Params)
	case "run_pipeline":
		return s.runPipeline(ctx, w, req)
	case "process_file":
		return s.processFile(ctx, w, req)
	default:
		if res, ok := s.lookupResource(req.Method); ok {
			return res, nil
		}
		if text, ok, err := s.renderPrompt(req.Method, req.Params); ok {
			return map[string]any{"status": "success", "prompt": text}, err
		}
		return nil, perr.New(perr.KindNotFound, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) lookupResource(name string) (any, bool) {
	for _, r := range s.Resources {
		if r.Name == name {
			return map[string]any{"status": "success", "resource": r.Data}, true
		}
	}
	return nil, false
}

func (s *Server) renderPrompt(name string, params json.RawMessage) (string, bool, error) {
	for _, p := range s.Prompts {
		if p.Name != name {
			continue
		}
		text, err := p.Render(params)
		return text, true, err
	}
	return "", false, nil
}

func (s *Server) writeResponse(w io.Writer, resp rpcResponse) {
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func (s *Server) emitProgress(w io.Writer, id json.RawMessage, fraction float64, stage string) {
	body, err := json.Marshal(progressNotification{
		JSONRPC: "2.0",
		Method:  "$/progress",
		Params:  progressParams{ID: id, Progress: fraction, Stage: stage},
	})
	if err != nil {
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, _ = w.Write(body)
	_, _ = w.Write([]byte("\n"))
}

func errorBody(err error) *rpcErrorBody {
	kind, ok := perr.KindOf(err)
	if !ok {
		kind = perr.KindInvalidInput
	}
	return &rpcErrorBody{Message: err.Error(), Kind: string(kind)}
}
