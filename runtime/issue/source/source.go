// Package source implements the Issue Source Set: loading an Issue from a
// mock file, an arbitrary file path, or a remote issue-tracker HTTP
// endpoint, normalizing each into the canonical issue.Issue schema.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/perr"
)

type (
	// Selector is a tagged union over the three ways to locate an Issue.
	// Exactly one concrete implementation is passed to Fetch.
	Selector interface{ isSelector() }

	// MockSelector names a file within the configured mock directory.
	MockSelector struct{ Filename string }

	// FileSelector names an arbitrary filesystem path.
	FileSelector struct{ Path string }

	// RemoteSelector identifies an issue on a remote issue-tracker.
	RemoteSelector struct {
		Owner  string
		Repo   string
		Number int
	}
)

func (MockSelector) isSelector()   {}
func (FileSelector) isSelector()   {}
func (RemoteSelector) isSelector() {}

// Set implements Fetch(selector) -> Issue across all three sources.
type Set struct {
	// MockDir is the conventional directory mock issue files are read from.
	MockDir string
	// RemoteBaseURL is the issue-tracker API's base URL, e.g.
	// "https://api.example-tracker.com".
	RemoteBaseURL string
	// RemoteToken is the bearer credential used against RemoteBaseURL.
	RemoteToken string
	// HTTPClient is the transport used for remote fetches. Defaults to
	// http.DefaultClient when nil.
	HTTPClient *http.Client
}

func (s *Set) httpClient() *http.Client {
	if s.HTTPClient != nil {
		return s.HTTPClient
	}
	return http.DefaultClient
}

// Fetch resolves selector into a canonical Issue, or a *perr.Error
// identifying the failure kind.
func (s *Set) Fetch(ctx context.Context, selector Selector) (*issue.Issue, error) {
	switch sel := selector.(type) {
	case MockSelector:
		return s.fetchFile(filepath.Join(s.MockDir, sel.Filename))
	case FileSelector:
		return s.fetchFile(sel.Path)
	case RemoteSelector:
		return s.fetchRemote(ctx, sel)
	default:
		return nil, perr.New(perr.KindInvalidInput, "unknown issue selector")
	}
}

// MockIssueSummary is one entry in a mock-directory listing: enough to
// present a picklist without parsing every file's full body.
type MockIssueSummary struct {
	Filename string
	Title    string
	Priority string
	Path     string
}

const defaultMockPriority = "normal"

// ListMockIssues scans MockDir for *.json files and summarizes each as a
// MockIssueSummary. A file that fails to parse as a valid Issue is skipped
// rather than failing the whole listing — the directory is operator-curated
// sample data, not a strict transactional store.
func (s *Set) ListMockIssues() ([]MockIssueSummary, error) {
	entries, err := os.ReadDir(s.MockDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, perr.Wrap(perr.KindNotFound, err, fmt.Sprintf("mock issue directory %q not found", s.MockDir))
		}
		return nil, perr.Wrap(perr.KindInvalidInput, err, fmt.Sprintf("reading mock issue directory %q", s.MockDir))
	}

	var out []MockIssueSummary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.MockDir, e.Name())
		iss, err := s.fetchFile(path)
		if err != nil {
			continue
		}
		out = append(out, MockIssueSummary{
			Filename: e.Name(),
			Title:    iss.Title,
			Priority: mockPriority(iss.Labels),
			Path:     path,
		})
	}
	return out, nil
}

func mockPriority(labels []string) string {
	for _, l := range labels {
		if p, ok := strings.CutPrefix(l, "priority:"); ok {
			return p
		}
	}
	return defaultMockPriority
}

func (s *Set) fetchFile(path string) (*issue.Issue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, perr.Wrap(perr.KindNotFound, err, fmt.Sprintf("issue file %q not found", path))
		}
		return nil, perr.Wrap(perr.KindInvalidInput, err, fmt.Sprintf("reading issue file %q", path))
	}
	iss, err := issue.Parse(data)
	if err != nil {
		return nil, err
	}
	return iss, nil
}

// remoteIssue mirrors a generic issue-tracker payload shape, modeled on a
// GitHub-style issue representation without depending on any tracker SDK.
type remoteIssue struct {
	ID         any    `json:"id"`
	Repository string `json:"repository"`
	Number     int    `json:"number"`
	Title      string `json:"title"`
	Body       string `json:"body"`
	Labels     []struct {
		Name string `json:"name"`
	} `json:"labels"`
	HTMLURL string `json:"html_url"`
}

func (s *Set) fetchRemote(ctx context.Context, sel RemoteSelector) (*issue.Issue, error) {
	if strings.TrimSpace(s.RemoteToken) == "" {
		return nil, perr.New(perr.KindInvalidInput, "remote issue fetch requires a credential")
	}
	if strings.TrimSpace(s.RemoteBaseURL) == "" {
		return nil, perr.New(perr.KindInvalidInput, "remote issue fetch requires a base URL")
	}

	url := fmt.Sprintf("%s/repos/%s/%s/issues/%d", strings.TrimRight(s.RemoteBaseURL, "/"), sel.Owner, sel.Repo, sel.Number)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, perr.Wrap(perr.KindUpstreamFailed, err, "building remote issue request")
	}
	req.Header.Set("Authorization", "Bearer "+s.RemoteToken)
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, perr.Wrap(perr.KindUpstreamFailed, err, "remote issue request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, perr.Wrap(perr.KindUpstreamFailed, err, "reading remote issue response body")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, perr.New(perr.KindUpstreamFailed, fmt.Sprintf("remote issue tracker returned status %d", resp.StatusCode))
	}

	var raw remoteIssue
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, perr.Wrap(perr.KindUpstreamFailed, err, "remote issue response body unparseable")
	}

	labels := make([]string, 0, len(raw.Labels))
	for _, l := range raw.Labels {
		if l.Name != "" {
			labels = append(labels, l.Name)
		}
	}

	canonical := issue.Issue{
		IssueID:     fmt.Sprintf("%s/%s#%d", sel.Owner, sel.Repo, sel.Number),
		Repo:        fmt.Sprintf("%s/%s", sel.Owner, sel.Repo),
		IssueNumber: sel.Number,
		Title:       raw.Title,
		Body:        raw.Body,
		Labels:      labels,
		URL:         raw.HTMLURL,
		Source:      issue.SourceRemote,
	}
	// Round-trip through Parse to apply the same validation/normalization
	// rules as the file-backed sources.
	data, err := json.Marshal(canonical)
	if err != nil {
		return nil, perr.Wrap(perr.KindUpstreamFailed, err, "encoding translated remote issue")
	}
	return issue.Parse(data)
}
