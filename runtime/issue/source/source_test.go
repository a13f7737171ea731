package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpipeline.dev/core/runtime/perr"
)

func writeMock(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestFetch_Mock(t *testing.T) {
	dir := t.TempDir()
	writeMock(t, dir, "widget.json", `{"issue_id":"acme/widget#101","repo":"acme/widget","issue_number":101,"title":"Add dark mode","url":"u","source":"mock","labels":["ui"]}`)

	s := &Set{MockDir: dir}
	iss, err := s.Fetch(context.Background(), MockSelector{Filename: "widget.json"})
	require.NoError(t, err)
	assert.Equal(t, "acme/widget#101", iss.IssueID)
}

func TestFetch_MockNotFound(t *testing.T) {
	s := &Set{MockDir: t.TempDir()}
	_, err := s.Fetch(context.Background(), MockSelector{Filename: "missing.json"})
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindNotFound))
}

func TestFetch_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issue.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issue_id":"x/y#1","repo":"x/y","issue_number":1,"title":"t","url":"u","source":"file"}`), 0o644))

	s := &Set{}
	iss, err := s.Fetch(context.Background(), FileSelector{Path: path})
	require.NoError(t, err)
	assert.Equal(t, "x/y#1", iss.IssueID)
}

func TestFetch_Remote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/acme/widget/issues/101", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"title":"Add dark mode","body":"body text","labels":[{"name":"ui"}],"html_url":"https://tracker/acme/widget/101"}`))
	}))
	defer srv.Close()

	s := &Set{RemoteBaseURL: srv.URL, RemoteToken: "secret-token"}
	iss, err := s.Fetch(context.Background(), RemoteSelector{Owner: "acme", Repo: "widget", Number: 101})
	require.NoError(t, err)
	assert.Equal(t, "acme/widget#101", iss.IssueID)
	assert.Equal(t, "Add dark mode", iss.Title)
	assert.Equal(t, []string{"ui"}, iss.Labels)
}

func TestFetch_RemoteMissingCredential(t *testing.T) {
	s := &Set{RemoteBaseURL: "https://tracker.example.com"}
	_, err := s.Fetch(context.Background(), RemoteSelector{Owner: "a", Repo: "b", Number: 1})
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindInvalidInput))
}

func TestListMockIssues_SummarizesAndDerivesPriority(t *testing.T) {
	dir := t.TempDir()
	writeMock(t, dir, "a.json", `{"issue_id":"acme/a#1","repo":"acme/a","issue_number":1,"title":"First","url":"u","source":"mock","labels":["priority:high"]}`)
	writeMock(t, dir, "b.json", `{"issue_id":"acme/b#2","repo":"acme/b","issue_number":2,"title":"Second","url":"u","source":"mock"}`)
	writeMock(t, dir, "c.txt", `not json, and not even a .json file`)

	s := &Set{MockDir: dir}
	summaries, err := s.ListMockIssues()
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byFilename := map[string]MockIssueSummary{}
	for _, sm := range summaries {
		byFilename[sm.Filename] = sm
	}
	assert.Equal(t, "high", byFilename["a.json"].Priority)
	assert.Equal(t, "First", byFilename["a.json"].Title)
	assert.Equal(t, "normal", byFilename["b.json"].Priority)
}

func TestListMockIssues_MissingDir(t *testing.T) {
	s := &Set{MockDir: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := s.ListMockIssues()
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindNotFound))
}

func TestFetch_RemoteNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := &Set{RemoteBaseURL: srv.URL, RemoteToken: "tok"}
	_, err := s.Fetch(context.Background(), RemoteSelector{Owner: "a", Repo: "b", Number: 1})
	require.Error(t, err)
	assert.True(t, perr.Is(err, perr.KindUpstreamFailed))
}
