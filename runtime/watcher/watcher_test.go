package watcher_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/watcher"
)

const validIssueJSON = `{
	"issue_id": "ISSUE-1", "repo": "acme/widgets", "issue_number": 1,
	"title": "t", "body": "b", "labels": [], "url": "https://example.com", "source": "mock"
}`

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	fail map[string]bool
}

func (r *recordingRunner) Run(_ context.Context, _ string, iss *issue.Issue, sourceFilePath string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, filepath.Base(sourceFilePath))
	if r.fail[filepath.Base(sourceFilePath)] {
		return assertErr
	}
	_ = iss
	return nil
}

var assertErr = errTest("boom")

type errTest string

func (e errTest) Error() string { return string(e) }

func newTestDirs(t *testing.T) (ingress, processed, poisoned string) {
	t.Helper()
	root := t.TempDir()
	ingress = filepath.Join(root, "ingress")
	processed = filepath.Join(root, "processed")
	poisoned = filepath.Join(root, "poisoned")
	require.NoError(t, os.MkdirAll(ingress, 0o755))
	return
}

func TestPollOnce_ProcessesStableFileAndRelocates(t *testing.T) {
	ingress, processed, poisoned := newTestDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "issue-1.json"), []byte(validIssueJSON), 0o644))

	runner := &recordingRunner{fail: map[string]bool{}}
	w, err := watcher.New(watcher.Options{
		IngressDir: ingress, ProcessedDir: processed, PoisonedDir: poisoned,
		QuietInterval: 10 * time.Millisecond,
	}, runner)
	require.NoError(t, err)

	// First poll observes the file but it is not yet "stable" (just created).
	require.NoError(t, w.PollOnce(context.Background()))
	assert.Empty(t, runner.runs)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))

	assert.Equal(t, []string{"issue-1.json"}, runner.runs)

	entries, err := os.ReadDir(processed)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "issue-1.json")

	ingressEntries, err := os.ReadDir(ingress)
	require.NoError(t, err)
	assert.Empty(t, ingressEntries)
}

func TestPollOnce_RunnerError_RelocatesToPoisoned(t *testing.T) {
	ingress, processed, poisoned := newTestDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "bad.json"), []byte(validIssueJSON), 0o644))

	runner := &recordingRunner{fail: map[string]bool{"bad.json": true}}
	w, err := watcher.New(watcher.Options{
		IngressDir: ingress, ProcessedDir: processed, PoisonedDir: poisoned,
		QuietInterval: 10 * time.Millisecond,
	}, runner)
	require.NoError(t, err)

	require.NoError(t, w.PollOnce(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))

	poisonedEntries, err := os.ReadDir(poisoned)
	require.NoError(t, err)
	require.Len(t, poisonedEntries, 1)

	processedEntries, err := os.ReadDir(processed)
	require.NoError(t, err)
	assert.Empty(t, processedEntries)
}

func TestPollOnce_RelocationFails_FileStaysSeenNotReprocessed(t *testing.T) {
	ingress, processed, poisoned := newTestDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "bad.json"), []byte(validIssueJSON), 0o644))

	runner := &recordingRunner{fail: map[string]bool{"bad.json": true}}
	w, err := watcher.New(watcher.Options{
		IngressDir: ingress, ProcessedDir: processed, PoisonedDir: poisoned,
		QuietInterval: 10 * time.Millisecond,
	}, runner)
	require.NoError(t, err)

	// Remove the poisoned directory after construction so relocate's
	// os.Rename fails regardless of process privileges.
	require.NoError(t, os.RemoveAll(poisoned))

	require.NoError(t, w.PollOnce(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))

	assert.Equal(t, []string{"bad.json"}, runner.runs, "runner must be invoked exactly once, not once per poll")

	ingressEntries, err := os.ReadDir(ingress)
	require.NoError(t, err)
	require.Len(t, ingressEntries, 1, "file must remain in ingress since relocation failed")
	assert.Equal(t, "bad.json", ingressEntries[0].Name())

	// Restoring the destination and polling again must still not re-run
	// the pipeline within the same process: the file stays in the
	// in-memory seen-set until the process restarts.
	require.NoError(t, os.MkdirAll(poisoned, 0o755))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))
	assert.Equal(t, []string{"bad.json"}, runner.runs, "seen-set must not be cleared by a failed relocation")
}

func TestPollOnce_MalformedJSON_PoisonedWithoutRunnerCall(t *testing.T) {
	ingress, processed, poisoned := newTestDirs(t)
	require.NoError(t, os.WriteFile(filepath.Join(ingress, "malformed.json"), []byte(`{not json`), 0o644))

	runner := &recordingRunner{fail: map[string]bool{}}
	w, err := watcher.New(watcher.Options{
		IngressDir: ingress, ProcessedDir: processed, PoisonedDir: poisoned,
		QuietInterval: 10 * time.Millisecond,
	}, runner)
	require.NoError(t, err)

	require.NoError(t, w.PollOnce(context.Background()))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))

	assert.Empty(t, runner.runs, "malformed JSON never reaches the pipeline")

	_, err = os.Stat(filepath.Join(ingress, "malformed.json"))
	assert.True(t, os.IsNotExist(err), "malformed file must be removed from ingress")

	entries, err := os.ReadDir(poisoned)
	require.NoError(t, err)
	require.Len(t, entries, 1, "malformed file must be relocated to poisoned/")
	assert.Contains(t, entries[0].Name(), "malformed.json")
}

func TestPollOnce_PartiallyWrittenFile_NotEligibleUntilQuiet(t *testing.T) {
	ingress, processed, poisoned := newTestDirs(t)
	path := filepath.Join(ingress, "growing.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"issue_id":`), 0o644))

	runner := &recordingRunner{fail: map[string]bool{}}
	w, err := watcher.New(watcher.Options{
		IngressDir: ingress, ProcessedDir: processed, PoisonedDir: poisoned,
		QuietInterval: 30 * time.Millisecond,
	}, runner)
	require.NoError(t, err)

	require.NoError(t, w.PollOnce(context.Background()))
	// File is still growing: append more content before the quiet interval elapses.
	require.NoError(t, os.WriteFile(path, []byte(validIssueJSON), 0o644))
	require.NoError(t, w.PollOnce(context.Background()))
	assert.Empty(t, runner.runs, "size changed since last poll, so the file must not be dispatched yet")

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, w.PollOnce(context.Background()))
	assert.Equal(t, []string{"growing.json"}, runner.runs)
}

func TestNew_RequiresAllDirectories(t *testing.T) {
	_, err := watcher.New(watcher.Options{IngressDir: "x"}, &recordingRunner{})
	assert.Error(t, err)
}
