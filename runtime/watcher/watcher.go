// Package watcher implements the Folder Watcher: a polling loop over an
// ingress directory that dispatches newly-arrived, stable JSON issue files
// to a bounded worker pool and atomically relocates each to a processed or
// poisoned directory.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agentpipeline.dev/core/runtime/issue"
	"agentpipeline.dev/core/runtime/telemetry"
)

// DefaultPollInterval is the default time between ingress directory scans.
const DefaultPollInterval = 500 * time.Millisecond

// DefaultQuietInterval is the default duration a file's size must stay
// unchanged before it is considered done being written.
const DefaultQuietInterval = 1 * time.Second

// DefaultWorkers is the default worker pool size: single-worker, for
// deterministic processing order.
const DefaultWorkers = 1

// Runner executes the pipeline once for a single issue. Production code
// wires this to *pipeline.Machine.Run; tests supply a fake.
type Runner interface {
	Run(ctx context.Context, runID string, iss *issue.Issue, sourceFilePath string) error
}

// Options configures a Watcher.
type Options struct {
	IngressDir    string
	ProcessedDir  string
	PoisonedDir   string
	PollInterval  time.Duration
	QuietInterval time.Duration
	Workers       int
	Logger        telemetry.Logger
}

// Watcher polls IngressDir for *.json files, waits for each to stop
// changing size, runs the pipeline on it, then relocates it.
type Watcher struct {
	opts   Options
	runner Runner

	mu    sync.Mutex
	seen  map[string]struct{}
	sizes map[string]sizeObservation
}

type sizeObservation struct {
	size       int64
	observedAt time.Time
}

// New constructs a Watcher. ProcessedDir and PoisonedDir are created if
// absent; IngressDir must already exist.
func New(opts Options, runner Runner) (*Watcher, error) {
	if opts.IngressDir == "" || opts.ProcessedDir == "" || opts.PoisonedDir == "" {
		return nil, fmt.Errorf("watcher: ingress, processed, and poisoned directories are all required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.QuietInterval <= 0 {
		opts.QuietInterval = DefaultQuietInterval
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	for _, dir := range []string{opts.ProcessedDir, opts.PoisonedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("watcher: creating %s: %w", dir, err)
		}
	}
	return &Watcher{
		opts:   opts,
		runner: runner,
		seen:   make(map[string]struct{}),
		sizes:  make(map[string]sizeObservation),
	}, nil
}

// Run polls until ctx is canceled. On cancellation it stops accepting new
// files, waits for in-flight workers to finish, and returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.PollOnce(ctx); err != nil {
				w.opts.Logger.Error(ctx, "poll failed", "error", err.Error())
			}
		}
	}
}

// PollOnce runs a single poll cycle: list, filter, check write-completion,
// and dispatch eligible files to the worker pool. Exported so tests and a
// single-shot CLI invocation can drive polling deterministically.
func (w *Watcher) PollOnce(ctx context.Context) error {
	candidates, err := w.listCandidates()
	if err != nil {
		return fmt.Errorf("listing ingress directory: %w", err)
	}

	var eligible, poisonable []string
	for _, path := range candidates {
		st, err := w.checkStable(path)
		if err != nil {
			continue // file vanished or is unreadable; re-inspect next poll
		}
		switch st {
		case stabilityEligible:
			eligible = append(eligible, path)
		case stabilityInvalid:
			poisonable = append(poisonable, path)
		}
	}
	if len(eligible) == 0 && len(poisonable) == 0 {
		return nil
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(w.opts.Workers)
	for _, path := range eligible {
		path := path
		eg.Go(func() error {
			w.process(egCtx, path)
			return nil
		})
	}
	for _, path := range poisonable {
		path := path
		eg.Go(func() error {
			w.poison(egCtx, path)
			return nil
		})
	}
	return eg.Wait()
}

// listCandidates returns *.json files in the ingress directory, excluding
// paths already in the seen-set, sorted by modification time ascending —
// the ordering guarantee that holds when Workers == 1.
func (w *Watcher) listCandidates() ([]string, error) {
	entries, err := os.ReadDir(w.opts.IngressDir)
	if err != nil {
		return nil, err
	}

	type fileInfo struct {
		path    string
		modTime time.Time
	}
	var files []fileInfo
	w.mu.Lock()
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(w.opts.IngressDir, e.Name())
		if _, ok := w.seen[path]; ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: path, modTime: info.ModTime()})
	}
	w.mu.Unlock()

	sort.Slice(files, func(i, j int) bool { return files[i].modTime.Before(files[j].modTime) })
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.path
	}
	return out, nil
}

// stability is the outcome of checkStable for one poll.
type stability int

const (
	// stabilityPending means the file is still being written, or has not
	// yet held its size for QuietInterval.
	stabilityPending stability = iota
	// stabilityEligible means the file has been size-stable for at least
	// QuietInterval and parses as valid Issue JSON.
	stabilityEligible
	// stabilityInvalid means the file has been size-stable for at least
	// QuietInterval but failed JSON or schema validation — it must be
	// poisoned, never silently left in ingress.
	stabilityInvalid
)

// checkStable applies the write-completion policy: a file becomes eligible
// (or invalid) once its size has held for at least QuietInterval across two
// consecutive polls. A non-nil error means the file vanished or could not
// be read, a transient condition re-inspected on the next poll.
func (w *Watcher) checkStable(path string) (stability, error) {
	info, err := os.Stat(path)
	if err != nil {
		return stabilityPending, err
	}
	size := info.Size()
	now := time.Now()

	w.mu.Lock()
	prev, tracked := w.sizes[path]
	if !tracked || prev.size != size {
		w.sizes[path] = sizeObservation{size: size, observedAt: now}
		w.mu.Unlock()
		return stabilityPending, nil
	}
	stableFor := now.Sub(prev.observedAt)
	w.mu.Unlock()

	if stableFor < w.opts.QuietInterval {
		return stabilityPending, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return stabilityPending, err
	}
	if _, err := issue.Parse(data); err != nil {
		return stabilityInvalid, nil
	}
	return stabilityEligible, nil
}

// process parses the file, runs the pipeline, and relocates the file to
// processed/ or poisoned/ depending on outcome. The file is removed from
// the seen-set only after a successful relocation, so a crash mid-process
// (or a relocation that itself fails, e.g. because the destination
// directory became unwritable) causes the file to be re-picked-up only on
// restart, never on the very next poll of the same process.
func (w *Watcher) process(ctx context.Context, path string) {
	w.markSeen(path)

	data, err := os.ReadFile(path)
	if err != nil {
		w.opts.Logger.Error(ctx, "failed to read ingress file", "path", path, "error", err.Error())
		w.relocateOrKeepSeen(ctx, path, w.opts.PoisonedDir)
		return
	}

	iss, err := issue.Parse(data)
	if err != nil {
		w.opts.Logger.Error(ctx, "ingress file failed schema validation", "path", path, "error", err.Error())
		w.relocateOrKeepSeen(ctx, path, w.opts.PoisonedDir)
		return
	}

	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())
	if err := w.runner.Run(ctx, runID, iss, path); err != nil {
		w.opts.Logger.Error(ctx, "pipeline run errored", "path", path, "run_id", runID, "error", err.Error())
		w.relocateOrKeepSeen(ctx, path, w.opts.PoisonedDir)
		return
	}

	w.relocateOrKeepSeen(ctx, path, w.opts.ProcessedDir)
}

// poison relocates a size-stable file that failed JSON/schema validation
// straight to PoisonedDir, without invoking the runner. checkStable has
// already confirmed this file's content can't parse as Issue JSON.
func (w *Watcher) poison(ctx context.Context, path string) {
	w.markSeen(path)

	w.opts.Logger.Error(ctx, "ingress file failed schema validation", "path", path)
	w.relocateOrKeepSeen(ctx, path, w.opts.PoisonedDir)
}

// relocateOrKeepSeen relocates path into destDir and, only on success,
// removes it from the seen-set; a failed relocation leaves the path marked
// seen so it is not re-dispatched to the runner on the next poll while it
// still sits, unrelocated, in the ingress directory.
func (w *Watcher) relocateOrKeepSeen(ctx context.Context, path, destDir string) {
	if w.relocate(ctx, path, destDir) {
		w.unmarkSeen(path)
	}
}

func (w *Watcher) relocate(ctx context.Context, path, destDir string) bool {
	dest := filepath.Join(destDir, fmt.Sprintf("%s_%s", time.Now().UTC().Format("2006-01-02T15-04-05.000000000"), filepath.Base(path)))
	if err := os.Rename(path, dest); err != nil {
		w.opts.Logger.Error(ctx, "failed to relocate ingress file", "path", path, "dest", dest, "error", err.Error())
		return false
	}
	return true
}

func (w *Watcher) markSeen(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seen[path] = struct{}{}
}

func (w *Watcher) unmarkSeen(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.seen, path)
	delete(w.sizes, path)
}
