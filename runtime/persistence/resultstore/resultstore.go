// Package resultstore implements the Persistence Layer's WriteResult side:
// serializing a completed Result to a timestamped JSON file via an atomic
// write (temp file, fsync, rename, fsync directory entry) so a crash never
// leaves a partial or missing file visible to readers.
package resultstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"agentpipeline.dev/core/runtime/perr"
	"agentpipeline.dev/core/runtime/pipeline"
)

// Store writes Results as JSON files under a fixed output directory.
type Store struct {
	dir string
}

// New constructs a Store rooted at dir, creating it if absent.
func New(dir string) (*Store, error) {
	if dir == "" {
		return nil, perr.New(perr.KindInvalidInput, "resultstore: output directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, perr.Wrap(perr.KindPersistenceFailed, err, "creating result output directory")
	}
	return &Store{dir: dir}, nil
}

// WriteResult serializes result with stable key ordering (the struct's
// declared field order) and two-space indentation, then writes it to
// result_{timestamp}_{run_id_prefix}.json via a temp-file-then-rename so
// partial writes are never visible under the final name.
func (s *Store) WriteResult(_ context.Context, result *pipeline.Result) (string, error) {
	if result == nil {
		return "", perr.New(perr.KindInvalidInput, "resultstore: nil result")
	}

	body, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", perr.Wrap(perr.KindPersistenceFailed, err, "marshaling result")
	}

	name := fmt.Sprintf("result_%s_%s.json", time.Now().UTC().Format("2006-01-02_15-04-05"), runIDPrefix(result.RunID))
	finalPath := filepath.Join(s.dir, name)

	if err := writeAtomic(s.dir, finalPath, body); err != nil {
		return "", perr.Wrap(perr.KindPersistenceFailed, err, "writing result file")
	}
	return finalPath, nil
}

func writeAtomic(dir, finalPath string, body []byte) error {
	tmp, err := os.CreateTemp(dir, ".result-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsyncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("renaming into place: %w", err)
	}

	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("opening directory for fsync: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsyncing directory entry: %w", err)
	}
	return nil
}

func runIDPrefix(runID string) string {
	const n = 8
	if len(runID) <= n {
		return runID
	}
	return runID[:n]
}
