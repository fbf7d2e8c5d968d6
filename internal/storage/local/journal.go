package local

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/JakeFAU/bulk-result-crawler/internal/export"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

var validRunID = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Journal appends each completed record to <dir>/<runID>.jsonl. Appends from
// concurrent runners are serialized so lines never interleave.
type Journal struct {
	dir string
	mu  sync.Mutex
}

// NewJournal prepares dir for run journals.
func NewJournal(dir string) (*Journal, error) {
	if err := ensureWritableDir(dir); err != nil {
		return nil, err
	}
	return &Journal{dir: dir}, nil
}

// Append writes rec as one JSON line and syncs it to disk.
func (j *Journal) Append(_ context.Context, runID string, rec results.ResultRecord) error {
	path, err := j.path(runID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	line = append(line, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close journal: %w", err)
	}
	return nil
}

// Records reads back every record of runID in append order. A run with no
// records yields an empty slice.
func (j *Journal) Records(_ context.Context, runID string) ([]results.ResultRecord, error) {
	path, err := j.path(runID)
	if err != nil {
		return nil, err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []results.ResultRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	var out []results.ResultRecord
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec results.ResultRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, fmt.Errorf("decode journal line: %w", err)
		}
		out = append(out, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	if out == nil {
		out = []results.ResultRecord{}
	}
	return out, nil
}

// Export renders the journal of runID as the results CSV.
func (j *Journal) Export(ctx context.Context, runID string, w io.Writer) error {
	recs, err := j.Records(ctx, runID)
	if err != nil {
		return err
	}
	return export.WriteCSV(w, recs)
}

// Remove deletes the journal of runID.
func (j *Journal) Remove(runID string) error {
	path, err := j.path(runID)
	if err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove journal: %w", err)
	}
	return nil
}

func (j *Journal) path(runID string) (string, error) {
	if !validRunID.MatchString(runID) {
		return "", fmt.Errorf("invalid run id %q", runID)
	}
	return filepath.Join(j.dir, runID+".jsonl"), nil
}
