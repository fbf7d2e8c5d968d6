package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// RunStore persists run metadata.
type RunStore struct {
	db    DB
	table string
}

// NewRunStore wraps db. An empty table defaults to "runs".
func NewRunStore(db DB, table string) (*RunStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	name, err := tableName(table, "runs")
	if err != nil {
		return nil, err
	}
	return &RunStore{db: db, table: name}, nil
}

// CreateRun inserts a new run row.
func (s *RunStore) CreateRun(ctx context.Context, run results.Run) error {
	request, counters, err := encodeRun(run)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, request, submitted_at, counters)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.db.Exec(ctx, query, run.ID, string(run.Status), request, run.Submitted, counters)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", results.ErrRunExists, run.ID)
	}
	return nil
}

// UpdateRun writes status, timestamps, counters and outputs of run.
func (s *RunStore) UpdateRun(ctx context.Context, run results.Run) error {
	_, counters, err := encodeRun(run)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	status = $2,
	started_at = $3,
	finished_at = $4,
	counters = $5,
	error_text = $6,
	export_uri = $7
WHERE id = $1`, s.table)
	tag, err := s.db.Exec(ctx, query,
		run.ID,
		string(run.Status),
		run.Started,
		run.Finished,
		counters,
		run.ErrorText,
		run.ExportURI,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", results.ErrRunNotFound, run.ID)
	}
	return nil
}

// GetRun loads a run by ID.
func (s *RunStore) GetRun(ctx context.Context, runID string) (results.Run, error) {
	query := fmt.Sprintf(`
SELECT id, status, request, submitted_at, started_at, finished_at, counters, error_text, export_uri
FROM %s WHERE id = $1`, s.table)
	var (
		run      results.Run
		status   string
		request  []byte
		counters []byte
		started  *time.Time
		finished *time.Time
	)
	err := s.db.QueryRow(ctx, query, runID).Scan(
		&run.ID, &status, &request, &run.Submitted, &started, &finished, &counters, &run.ErrorText, &run.ExportURI,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return results.Run{}, fmt.Errorf("%w: %s", results.ErrRunNotFound, runID)
	}
	if err != nil {
		return results.Run{}, fmt.Errorf("select run: %w", err)
	}
	run.Status = results.RunStatus(status)
	run.Started = started
	run.Finished = finished
	if err := json.Unmarshal(request, &run.Request); err != nil {
		return results.Run{}, fmt.Errorf("decode run request: %w", err)
	}
	if err := json.Unmarshal(counters, &run.Counters); err != nil {
		return results.Run{}, fmt.Errorf("decode run counters: %w", err)
	}
	return run, nil
}

func encodeRun(run results.Run) ([]byte, []byte, error) {
	request, err := json.Marshal(run.Request)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run request: %w", err)
	}
	counters, err := json.Marshal(run.Counters)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal run counters: %w", err)
	}
	return request, counters, nil
}
