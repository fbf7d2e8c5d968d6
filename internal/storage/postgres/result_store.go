package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// ResultStore appends result records to a Postgres table, one row per roll.
type ResultStore struct {
	db    DB
	table string
}

// NewResultStore wraps db. An empty table defaults to "results".
func NewResultStore(db DB, table string) (*ResultStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	name, err := tableName(table, "results")
	if err != nil {
		return nil, err
	}
	return &ResultStore{db: db, table: name}, nil
}

// Append inserts rec for runID. Re-appending the same roll in a run
// overwrites the earlier row.
func (s *ResultStore) Append(ctx context.Context, runID string, rec results.ResultRecord) error {
	grades, err := json.Marshal(gradesOrEmpty(rec.Grades))
	if err != nil {
		return fmt.Errorf("marshal grades: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	roll_no,
	name,
	branch,
	grades,
	sgpa,
	cgpa,
	result_description
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (run_id, roll_no) DO UPDATE SET
	name = EXCLUDED.name,
	branch = EXCLUDED.branch,
	grades = EXCLUDED.grades,
	sgpa = EXCLUDED.sgpa,
	cgpa = EXCLUDED.cgpa,
	result_description = EXCLUDED.result_description`, s.table)

	if _, err := s.db.Exec(ctx, query,
		runID,
		rec.RollNo,
		rec.Name,
		rec.Branch,
		grades,
		rec.SGPA,
		rec.CGPA,
		rec.ResultDescription,
	); err != nil {
		return fmt.Errorf("insert result: %w", err)
	}
	return nil
}

// Records returns every record stored for runID in insertion order.
func (s *ResultStore) Records(ctx context.Context, runID string) ([]results.ResultRecord, error) {
	query := fmt.Sprintf(`
SELECT roll_no, name, branch, grades, sgpa, cgpa, result_description
FROM %s WHERE run_id = $1 ORDER BY id`, s.table)
	rows, err := s.db.Query(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	out := []results.ResultRecord{}
	for rows.Next() {
		var (
			rec    results.ResultRecord
			grades []byte
		)
		if err := rows.Scan(&rec.RollNo, &rec.Name, &rec.Branch, &grades, &rec.SGPA, &rec.CGPA, &rec.ResultDescription); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if err := json.Unmarshal(grades, &rec.Grades); err != nil {
			return nil, fmt.Errorf("decode grades for %s: %w", rec.RollNo, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return out, nil
}

// Close releases the pool.
func (s *ResultStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	s.db.Close()
}

func gradesOrEmpty(g []results.SubjectGrade) []results.SubjectGrade {
	if g == nil {
		return []results.SubjectGrade{}
	}
	return g
}
