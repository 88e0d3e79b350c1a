package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/stagehand/internal/pipeline"
)

// ErrNotFound is returned when a requested generation does not exist.
var ErrNotFound = errors.New("not found")

// GenerationRecord is a journal row for one build.
type GenerationRecord struct {
	ID     string `json:"id"`
	Seq    int64  `json:"seq"`
	OutDir string `json:"out_dir"`
	Tasks  int    `json:"tasks"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// LatestGeneration returns the most recently started generation.
// UUIDv7 ids sort by creation time; rowid breaks ties for fixed test ids.
func (s *Store) LatestGeneration(ctx context.Context) (GenerationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, out_dir, task_count, status, error
		FROM generations
		ORDER BY rowid DESC
		LIMIT 1
	`)
	return scanGeneration(row)
}

// ReadGeneration returns the generation with the given id.
func (s *Store) ReadGeneration(ctx context.Context, id string) (GenerationRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, seq, out_dir, task_count, status, error
		FROM generations
		WHERE id = ?
	`, id)
	return scanGeneration(row)
}

func scanGeneration(row *sql.Row) (GenerationRecord, error) {
	var g GenerationRecord
	err := row.Scan(&g.ID, &g.Seq, &g.OutDir, &g.Tasks, &g.Status, &g.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return GenerationRecord{}, ErrNotFound
	}
	if err != nil {
		return GenerationRecord{}, fmt.Errorf("read generation: %w", err)
	}
	return g, nil
}

// ReadSteps returns the steps of a generation in seq order.
func (s *Store) ReadSteps(ctx context.Context, generationID string) ([]pipeline.Step, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT generation_id, seq, task_index, path, branch, destination, incremental
		FROM steps
		WHERE generation_id = ?
		ORDER BY seq ASC, id ASC
	`, generationID)
	if err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	defer rows.Close()

	var steps []pipeline.Step
	for rows.Next() {
		var (
			st          pipeline.Step
			branch      string
			incremental int
		)
		if err := rows.Scan(&st.GenerationID, &st.Seq, &st.Task, &st.Path, &branch, &st.Destination, &incremental); err != nil {
			return nil, fmt.Errorf("read steps: %w", err)
		}
		st.Branch = pipeline.Branch(branch)
		st.Incremental = incremental != 0
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read steps: %w", err)
	}
	return steps, nil
}
