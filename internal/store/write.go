package store

import (
	"context"
	"fmt"

	"github.com/roach88/stagehand/internal/pipeline"
)

// Generation status values.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Store implements pipeline.Recorder.
var _ pipeline.Recorder = (*Store)(nil)

// BeginGeneration inserts a generation row in the running state.
// Uses ON CONFLICT(id) DO NOTHING so a repeated id is ignored.
func (s *Store) BeginGeneration(ctx context.Context, info pipeline.GenerationInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO generations (id, seq, out_dir, task_count, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, info.ID, info.Seq, info.OutDir, info.Tasks, StatusRunning)
	if err != nil {
		return fmt.Errorf("begin generation: %w", err)
	}
	return nil
}

// RecordStep inserts one executor step. Steps replayed after the build ended
// are appended to the same generation.
func (s *Store) RecordStep(ctx context.Context, step pipeline.Step) error {
	incremental := 0
	if step.Incremental {
		incremental = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps
		(generation_id, seq, task_index, path, branch, destination, incremental)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(generation_id, seq) DO NOTHING
	`,
		step.GenerationID,
		step.Seq,
		step.Task,
		step.Path,
		string(step.Branch),
		step.Destination,
		incremental,
	)
	if err != nil {
		return fmt.Errorf("record step: %w", err)
	}
	return nil
}

// EndGeneration stores the final status of a generation.
func (s *Store) EndGeneration(ctx context.Context, id string, buildErr error) error {
	status, msg := StatusSucceeded, ""
	if buildErr != nil {
		status, msg = StatusFailed, buildErr.Error()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE generations SET status = ?, error = ? WHERE id = ?
	`, status, msg, id)
	if err != nil {
		return fmt.Errorf("end generation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("end generation: unknown generation %q", id)
	}
	return nil
}
