package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"siegebot/internal/core"
)

var ErrRunNotFound = errors.New("run not found")

// InsertRun records one completed run attempt.
func (s *Store) InsertRun(ctx context.Context, rec core.RunRecord) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, task, status, phase, attempt, started_at, ended_at, duration_seconds, error, disabled, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Task, string(rec.Status), rec.Phase, rec.Attempt,
		rec.StartedAt.UTC().Format(time.RFC3339Nano), rec.EndedAt.UTC().Format(time.RFC3339Nano),
		rec.DurationSeconds, nullableString(rec.Error), boolToInt(rec.Disabled),
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(ctx context.Context, id string) (*core.RunRecord, error) {
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task, status, phase, attempt, started_at, ended_at, duration_seconds, error, disabled
		FROM runs WHERE id = ?
	`, id)
	rec, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return rec, nil
}

// ListRuns returns recent runs, newest first. An empty task matches all
// tasks.
func (s *Store) ListRuns(ctx context.Context, task string, limit, offset int) ([]*core.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, task, status, phase, attempt, started_at, ended_at, duration_seconds, error, disabled
		FROM runs
	`
	args := []any{}
	if task != "" {
		query += ` WHERE task = ?`
		args = append(args, task)
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()
	var runs []*core.RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// PruneRuns deletes all but the newest KeepRuns rows for the given task.
func (s *Store) PruneRuns(ctx context.Context, task string) error {
	if s.KeepRuns <= 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
		DELETE FROM runs
		WHERE task = ? AND id NOT IN (
			SELECT id FROM runs WHERE task = ? ORDER BY created_at DESC LIMIT ?
		)
	`, task, task, s.KeepRuns)
	if err != nil {
		return fmt.Errorf("prune runs: %w", err)
	}
	return nil
}

func scanRun(scanner interface {
	Scan(dest ...any) error
}) (*core.RunRecord, error) {
	var (
		rec       core.RunRecord
		status    string
		startedAt string
		endedAt   string
		errMsg    sql.NullString
		disabled  int
	)
	if err := scanner.Scan(&rec.ID, &rec.Task, &status, &rec.Phase, &rec.Attempt,
		&startedAt, &endedAt, &rec.DurationSeconds, &errMsg, &disabled); err != nil {
		return nil, err
	}
	rec.Status = core.RunStatus(status)
	rec.StartedAt = mustParseTime(startedAt)
	rec.EndedAt = mustParseTime(endedAt)
	if errMsg.Valid {
		rec.Error = errMsg.String
	}
	rec.Disabled = disabled != 0
	return &rec, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func mustParseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		panic(fmt.Sprintf("invalid stored time %q: %v", value, err))
	}
	return t
}
