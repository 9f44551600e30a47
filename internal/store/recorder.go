package store

import (
	"context"
	"log/slog"
	"time"

	"siegebot/internal/core"
)

// Recorder subscribes to the engine and persists every finished run. Skipped
// runs are not stored: a prerequisite gate saying "not now" happens on most
// ticks and would drown the history in noise.
type Recorder struct {
	store  *Store
	logger *slog.Logger
}

// NewRecorder returns an observer that writes run history into the store.
func NewRecorder(s *Store, logger *slog.Logger) *Recorder {
	return &Recorder{store: s, logger: logger.With("component", "recorder")}
}

func (r *Recorder) TaskStateChanged(task string, from, to core.TaskState) {}

func (r *Recorder) TaskCompleted(rec core.RunRecord) {
	if rec.Status == core.RunSkipped {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.store.InsertRun(ctx, rec); err != nil {
		r.logger.Error("persist run", "task", rec.Task, "err", err)
		return
	}
	if err := r.store.PruneRuns(ctx, rec.Task); err != nil {
		r.logger.Error("prune runs", "task", rec.Task, "err", err)
	}
}
