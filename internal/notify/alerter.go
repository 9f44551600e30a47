package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"siegebot/internal/core"
)

// Alerter is an engine observer that notifies the operator when a task is
// auto-disabled. Routine successes and retries stay quiet.
type Alerter struct {
	notifier Notifier
	logger   *slog.Logger
}

// NewAlerter wraps a notifier as an observer.
func NewAlerter(n Notifier, logger *slog.Logger) *Alerter {
	return &Alerter{notifier: n, logger: logger.With("component", "alerter")}
}

func (a *Alerter) TaskStateChanged(task string, from, to core.TaskState) {}

func (a *Alerter) TaskCompleted(rec core.RunRecord) {
	if !rec.Disabled {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	title := fmt.Sprintf("Task disabled: %s", rec.Task)
	body := fmt.Sprintf("Failed %d times in phase %s. Last error: %s", rec.Attempt, rec.Phase, rec.Error)
	if err := a.notifier.Send(ctx, title, body); err != nil {
		a.logger.Error("send disable notification", "task", rec.Task, "err", err)
	}
}
