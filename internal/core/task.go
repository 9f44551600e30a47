package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// TaskState describes where a task currently sits in its lifecycle.
type TaskState string

const (
	StateIdle      TaskState = "idle"      // disabled by the operator, not scheduled
	StateScheduled TaskState = "scheduled" // enabled, waiting for its next execution
	StateChecking  TaskState = "checking"  // prerequisite check in progress
	StateReady     TaskState = "ready"     // prerequisites met, about to execute
	StateExecuting TaskState = "executing" // main phase in progress
	StateVerifying TaskState = "verifying" // post-execution verification in progress
	StateSuccess   TaskState = "success"   // last run completed and verified
	StateFailed    TaskState = "failed"    // last run failed, retry pending
	StateDisabled  TaskState = "disabled"  // retries exhausted, needs manual re-enable
)

// Task is one schedulable unit of automation. Implementations perform the
// actual device interaction; the runtime wrapper owns all lifecycle state.
//
// CheckPrerequisites is a cheap gate run before committing to execution.
// Returning false (or an error) is not a failure: the task simply stays
// scheduled and is reconsidered on a later tick.
//
// Execute performs the automation. VerifyCompletion confirms afterwards that
// the action actually took effect, independently of Execute's own result.
type Task interface {
	Name() string
	CheckPrerequisites(ctx context.Context) (bool, error)
	Execute(ctx context.Context) error
	VerifyCompletion(ctx context.Context) (bool, error)
}

// TaskConfig controls how and when a task runs. It is treated as
// immutable after registration except for Enabled, which the runtime flips
// when retries are exhausted and the operator flips back via Enable.
type TaskConfig struct {
	Enabled bool

	// Recurrence period. Both zero means "as often as the scheduler ticks".
	IntervalHours   int
	IntervalMinutes int

	// Optional cron expression (5-field). When set it takes precedence over
	// the interval for computing the next execution.
	Cron string

	// Optional daily window ("06:00".."23:00") the task may run in.
	StartTime string
	EndTime   string

	// Lower number = more urgent. Convention is 1..10.
	Priority int

	MaxRetries        int
	RetryDelayMinutes int

	// Soft budget for the execute phase, in seconds. Overruns are logged,
	// never enforced: device calls are not safely cancellable mid-flight.
	MaxExecutionSeconds int
}

// Interval returns the configured recurrence period.
func (c TaskConfig) Interval() time.Duration {
	return time.Duration(c.IntervalHours)*time.Hour + time.Duration(c.IntervalMinutes)*time.Minute
}

// RetryDelay returns the delay applied before a retry attempt.
func (c TaskConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelayMinutes) * time.Minute
}

// clock is a time of day without a date, parsed from "HH:MM".
type clock struct {
	hour, minute int
}

func parseClock(s string) (clock, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return clock{}, fmt.Errorf("invalid time of day %q, want HH:MM", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	return clock{hour: hour, minute: minute}, nil
}

func (c clock) minutes() int {
	return c.hour*60 + c.minute
}

func minuteOfDay(t time.Time) int {
	h, m, _ := t.Clock()
	return h*60 + m
}

func (c clock) onDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), c.hour, c.minute, 0, 0, t.Location())
}

// window restricts execution to a daily time range.
type window struct {
	start *clock
	end   *clock
}

func parseWindow(startTime, endTime string) (*window, error) {
	if startTime == "" && endTime == "" {
		return nil, nil
	}
	w := &window{}
	if startTime != "" {
		c, err := parseClock(startTime)
		if err != nil {
			return nil, fmt.Errorf("start time: %w", err)
		}
		w.start = &c
	}
	if endTime != "" {
		c, err := parseClock(endTime)
		if err != nil {
			return nil, fmt.Errorf("end time: %w", err)
		}
		w.end = &c
	}
	return w, nil
}

// adjust moves a computed execution time into the window: before the window
// it snaps to the window start the same day, after the window it moves to
// the window start the next day.
func (w *window) adjust(t time.Time) time.Time {
	tod := minuteOfDay(t)
	if w.start != nil && tod < w.start.minutes() {
		return w.start.onDay(t)
	}
	if w.end != nil && tod > w.end.minutes() && w.start != nil {
		return w.start.onDay(t.AddDate(0, 0, 1))
	}
	return t
}
