package core

import "time"

// RunStatus describes the outcome of a single run attempt.
type RunStatus string

const (
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunSkipped   RunStatus = "skipped" // prerequisites not met, not counted as a failure
)

// Phase names the lifecycle phase a run reached.
const (
	PhasePrerequisites = "prerequisites"
	PhaseExecute       = "execute"
	PhaseVerify        = "verify"
)

// RunRecord captures everything observers need to know about one completed
// run attempt of a task.
type RunRecord struct {
	ID              string
	Task            string
	Status          RunStatus
	Phase           string // deepest phase reached
	Attempt         int    // 1-based, includes retries
	StartedAt       time.Time
	EndedAt         time.Time
	DurationSeconds float64
	Error           string
	Disabled        bool // true when this failure exhausted the retry budget
}

// Observer receives task lifecycle events. The scheduler and runtimes hold a
// shared observer list instead of assignable callbacks, so tasks never need a
// reference back to the scheduler or to any particular UI.
//
// Observers are invoked synchronously from the worker that ran the task and
// must not block for long.
type Observer interface {
	TaskStateChanged(task string, from, to TaskState)
	TaskCompleted(rec RunRecord)
}

// observerList fans events out to all subscribers.
type observerList struct {
	observers []Observer
}

func (l *observerList) stateChanged(task string, from, to TaskState) {
	for _, o := range l.observers {
		o.TaskStateChanged(task, from, to)
	}
}

func (l *observerList) completed(rec RunRecord) {
	for _, o := range l.observers {
		o.TaskCompleted(rec)
	}
}
