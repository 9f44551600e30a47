package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// Fixed soft budgets for the cheap phases. The execute phase uses the
// per-task MaxExecutionSeconds instead.
const (
	prerequisiteBudget = 30 * time.Second
	verifyBudget       = 30 * time.Second
)

// Runtime wraps a Task with its state machine, timeout accounting,
// statistics and retry bookkeeping. All persistent task state lives here;
// the Task itself only implements behavior.
//
// Run is only ever invoked from the single worker the scheduler serializes
// execution on. The exported mutators (Enable, Disable, ForceRunNow,
// ResetStatistics) may be called from any goroutine, so every field is
// guarded by mu.
type Runtime struct {
	task   Task
	id     string
	logger *slog.Logger

	schedule cron.Schedule // non-nil when cfg.Cron is set
	window   *window

	observers *observerList

	// injectable clock, tests replace this
	now func() time.Time

	mu            sync.Mutex
	cfg           TaskConfig
	state         TaskState
	lastExecution *time.Time
	nextExecution *time.Time
	retryCount    int

	totalExecutions      int
	successfulExecutions int
	failedExecutions     int
	totalExecutionSecs   float64
	averageExecutionSecs float64
}

// TaskStatistics is a point-in-time snapshot of a runtime, safe to hand to
// the API, MCP tools and dashboards.
type TaskStatistics struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"`
	State                   TaskState  `json:"state"`
	Enabled                 bool       `json:"enabled"`
	Priority                int        `json:"priority"`
	TotalExecutions         int        `json:"total_executions"`
	SuccessfulExecutions    int        `json:"successful_executions"`
	FailedExecutions        int        `json:"failed_executions"`
	SuccessRatePercent      float64    `json:"success_rate_percent"`
	AverageExecutionSeconds float64    `json:"average_execution_seconds"`
	LastExecution           *time.Time `json:"last_execution,omitempty"`
	NextExecution           *time.Time `json:"next_execution,omitempty"`
	RetryCount              int        `json:"retry_count"`
	IntervalMinutes         int        `json:"interval_minutes"`
}

// NewRuntime validates the config and builds the runtime for a task.
// The initial state is SCHEDULED when enabled, IDLE otherwise.
func NewRuntime(task Task, cfg TaskConfig, logger *slog.Logger) (*Runtime, error) {
	w, err := parseWindow(cfg.StartTime, cfg.EndTime)
	if err != nil {
		return nil, fmt.Errorf("task %q: %w", task.Name(), err)
	}
	var schedule cron.Schedule
	if cfg.Cron != "" {
		schedule, err = ParseCron(cfg.Cron)
		if err != nil {
			return nil, fmt.Errorf("task %q: %w", task.Name(), err)
		}
	}
	state := StateScheduled
	if !cfg.Enabled {
		state = StateIdle
	}
	return &Runtime{
		task:      task,
		id:        normalizeID(task.Name()),
		logger:    logger.With("task", task.Name()),
		schedule:  schedule,
		window:    w,
		observers: &observerList{},
		now:       time.Now,
		cfg:       cfg,
		state:     state,
	}, nil
}

func normalizeID(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

// ID returns the registry identifier for this runtime.
func (rt *Runtime) ID() string { return rt.id }

// Name returns the wrapped task's name.
func (rt *Runtime) Name() string { return rt.task.Name() }

// State returns the current lifecycle state.
func (rt *Runtime) State() TaskState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// Enabled reports whether the task may be selected by the scheduler.
func (rt *Runtime) Enabled() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.cfg.Enabled
}

// Priority returns the configured priority (lower = more urgent).
func (rt *Runtime) Priority() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.cfg.Priority
}

// Run drives one complete execution attempt: prerequisites, execute, verify,
// statistics. It returns true iff the task reached SUCCESS. Errors and panics
// from any phase are swallowed here and converted into state transitions;
// nothing propagates to the scheduler.
func (rt *Runtime) Run(ctx context.Context) bool {
	started := rt.now()
	rt.mu.Lock()
	attempt := rt.retryCount + 1
	executeBudget := time.Duration(rt.cfg.MaxExecutionSeconds) * time.Second
	rt.mu.Unlock()

	rt.logger.Info("starting task", "attempt", attempt)
	rt.setState(StateChecking)

	ready, err := rt.checkPrerequisites(ctx)
	if err != nil {
		rt.logger.Error("prerequisite check error", "err", err)
	}
	if !ready {
		// Not a failure: no statistics change, no retry change. The task
		// stays due and is reconsidered on a later tick.
		rt.logger.Warn("prerequisites not met")
		rt.setState(StateScheduled)
		rt.emitCompleted(RunRecord{
			ID:        uuid.NewString(),
			Task:      rt.task.Name(),
			Status:    RunSkipped,
			Phase:     PhasePrerequisites,
			Attempt:   attempt,
			StartedAt: started,
			EndedAt:   rt.now(),
		})
		return false
	}

	rt.setState(StateReady)
	rt.logger.Info("prerequisites met, executing")
	rt.setState(StateExecuting)

	if err := rt.execute(ctx, executeBudget); err != nil {
		rt.logger.Error("execution failed", "err", err)
		rt.finishFailure(PhaseExecute, err, started, attempt)
		return false
	}

	rt.setState(StateVerifying)
	verified, err := rt.verify(ctx)
	if !verified {
		if err == nil {
			err = fmt.Errorf("completion could not be verified")
		}
		rt.logger.Error("verification failed", "err", err)
		rt.finishFailure(PhaseVerify, err, started, attempt)
		return false
	}

	rt.setState(StateSuccess)
	elapsed := rt.now().Sub(started)
	rt.finishSuccess(elapsed, started, attempt)
	rt.logger.Info("task completed", "elapsed", elapsed.Round(10*time.Millisecond))
	rt.setState(StateScheduled)
	return true
}

func (rt *Runtime) checkPrerequisites(ctx context.Context) (ok bool, err error) {
	err = rt.observePhase(PhasePrerequisites, prerequisiteBudget, func() error {
		var phaseErr error
		ok, phaseErr = rt.task.CheckPrerequisites(ctx)
		return phaseErr
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

func (rt *Runtime) execute(ctx context.Context, budget time.Duration) error {
	return rt.observePhase(PhaseExecute, budget, func() error {
		return rt.task.Execute(ctx)
	})
}

func (rt *Runtime) verify(ctx context.Context) (ok bool, err error) {
	err = rt.observePhase(PhaseVerify, verifyBudget, func() error {
		var phaseErr error
		ok, phaseErr = rt.task.VerifyCompletion(ctx)
		return phaseErr
	})
	if err != nil {
		return false, err
	}
	return ok, nil
}

// observePhase runs one phase under a soft time budget. An overrun is logged
// with the observed elapsed time but the call is never aborted: the device
// collaborators (screen capture, tap) cannot be safely cancelled mid-flight,
// so correctness wins over strict deadline enforcement. Panics are recovered
// and surfaced as phase errors.
func (rt *Runtime) observePhase(phase string, budget time.Duration, fn func() error) (err error) {
	start := rt.now()
	defer func() {
		if p := recover(); p != nil {
			rt.logger.Error("panic during phase", "phase", phase, "panic", p)
			err = fmt.Errorf("%s panicked: %v", phase, p)
		}
		if budget > 0 {
			if elapsed := rt.now().Sub(start); elapsed > budget {
				rt.logger.Warn("phase exceeded soft budget",
					"phase", phase,
					"elapsed", elapsed.Round(time.Millisecond),
					"budget", budget)
			}
		}
	}()
	return fn()
}

func (rt *Runtime) finishSuccess(elapsed time.Duration, started time.Time, attempt int) {
	now := rt.now()

	rt.mu.Lock()
	rt.totalExecutions++
	rt.successfulExecutions++
	rt.retryCount = 0
	rt.lastExecution = &now
	next := rt.computeNextLocked(&now)
	rt.nextExecution = &next
	rt.totalExecutionSecs += elapsed.Seconds()
	rt.averageExecutionSecs = rt.totalExecutionSecs / float64(rt.totalExecutions)
	rt.mu.Unlock()

	rt.emitCompleted(RunRecord{
		ID:              uuid.NewString(),
		Task:            rt.task.Name(),
		Status:          RunSucceeded,
		Phase:           PhaseVerify,
		Attempt:         attempt,
		StartedAt:       started,
		EndedAt:         now,
		DurationSeconds: elapsed.Seconds(),
	})
}

func (rt *Runtime) finishFailure(phase string, cause error, started time.Time, attempt int) {
	rt.setState(StateFailed)
	now := rt.now()

	rt.mu.Lock()
	rt.totalExecutions++
	rt.failedExecutions++
	rt.retryCount++
	// Failed attempts also advance lastExecution so that a later manual
	// re-enable schedules from the most recent attempt instead of being
	// due immediately.
	rt.lastExecution = &now
	disabled := rt.retryCount >= rt.cfg.MaxRetries
	if disabled {
		rt.cfg.Enabled = false
	} else {
		next := now.Add(rt.cfg.RetryDelay())
		rt.nextExecution = &next
	}
	retries := rt.retryCount
	maxRetries := rt.cfg.MaxRetries
	delay := rt.cfg.RetryDelay()
	rt.mu.Unlock()

	if disabled {
		rt.logger.Error("task failed too many times, disabling", "failures", retries)
		rt.setState(StateDisabled)
	} else {
		rt.logger.Info("task will retry", "delay", delay, "attempt", retries, "max_retries", maxRetries)
		rt.setState(StateScheduled)
	}

	rt.emitCompleted(RunRecord{
		ID:              uuid.NewString(),
		Task:            rt.task.Name(),
		Status:          RunFailed,
		Phase:           phase,
		Attempt:         attempt,
		StartedAt:       started,
		EndedAt:         now,
		DurationSeconds: now.Sub(started).Seconds(),
		Error:           cause.Error(),
		Disabled:        disabled,
	})
}

// computeNextLocked derives the next execution time from a reference point.
// Callers hold mu. A nil reference (never executed) means due immediately.
func (rt *Runtime) computeNextLocked(from *time.Time) time.Time {
	if from == nil {
		return rt.now()
	}
	if rt.schedule != nil {
		return rt.schedule.Next(*from)
	}
	next := from.Add(rt.cfg.Interval())
	if rt.window != nil {
		next = rt.window.adjust(next)
	}
	return next
}

// IsDue reports whether the task should run now. The next execution time is
// computed lazily on first call so freshly registered tasks are due
// immediately.
func (rt *Runtime) IsDue() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.cfg.Enabled || rt.state == StateDisabled {
		return false
	}
	if rt.nextExecution == nil {
		next := rt.computeNextLocked(rt.lastExecution)
		rt.nextExecution = &next
	}
	return !rt.now().Before(*rt.nextExecution)
}

// NextExecution returns the scheduled next execution time, if computed.
func (rt *Runtime) NextExecution() *time.Time {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.nextExecution == nil {
		return nil
	}
	t := *rt.nextExecution
	return &t
}

// Enable re-enables the task and resets its retry counter. The previous
// schedule is kept: a task auto-disabled after failures is not immediately
// due again, its next execution derives from the last attempt.
func (rt *Runtime) Enable() {
	rt.mu.Lock()
	rt.cfg.Enabled = true
	rt.retryCount = 0
	next := rt.computeNextLocked(rt.lastExecution)
	rt.nextExecution = &next
	rt.mu.Unlock()
	rt.setState(StateScheduled)
	rt.logger.Info("task enabled")
}

// Disable takes the task out of scheduling without touching statistics.
func (rt *Runtime) Disable() {
	rt.mu.Lock()
	rt.cfg.Enabled = false
	rt.mu.Unlock()
	rt.setState(StateIdle)
	rt.logger.Info("task disabled")
}

// ResetStatistics clears all counters and the retry budget.
func (rt *Runtime) ResetStatistics() {
	rt.mu.Lock()
	rt.totalExecutions = 0
	rt.successfulExecutions = 0
	rt.failedExecutions = 0
	rt.totalExecutionSecs = 0
	rt.averageExecutionSecs = 0
	rt.retryCount = 0
	rt.mu.Unlock()
	rt.logger.Info("statistics reset")
}

// ForceRunNow makes the task due on the next scheduler tick.
func (rt *Runtime) ForceRunNow() {
	now := rt.now()
	rt.mu.Lock()
	rt.nextExecution = &now
	rt.mu.Unlock()
	rt.logger.Info("task forced to run now")
}

// Statistics returns a snapshot for introspection surfaces.
func (rt *Runtime) Statistics() TaskStatistics {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	successRate := 0.0
	if rt.totalExecutions > 0 {
		successRate = float64(rt.successfulExecutions) / float64(rt.totalExecutions) * 100
	}
	stats := TaskStatistics{
		ID:                      rt.id,
		Name:                    rt.task.Name(),
		State:                   rt.state,
		Enabled:                 rt.cfg.Enabled,
		Priority:                rt.cfg.Priority,
		TotalExecutions:         rt.totalExecutions,
		SuccessfulExecutions:    rt.successfulExecutions,
		FailedExecutions:        rt.failedExecutions,
		SuccessRatePercent:      successRate,
		AverageExecutionSeconds: rt.averageExecutionSecs,
		RetryCount:              rt.retryCount,
		IntervalMinutes:         rt.cfg.IntervalHours*60 + rt.cfg.IntervalMinutes,
	}
	if rt.lastExecution != nil {
		t := *rt.lastExecution
		stats.LastExecution = &t
	}
	if rt.nextExecution != nil {
		t := *rt.nextExecution
		stats.NextExecution = &t
	}
	return stats
}

// RetryCount returns the current retry counter.
func (rt *Runtime) RetryCount() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.retryCount
}

func (rt *Runtime) setState(next TaskState) {
	rt.mu.Lock()
	prev := rt.state
	rt.state = next
	rt.mu.Unlock()
	if prev != next {
		rt.observers.stateChanged(rt.task.Name(), prev, next)
	}
}

func (rt *Runtime) emitCompleted(rec RunRecord) {
	rt.observers.completed(rec)
}
