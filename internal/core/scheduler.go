package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	defaultCheckInterval = 10 * time.Second
	defaultStopTimeout   = 5 * time.Second
)

var (
	ErrAlreadyRegistered = errors.New("task already registered")
	ErrTaskNotFound      = errors.New("task not found")
)

// Scheduler owns the registry of task runtimes and a single background
// worker that polls for due tasks. Execution is strictly serialized: the
// whole system drives one emulated input stream, so at most one task is in
// its checking/executing/verifying phases at any instant.
type Scheduler struct {
	logger        *slog.Logger
	checkInterval time.Duration
	stopTimeout   time.Duration

	observers *observerList

	mu                   sync.Mutex
	order                []*Runtime // registration order, used as the final tie-break
	byID                 map[string]*Runtime
	running              bool
	stopCh               chan struct{}
	done                 chan struct{}
	baseCtx              context.Context
	current              *Runtime // occupant of the single execution slot, nil when idle
	started              time.Time
	totalExecutions      int
	successfulExecutions int
	failedExecutions     int

	// execSlot is the system-wide single-concurrency guard. The poll loop
	// holds it for the duration of a run; RunNow refuses instead of waiting.
	execSlot sync.Mutex

	now func() time.Time
}

// Status is an aggregate snapshot of the scheduler.
type Status struct {
	Running              bool    `json:"running"`
	TotalTasks           int     `json:"total_tasks"`
	EnabledTasks         int     `json:"enabled_tasks"`
	CurrentTask          string  `json:"current_task,omitempty"`
	TotalExecutions      int     `json:"total_executions"`
	SuccessfulExecutions int     `json:"successful_executions"`
	FailedExecutions     int     `json:"failed_executions"`
	SuccessRatePercent   float64 `json:"success_rate_percent"`
	UptimeSeconds        int     `json:"uptime_seconds"`
	Uptime               string  `json:"uptime"`
}

// UpcomingTask annotates an enabled task with its time until execution.
// SecondsUntil is negative when the task is already overdue.
type UpcomingTask struct {
	Name          string    `json:"name"`
	ID            string    `json:"id"`
	Priority      int       `json:"priority"`
	NextExecution time.Time `json:"next_execution"`
	SecondsUntil  float64   `json:"seconds_until"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCheckInterval overrides how often the poll loop looks for due tasks.
func WithCheckInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.checkInterval = d
		}
	}
}

// WithStopTimeout overrides how long Stop waits for the worker to exit.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// NewScheduler constructs an empty scheduler.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		logger:        logger,
		checkInterval: defaultCheckInterval,
		stopTimeout:   defaultStopTimeout,
		observers:     &observerList{},
		byID:          make(map[string]*Runtime),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe adds an observer for task lifecycle events. Must be called
// before Start; the observer list is not guarded against concurrent growth.
func (s *Scheduler) Subscribe(o Observer) {
	s.observers.observers = append(s.observers.observers, o)
}

// Register wraps the task in a runtime and adds it to the registry. An empty
// id derives one from the task name. Registering an id twice fails with
// ErrAlreadyRegistered and leaves the existing registration untouched.
func (s *Scheduler) Register(task Task, cfg TaskConfig, id string) (*Runtime, error) {
	rt, err := NewRuntime(task, cfg, s.logger)
	if err != nil {
		return nil, err
	}
	if id != "" {
		rt.id = normalizeID(id)
	}
	rt.observers = s.observers

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[rt.id]; exists {
		s.logger.Warn("task already registered", "id", rt.id)
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, rt.id)
	}
	s.order = append(s.order, rt)
	s.byID[rt.id] = rt
	s.logger.Info("registered task",
		"id", rt.id,
		"priority", cfg.Priority,
		"interval", cfg.Interval())
	return rt, nil
}

// Unregister removes a task by id and reports whether it was present.
func (s *Scheduler) Unregister(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	for i, r := range s.order {
		if r == rt {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.logger.Info("unregistered task", "id", id)
	return true
}

// Runtime returns the runtime registered under id.
func (s *Scheduler) Runtime(id string) (*Runtime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.byID[id]
	return rt, ok
}

// Start spawns the poll loop. Starting an already-running scheduler is a
// logged no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.logger.Warn("scheduler already running")
		return
	}
	s.running = true
	s.started = s.now()
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.baseCtx = ctx
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go s.loop(ctx, stopCh, done)
	s.logger.Info("scheduler started")
}

// Stop signals the loop to exit and waits up to the stop timeout. A task
// that is mid-execution is never interrupted; Stop returns once the current
// tick completes naturally or the wait times out, whichever comes first.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-time.After(s.stopTimeout):
		s.logger.Warn("scheduler stop timed out waiting for worker")
	}
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the poll loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	s.logger.Info("scheduler loop started")
	for {
		select {
		case <-stopCh:
			s.logger.Info("scheduler loop ended")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler loop ended", "reason", ctx.Err())
			return
		default:
		}

		if s.tick(ctx) {
			// A task ran; re-evaluate immediately so a newly-due urgent
			// task can preempt the remaining backlog.
			continue
		}

		select {
		case <-stopCh:
			s.logger.Info("scheduler loop ended")
			return
		case <-ctx.Done():
			s.logger.Info("scheduler loop ended", "reason", ctx.Err())
			return
		case <-time.After(s.checkInterval):
		}
	}
}

// tick runs at most one due task and reports whether anything ran. A panic
// escaping a tick is caught here so a single task's misbehavior can never
// kill the scheduler.
func (s *Scheduler) tick(ctx context.Context) (ran bool) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("error in scheduler loop", "panic", p)
			ran = false
		}
	}()

	rt := s.nextDue()
	if rt == nil {
		return false
	}

	s.execSlot.Lock()
	defer s.execSlot.Unlock()
	s.execute(ctx, rt)
	return true
}

// nextDue selects the single most urgent due task: priority ascending, then
// earlier next execution, then registration order. Due status does not
// expire, so tasks passed over this tick are reconsidered on the next one.
func (s *Scheduler) nextDue() *Runtime {
	s.mu.Lock()
	candidates := make([]*Runtime, len(s.order))
	copy(candidates, s.order)
	s.mu.Unlock()

	var due []*Runtime
	for _, rt := range candidates {
		if rt.IsDue() {
			due = append(due, rt)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.SliceStable(due, func(i, j int) bool {
		pi, pj := due[i].Priority(), due[j].Priority()
		if pi != pj {
			return pi < pj
		}
		ni, nj := due[i].NextExecution(), due[j].NextExecution()
		if ni != nil && nj != nil && !ni.Equal(*nj) {
			return ni.Before(*nj)
		}
		return false
	})
	next := due[0]
	s.logger.Debug("next task", "id", next.ID(), "priority", next.Priority())
	return next
}

// execute runs one task on the calling goroutine and updates the aggregate
// counters. The caller holds execSlot.
func (s *Scheduler) execute(ctx context.Context, rt *Runtime) {
	s.mu.Lock()
	s.current = rt
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}()

	s.logger.Info("executing task", "id", rt.ID())
	start := s.now()
	success := rt.Run(ctx)
	elapsed := s.now().Sub(start)

	s.mu.Lock()
	s.totalExecutions++
	if success {
		s.successfulExecutions++
	} else {
		s.failedExecutions++
	}
	s.mu.Unlock()

	if success {
		s.logger.Info("task succeeded", "id", rt.ID(), "elapsed", elapsed.Round(10*time.Millisecond))
	} else {
		s.logger.Warn("task did not complete", "id", rt.ID(), "elapsed", elapsed.Round(10*time.Millisecond))
	}
}

// RunNow bypasses scheduling and executes the task immediately on an
// ephemeral worker. It is refused when any task currently occupies the
// execution slot, preserving the single-concurrent-task invariant.
func (s *Scheduler) RunNow(id string) bool {
	rt, ok := s.Runtime(id)
	if !ok {
		s.logger.Error("task not found", "id", id)
		return false
	}
	if !s.execSlot.TryLock() {
		s.logger.Warn("cannot run task now, another task is executing", "id", id)
		return false
	}
	s.logger.Info("manual execution requested", "id", id)
	go func() {
		defer s.execSlot.Unlock()
		s.execute(s.ctxOrBackground(), rt)
	}()
	return true
}

// Enable re-enables a task by id.
func (s *Scheduler) Enable(id string) bool {
	rt, ok := s.Runtime(id)
	if !ok {
		return false
	}
	rt.Enable()
	return true
}

// Disable takes a task out of scheduling by id.
func (s *Scheduler) Disable(id string) bool {
	rt, ok := s.Runtime(id)
	if !ok {
		return false
	}
	rt.Disable()
	return true
}

// ResetStatistics clears one task's counters by id.
func (s *Scheduler) ResetStatistics(id string) bool {
	rt, ok := s.Runtime(id)
	if !ok {
		return false
	}
	rt.ResetStatistics()
	return true
}

// ResetAllStatistics clears the aggregate counters and every task's
// statistics.
func (s *Scheduler) ResetAllStatistics() {
	s.mu.Lock()
	s.totalExecutions = 0
	s.successfulExecutions = 0
	s.failedExecutions = 0
	s.started = s.now()
	runtimes := make([]*Runtime, len(s.order))
	copy(runtimes, s.order)
	s.mu.Unlock()

	for _, rt := range runtimes {
		rt.ResetStatistics()
	}
	s.logger.Info("all statistics reset")
}

// Status returns the aggregate scheduler snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	enabled := 0
	for _, rt := range s.order {
		if rt.Enabled() {
			enabled++
		}
	}
	uptime := 0.0
	if s.running {
		uptime = s.now().Sub(s.started).Seconds()
	}
	successRate := 0.0
	if s.totalExecutions > 0 {
		successRate = float64(s.successfulExecutions) / float64(s.totalExecutions) * 100
	}
	status := Status{
		Running:              s.running,
		TotalTasks:           len(s.order),
		EnabledTasks:         enabled,
		TotalExecutions:      s.totalExecutions,
		SuccessfulExecutions: s.successfulExecutions,
		FailedExecutions:     s.failedExecutions,
		SuccessRatePercent:   successRate,
		UptimeSeconds:        int(uptime),
		Uptime:               formatUptime(uptime),
	}
	if s.current != nil {
		status.CurrentTask = s.current.Name()
	}
	return status
}

// TaskStatistics returns the statistics snapshot for one task.
func (s *Scheduler) TaskStatistics(id string) (TaskStatistics, bool) {
	rt, ok := s.Runtime(id)
	if !ok {
		return TaskStatistics{}, false
	}
	return rt.Statistics(), true
}

// AllStatistics returns snapshots for every registered task in registration
// order.
func (s *Scheduler) AllStatistics() []TaskStatistics {
	s.mu.Lock()
	runtimes := make([]*Runtime, len(s.order))
	copy(runtimes, s.order)
	s.mu.Unlock()

	stats := make([]TaskStatistics, 0, len(runtimes))
	for _, rt := range runtimes {
		stats = append(stats, rt.Statistics())
	}
	return stats
}

// Upcoming returns the next n enabled tasks ordered by next execution time,
// each annotated with seconds until due (negative when overdue).
func (s *Scheduler) Upcoming(n int) []UpcomingTask {
	s.mu.Lock()
	runtimes := make([]*Runtime, len(s.order))
	copy(runtimes, s.order)
	now := s.now()
	s.mu.Unlock()

	var upcoming []UpcomingTask
	for _, rt := range runtimes {
		if !rt.Enabled() {
			continue
		}
		next := rt.NextExecution()
		if next == nil {
			continue
		}
		upcoming = append(upcoming, UpcomingTask{
			Name:          rt.Name(),
			ID:            rt.ID(),
			Priority:      rt.Priority(),
			NextExecution: *next,
			SecondsUntil:  next.Sub(now).Seconds(),
		})
	}
	sort.SliceStable(upcoming, func(i, j int) bool {
		return upcoming[i].NextExecution.Before(upcoming[j].NextExecution)
	})
	if n > 0 && len(upcoming) > n {
		upcoming = upcoming[:n]
	}
	return upcoming
}

func (s *Scheduler) ctxOrBackground() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.baseCtx != nil {
		return s.baseCtx
	}
	return context.Background()
}

func formatUptime(seconds float64) string {
	total := int(seconds)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}
