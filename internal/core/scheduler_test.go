package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu          sync.Mutex
	transitions []string
	completed   []RunRecord
}

func (r *recordingObserver) TaskStateChanged(task string, from, to TaskState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, task+":"+string(from)+">"+string(to))
}

func (r *recordingObserver) TaskCompleted(rec RunRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed = append(r.completed, rec)
}

func (r *recordingObserver) records() []RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]RunRecord, len(r.completed))
	copy(out, r.completed)
	return out
}

func newTestScheduler() *Scheduler {
	return NewScheduler(testLogger(), WithCheckInterval(10*time.Millisecond), WithStopTimeout(time.Second))
}

func TestRegisterDerivesIDFromName(t *testing.T) {
	s := newTestScheduler()
	rt, err := s.Register(&stubTask{name: "Alliance Help"}, TaskConfig{Enabled: true, MaxRetries: 3}, "")
	require.NoError(t, err)
	assert.Equal(t, "alliance_help", rt.ID())

	got, ok := s.Runtime("alliance_help")
	assert.True(t, ok)
	assert.Same(t, rt, got)
}

func TestRegisterRejectsDuplicate(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Register(&stubTask{name: "Daily Login"}, TaskConfig{Enabled: true, MaxRetries: 3}, "")
	require.NoError(t, err)

	_, err = s.Register(&stubTask{name: "Daily Login"}, TaskConfig{Enabled: true, MaxRetries: 3}, "")
	assert.ErrorIs(t, err, ErrAlreadyRegistered)

	assert.Equal(t, 1, s.Status().TotalTasks)
}

func TestUnregister(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Register(&stubTask{name: "Mail Collection"}, TaskConfig{Enabled: true, MaxRetries: 3}, "")
	require.NoError(t, err)

	assert.True(t, s.Unregister("mail_collection"))
	assert.False(t, s.Unregister("mail_collection"))
	assert.Equal(t, 0, s.Status().TotalTasks)
}

func TestPriorityPrecedence(t *testing.T) {
	s := newTestScheduler()
	var order []string
	var mu sync.Mutex
	mkTask := func(name string) *stubTask {
		return &stubTask{
			name: name,
			execute: func(ctx context.Context) error {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil
			},
		}
	}

	// Registered low-priority first to prove selection ignores registration
	// order when priorities differ.
	_, err := s.Register(mkTask("Background Chore"), TaskConfig{Enabled: true, Priority: 7, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)
	_, err = s.Register(mkTask("Shield Watch"), TaskConfig{Enabled: true, Priority: 2, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	require.True(t, s.tick(context.Background()))
	require.True(t, s.tick(context.Background()))

	assert.Equal(t, []string{"Shield Watch", "Background Chore"}, order)

	// Both ran once; nothing further is due.
	assert.False(t, s.tick(context.Background()))
}

func TestEqualPriorityBreaksTieOnNextExecution(t *testing.T) {
	s := newTestScheduler()
	var order []string
	mkTask := func(name string) *stubTask {
		return &stubTask{
			name: name,
			execute: func(ctx context.Context) error {
				order = append(order, name)
				return nil
			},
		}
	}

	a, err := s.Register(mkTask("A"), TaskConfig{Enabled: true, Priority: 5, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)
	b, err := s.Register(mkTask("B"), TaskConfig{Enabled: true, Priority: 5, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	// B has been waiting longer than A; both overdue.
	now := time.Now()
	earlier := now.Add(-2 * time.Hour)
	later := now.Add(-1 * time.Hour)
	a.mu.Lock()
	a.nextExecution = &later
	a.mu.Unlock()
	b.mu.Lock()
	b.nextExecution = &earlier
	b.mu.Unlock()

	require.True(t, s.tick(context.Background()))
	assert.Equal(t, []string{"B"}, order)
}

func TestRunNowRefusedWhileAnotherTaskExecutes(t *testing.T) {
	s := newTestScheduler()

	entered := make(chan struct{})
	release := make(chan struct{})
	_, err := s.Register(&stubTask{
		name: "Long March",
		execute: func(ctx context.Context) error {
			close(entered)
			<-release
			return nil
		},
	}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	_, err = s.Register(&stubTask{name: "Quick Collect"}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	require.True(t, s.RunNow("long_march"))
	<-entered

	// The single execution slot is occupied; a second manual run must be
	// refused and must not touch the target's statistics.
	assert.False(t, s.RunNow("quick_collect"))
	stats, ok := s.TaskStatistics("quick_collect")
	require.True(t, ok)
	assert.Equal(t, 0, stats.TotalExecutions)

	close(release)
	require.Eventually(t, func() bool {
		return s.Status().CurrentTask == ""
	}, time.Second, 5*time.Millisecond)

	// Slot free again.
	assert.True(t, s.RunNow("quick_collect"))
	require.Eventually(t, func() bool {
		stats, _ := s.TaskStatistics("quick_collect")
		return stats.TotalExecutions == 1
	}, time.Second, 5*time.Millisecond)
}

func TestRunNowUnknownTask(t *testing.T) {
	s := newTestScheduler()
	assert.False(t, s.RunNow("missing"))
}

func TestSchedulerCountsOutcomes(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Register(&stubTask{name: "Good"}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)
	_, err = s.Register(&stubTask{
		name:    "Bad",
		execute: func(ctx context.Context) error { return errors.New("nope") },
	}, TaskConfig{Enabled: true, Priority: 9, IntervalHours: 1, MaxRetries: 3, RetryDelayMinutes: 30}, "")
	require.NoError(t, err)

	require.True(t, s.tick(context.Background()))
	require.True(t, s.tick(context.Background()))

	status := s.Status()
	assert.Equal(t, 2, status.TotalExecutions)
	assert.Equal(t, 1, status.SuccessfulExecutions)
	assert.Equal(t, 1, status.FailedExecutions)
	assert.InDelta(t, 50.0, status.SuccessRatePercent, 0.01)
}

func TestSchedulerSurvivesPanickingTask(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Register(&stubTask{
		name:    "Chaos",
		execute: func(ctx context.Context) error { panic("unexpected popup") },
	}, TaskConfig{Enabled: true, Priority: 1, IntervalHours: 1, MaxRetries: 5, RetryDelayMinutes: 60}, "")
	require.NoError(t, err)
	_, err = s.Register(&stubTask{name: "Steady"}, TaskConfig{Enabled: true, Priority: 5, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	// Chaos runs first, panics, is converted to a failure; the next tick
	// still runs Steady.
	require.True(t, s.tick(context.Background()))
	require.True(t, s.tick(context.Background()))

	stats, _ := s.TaskStatistics("steady")
	assert.Equal(t, 1, stats.SuccessfulExecutions)
	chaos, _ := s.TaskStatistics("chaos")
	assert.Equal(t, 1, chaos.FailedExecutions)
}

func TestStartStopIdempotent(t *testing.T) {
	s := newTestScheduler()
	ctx := context.Background()

	s.Start(ctx)
	assert.True(t, s.IsRunning())
	s.Start(ctx) // logged no-op

	s.Stop()
	assert.False(t, s.IsRunning())
	s.Stop() // no-op

	// Restartable after a clean stop.
	s.Start(ctx)
	assert.True(t, s.IsRunning())
	s.Stop()
}

func TestPollLoopExecutesDueTasks(t *testing.T) {
	s := newTestScheduler()
	done := make(chan struct{})
	var once sync.Once
	_, err := s.Register(&stubTask{
		name: "Tick Me",
		execute: func(ctx context.Context) error {
			once.Do(func() { close(done) })
			return nil
		},
	}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("poll loop never executed the due task")
	}
}

func TestUpcomingOrdersByNextExecution(t *testing.T) {
	s := newTestScheduler()
	soon, err := s.Register(&stubTask{name: "Soon"}, TaskConfig{Enabled: true, IntervalMinutes: 5, MaxRetries: 3}, "")
	require.NoError(t, err)
	later, err := s.Register(&stubTask{name: "Later"}, TaskConfig{Enabled: true, IntervalHours: 2, MaxRetries: 3}, "")
	require.NoError(t, err)
	overdue, err := s.Register(&stubTask{name: "Overdue"}, TaskConfig{Enabled: true, IntervalMinutes: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	now := time.Now()
	set := func(rt *Runtime, at time.Time) {
		rt.mu.Lock()
		rt.nextExecution = &at
		rt.mu.Unlock()
	}
	set(soon, now.Add(5*time.Minute))
	set(later, now.Add(2*time.Hour))
	set(overdue, now.Add(-time.Minute))

	upcoming := s.Upcoming(10)
	require.Len(t, upcoming, 3)
	assert.Equal(t, "Overdue", upcoming[0].Name)
	assert.Negative(t, upcoming[0].SecondsUntil)
	assert.Equal(t, "Soon", upcoming[1].Name)
	assert.Equal(t, "Later", upcoming[2].Name)

	top := s.Upcoming(1)
	require.Len(t, top, 1)
	assert.Equal(t, "Overdue", top[0].Name)
}

func TestObserversReceiveLifecycleEvents(t *testing.T) {
	s := newTestScheduler()
	obs := &recordingObserver{}
	s.Subscribe(obs)

	_, err := s.Register(&stubTask{name: "Watched"}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	require.True(t, s.tick(context.Background()))

	recs := obs.records()
	require.Len(t, recs, 1)
	assert.Equal(t, "Watched", recs[0].Task)
	assert.Equal(t, RunSucceeded, recs[0].Status)
	assert.Equal(t, 1, recs[0].Attempt)
	assert.NotEmpty(t, recs[0].ID)

	obs.mu.Lock()
	transitions := len(obs.transitions)
	obs.mu.Unlock()
	assert.Greater(t, transitions, 0)
}

func TestResetAllStatistics(t *testing.T) {
	s := newTestScheduler()
	_, err := s.Register(&stubTask{name: "Counted"}, TaskConfig{Enabled: true, IntervalHours: 1, MaxRetries: 3}, "")
	require.NoError(t, err)

	require.True(t, s.tick(context.Background()))
	require.Equal(t, 1, s.Status().TotalExecutions)

	s.ResetAllStatistics()
	assert.Equal(t, 0, s.Status().TotalExecutions)
	stats, _ := s.TaskStatistics("counted")
	assert.Equal(t, 0, stats.TotalExecutions)
}
