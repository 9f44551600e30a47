package device

import (
	"fmt"
	"sync"
	"time"
)

// Fake is an in-memory Provider for tests and dry runs. It serves a canned
// frame, records every input event, and can be flipped offline to exercise
// transport-failure paths.
type Fake struct {
	mu      sync.Mutex
	offline bool
	running map[string]bool
	Events  []string
}

// NewFake returns a connected fake device with no apps running.
func NewFake() *Fake {
	return &Fake{running: make(map[string]bool)}
}

// SetOffline makes every subsequent call fail with ErrNotConnected.
func (f *Fake) SetOffline(offline bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offline = offline
}

// SetAppRunning marks a package as running.
func (f *Fake) SetAppRunning(pkg string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running[pkg] = running
}

// EventLog returns a copy of the recorded input events.
func (f *Fake) EventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Events))
	copy(out, f.Events)
	return out
}

func (f *Fake) record(event string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return ErrNotConnected
	}
	f.Events = append(f.Events, event)
	return nil
}

func (f *Fake) CaptureFrame() (*Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return nil, ErrNotConnected
	}
	return &Frame{PNG: []byte("fake-png"), CapturedAt: time.Now()}, nil
}

func (f *Fake) Tap(x, y int, humanize bool) error {
	return f.record(fmt.Sprintf("tap %d,%d", x, y))
}

func (f *Fake) Swipe(x1, y1, x2, y2 int, duration time.Duration) error {
	return f.record(fmt.Sprintf("swipe %d,%d -> %d,%d", x1, y1, x2, y2))
}

func (f *Fake) LongPress(x, y int, duration time.Duration) error {
	return f.record(fmt.Sprintf("longpress %d,%d", x, y))
}

func (f *Fake) PressBack() error {
	return f.record("back")
}

func (f *Fake) InputText(text string) error {
	return f.record("text " + text)
}

func (f *Fake) IsAppRunning(pkg string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return false, ErrNotConnected
	}
	return f.running[pkg], nil
}

func (f *Fake) StartApp(pkg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline {
		return ErrNotConnected
	}
	f.running[pkg] = true
	f.Events = append(f.Events, "start "+pkg)
	return nil
}
