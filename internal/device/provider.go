// Package device abstracts the emulator input/display transport. Tasks
// consume the Provider interface; the concrete implementation talks to an
// Android emulator over adb.
package device

import (
	"errors"
	"time"
)

// ErrNotConnected indicates the emulator transport is down. Tasks surface it
// as an ordinary execution failure so the normal retry/disable policy
// applies; nothing upstream special-cases transport errors.
var ErrNotConnected = errors.New("device not connected")

// Frame is one captured screenshot, PNG-encoded as adb screencap emits it.
type Frame struct {
	PNG        []byte
	CapturedAt time.Time
}

// Provider supplies the screen-capture and input primitives every task
// shares. All calls are synchronous and potentially slow; they block the
// calling worker for their full duration and cannot be safely cancelled
// once the input event is in flight.
type Provider interface {
	CaptureFrame() (*Frame, error)

	// Tap presses at (x, y). With humanize set the point is jittered a few
	// pixels so repeated taps do not land on the identical coordinate.
	Tap(x, y int, humanize bool) error

	Swipe(x1, y1, x2, y2 int, duration time.Duration) error
	LongPress(x, y int, duration time.Duration) error
	PressBack() error
	InputText(text string) error

	IsAppRunning(pkg string) (bool, error)
	StartApp(pkg string) error
}
