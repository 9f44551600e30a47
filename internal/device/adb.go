package device

import (
	"bytes"
	"fmt"
	"log/slog"
	"math/rand"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

const defaultCommandTimeout = 30 * time.Second

// ADB drives an Android emulator through the adb binary. One instance maps
// to one device serial; calls are serialized with a mutex because adb input
// events interleave badly when issued concurrently to the same device.
type ADB struct {
	path   string
	serial string
	logger *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// NewADB creates a provider for the given device serial. An empty path
// falls back to "adb" on PATH; an empty serial targets the only attached
// device.
func NewADB(path, serial string, logger *slog.Logger) *ADB {
	if path == "" {
		path = "adb"
	}
	return &ADB{
		path:   path,
		serial: serial,
		logger: logger.With("component", "adb", "serial", serial),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (a *ADB) args(rest ...string) []string {
	if a.serial == "" {
		return rest
	}
	return append([]string{"-s", a.serial}, rest...)
}

func (a *ADB) run(rest ...string) ([]byte, error) {
	cmd := exec.Command(a.path, a.args(rest...)...) // #nosec G204
	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	timer := time.AfterFunc(defaultCommandTimeout, func() {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	})
	defer timer.Stop()

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if strings.Contains(msg, "device offline") || strings.Contains(msg, "no devices") ||
			strings.Contains(msg, "device not found") {
			return nil, fmt.Errorf("%w: %s", ErrNotConnected, msg)
		}
		return nil, fmt.Errorf("adb %s: %v: %s", strings.Join(rest, " "), err, msg)
	}
	return out.Bytes(), nil
}

// Connected reports whether the device answers at all.
func (a *ADB) Connected() bool {
	out, err := a.run("get-state")
	return err == nil && strings.TrimSpace(string(out)) == "device"
}

func (a *ADB) CaptureFrame() (*Frame, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, err := a.run("exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("capture frame: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("capture frame: empty screencap output")
	}
	return &Frame{PNG: out, CapturedAt: time.Now()}, nil
}

func (a *ADB) Tap(x, y int, humanize bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if humanize {
		x, y = a.jitter(x, y)
	}
	a.logger.Debug("tap", "x", x, "y", y)
	_, err := a.run("shell", "input", "tap", strconv.Itoa(x), strconv.Itoa(y))
	if err != nil {
		return fmt.Errorf("tap: %w", err)
	}
	return nil
}

func (a *ADB) Swipe(x1, y1, x2, y2 int, duration time.Duration) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	ms := int(duration / time.Millisecond)
	if ms <= 0 {
		ms = 300
	}
	a.logger.Debug("swipe", "from_x", x1, "from_y", y1, "to_x", x2, "to_y", y2, "ms", ms)
	_, err := a.run("shell", "input", "swipe",
		strconv.Itoa(x1), strconv.Itoa(y1), strconv.Itoa(x2), strconv.Itoa(y2), strconv.Itoa(ms))
	if err != nil {
		return fmt.Errorf("swipe: %w", err)
	}
	return nil
}

func (a *ADB) LongPress(x, y int, duration time.Duration) error {
	// adb has no long-press primitive; a zero-distance swipe with a
	// duration behaves the same.
	return a.Swipe(x, y, x, y, duration)
}

func (a *ADB) PressBack() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.run("shell", "input", "keyevent", "KEYCODE_BACK")
	if err != nil {
		return fmt.Errorf("press back: %w", err)
	}
	return nil
}

func (a *ADB) InputText(text string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	escaped := strings.ReplaceAll(text, " ", "%s")
	_, err := a.run("shell", "input", "text", escaped)
	if err != nil {
		return fmt.Errorf("input text: %w", err)
	}
	return nil
}

func (a *ADB) IsAppRunning(pkg string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out, err := a.run("shell", "pidof", pkg)
	if err != nil {
		if strings.Contains(err.Error(), "exit status 1") {
			return false, nil
		}
		return false, fmt.Errorf("is app running: %w", err)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (a *ADB) StartApp(pkg string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.run("shell", "monkey", "-p", pkg, "-c", "android.intent.category.LAUNCHER", "1")
	if err != nil {
		return fmt.Errorf("start app: %w", err)
	}
	return nil
}

// jitter offsets a tap point by up to ±3px on each axis.
func (a *ADB) jitter(x, y int) (int, int) {
	return x + a.rng.Intn(7) - 3, y + a.rng.Intn(7) - 3
}
