package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"siegebot/internal/core"
	"siegebot/internal/device"
	"siegebot/internal/vision"
)

// defaultGamePackage is the Android package the tasks target unless a
// definition overrides it.
const defaultGamePackage = "com.siegegame.android"

func init() {
	Register("daily_login", func(deps Deps, decode DecodeFunc) (core.Task, error) {
		p := dailyLoginParams{
			Package:          defaultGamePackage,
			RewardTemplate:   "daily_reward_chest",
			ClaimedTemplate:  "daily_reward_claimed",
			MinConfidence:    0.85,
			LaunchWaitSecond: 25,
		}
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("daily_login params: %w", err)
		}
		return &DailyLogin{
			device: deps.Device,
			vision: deps.Vision,
			logger: deps.Logger.With("task", "daily_login"),
			params: p,
			sleep:  time.Sleep,
		}, nil
	})
}

type dailyLoginParams struct {
	Package          string  `toml:"package"`
	RewardTemplate   string  `toml:"reward_template"`
	ClaimedTemplate  string  `toml:"claimed_template"`
	MinConfidence    float64 `toml:"min_confidence"`
	LaunchWaitSecond int     `toml:"launch_wait_seconds"`
}

// DailyLogin launches the game if needed and claims the daily login reward.
// The claimed marker stays on screen for the rest of the day, which makes
// verification and the already-claimed prerequisite symmetric.
type DailyLogin struct {
	device device.Provider
	vision vision.Matcher
	logger *slog.Logger
	params dailyLoginParams
	sleep  func(time.Duration)
}

func (t *DailyLogin) Name() string { return "Daily Login" }

// CheckPrerequisites reports false once today's reward is already claimed.
// When the app is not running it returns true: launching is part of Execute.
func (t *DailyLogin) CheckPrerequisites(ctx context.Context) (bool, error) {
	running, err := t.device.IsAppRunning(t.params.Package)
	if err != nil {
		return false, fmt.Errorf("app state: %w", err)
	}
	if !running {
		return true, nil
	}
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	_, claimed := t.vision.Locate(frame, t.params.ClaimedTemplate, t.params.MinConfidence)
	return !claimed, nil
}

func (t *DailyLogin) Execute(ctx context.Context) error {
	running, err := t.device.IsAppRunning(t.params.Package)
	if err != nil {
		return fmt.Errorf("app state: %w", err)
	}
	if !running {
		t.logger.Info("launching game", "package", t.params.Package)
		if err := t.device.StartApp(t.params.Package); err != nil {
			return fmt.Errorf("start app: %w", err)
		}
		t.sleep(time.Duration(t.params.LaunchWaitSecond) * time.Second)
	}
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return fmt.Errorf("capture: %w", err)
	}
	m, ok := t.vision.Locate(frame, t.params.RewardTemplate, t.params.MinConfidence)
	if !ok {
		return fmt.Errorf("reward chest %q not visible", t.params.RewardTemplate)
	}
	if err := t.device.Tap(m.X, m.Y, true); err != nil {
		return fmt.Errorf("tap reward: %w", err)
	}
	return nil
}

func (t *DailyLogin) VerifyCompletion(ctx context.Context) (bool, error) {
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	_, claimed := t.vision.Locate(frame, t.params.ClaimedTemplate, t.params.MinConfidence)
	return claimed, nil
}
