package tasks

import (
	"context"
	"fmt"
	"log/slog"

	"siegebot/internal/core"
	"siegebot/internal/device"
	"siegebot/internal/vision"
)

func init() {
	Register("shield_monitor", func(deps Deps, decode DecodeFunc) (core.Task, error) {
		p := shieldMonitorParams{
			Package:        defaultGamePackage,
			ActiveTemplate: "shield_active_icon",
			ItemsButton:    "items_menu_button",
			ShieldItem:     "shield_8h_item",
			UseButton:      "item_use_button",
			MinConfidence:  0.85,
		}
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("shield_monitor params: %w", err)
		}
		return &ShieldMonitor{
			device: deps.Device,
			vision: deps.Vision,
			logger: deps.Logger.With("task", "shield_monitor"),
			params: p,
		}, nil
	})
}

type shieldMonitorParams struct {
	Package        string  `toml:"package"`
	ActiveTemplate string  `toml:"active_template"`
	ItemsButton    string  `toml:"items_button"`
	ShieldItem     string  `toml:"shield_item"`
	UseButton      string  `toml:"use_button"`
	MinConfidence  float64 `toml:"min_confidence"`
}

// ShieldMonitor reapplies a city shield when the active-shield indicator
// disappears from the base view. It runs on a short interval with high
// priority; the prerequisite keeps the common shielded case free.
type ShieldMonitor struct {
	device device.Provider
	vision vision.Matcher
	logger *slog.Logger
	params shieldMonitorParams
}

func (t *ShieldMonitor) Name() string { return "Shield Monitor" }

// CheckPrerequisites reports true only when the shield is down.
func (t *ShieldMonitor) CheckPrerequisites(ctx context.Context) (bool, error) {
	running, err := t.device.IsAppRunning(t.params.Package)
	if err != nil {
		return false, fmt.Errorf("app state: %w", err)
	}
	if !running {
		return false, nil
	}
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	_, active := t.vision.Locate(frame, t.params.ActiveTemplate, t.params.MinConfidence)
	if !active {
		t.logger.Warn("shield is down")
	}
	return !active, nil
}

func (t *ShieldMonitor) Execute(ctx context.Context) error {
	steps := []string{t.params.ItemsButton, t.params.ShieldItem, t.params.UseButton}
	for _, template := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := t.device.CaptureFrame()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		m, ok := t.vision.Locate(frame, template, t.params.MinConfidence)
		if !ok {
			return fmt.Errorf("element %q not visible", template)
		}
		if err := t.device.Tap(m.X, m.Y, true); err != nil {
			return fmt.Errorf("tap %s: %w", template, err)
		}
	}
	// Leave the items menu so the next capture sees the base view again.
	if err := t.device.PressBack(); err != nil {
		return fmt.Errorf("close items menu: %w", err)
	}
	return nil
}

func (t *ShieldMonitor) VerifyCompletion(ctx context.Context) (bool, error) {
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	_, active := t.vision.Locate(frame, t.params.ActiveTemplate, t.params.MinConfidence)
	return active, nil
}
