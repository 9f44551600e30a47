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
	Register("alliance_help", func(deps Deps, decode DecodeFunc) (core.Task, error) {
		p := allianceHelpParams{
			Package:       defaultGamePackage,
			HelpTemplate:  "alliance_help_icon",
			MinConfidence: 0.85,
			MaxTaps:       20,
		}
		if err := decode(&p); err != nil {
			return nil, fmt.Errorf("alliance_help params: %w", err)
		}
		return &AllianceHelp{
			device: deps.Device,
			vision: deps.Vision,
			logger: deps.Logger.With("task", "alliance_help"),
			params: p,
		}, nil
	})
}

type allianceHelpParams struct {
	Package       string  `toml:"package"`
	HelpTemplate  string  `toml:"help_template"`
	MinConfidence float64 `toml:"min_confidence"`
	MaxTaps       int     `toml:"max_taps"`
}

// AllianceHelp taps the alliance help-all button whenever help requests are
// pending. The button only renders when at least one request exists, so its
// visibility doubles as the prerequisite.
type AllianceHelp struct {
	device device.Provider
	vision vision.Matcher
	logger *slog.Logger
	params allianceHelpParams
}

func (t *AllianceHelp) Name() string { return "Alliance Help" }

func (t *AllianceHelp) CheckPrerequisites(ctx context.Context) (bool, error) {
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
	_, visible := t.vision.Locate(frame, t.params.HelpTemplate, t.params.MinConfidence)
	return visible, nil
}

func (t *AllianceHelp) Execute(ctx context.Context) error {
	for i := 0; i < t.params.MaxTaps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := t.device.CaptureFrame()
		if err != nil {
			return fmt.Errorf("capture: %w", err)
		}
		m, ok := t.vision.Locate(frame, t.params.HelpTemplate, t.params.MinConfidence)
		if !ok {
			t.logger.Debug("help button gone", "taps", i)
			return nil
		}
		if err := t.device.Tap(m.X, m.Y, true); err != nil {
			return fmt.Errorf("tap help: %w", err)
		}
	}
	return nil
}

func (t *AllianceHelp) VerifyCompletion(ctx context.Context) (bool, error) {
	frame, err := t.device.CaptureFrame()
	if err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	_, stillVisible := t.vision.Locate(frame, t.params.HelpTemplate, t.params.MinConfidence)
	return !stillVisible, nil
}
