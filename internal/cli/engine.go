package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"siegebot/internal/config"
	"siegebot/internal/core"
	"siegebot/internal/device"
	"siegebot/internal/metrics"
	"siegebot/internal/notify"
	"siegebot/internal/store"
	"siegebot/internal/tasks"
	"siegebot/internal/vision"
)

// engine bundles everything a running daemon needs.
type engine struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *store.Store
	scheduler *core.Scheduler
}

// buildEngine assembles the store, device, vision, tasks and scheduler from
// configuration. The scheduler is not started yet.
func buildEngine(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine, error) {
	st, err := store.Open(ctx, cfg.StateDir, cfg.RunKeep)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var provider device.Provider
	if cfg.DryRun {
		logger.Warn("dry-run mode: using an in-memory fake device")
		provider = device.NewFake()
	} else {
		provider = device.NewADB(cfg.ADBPath, cfg.ADBSerial, logger)
	}

	// Template matching backends plug in here; the scripted matcher finds
	// nothing until templates are loaded into it.
	matcher := vision.NewScripted()

	scheduler := core.NewScheduler(logger,
		core.WithCheckInterval(cfg.CheckInterval),
		core.WithStopTimeout(cfg.ShutdownGrace),
	)
	scheduler.Subscribe(store.NewRecorder(st, logger))
	scheduler.Subscribe(metrics.NewRecorder(metrics.New(prometheus.DefaultRegisterer)))
	metrics.RegisterUptime(prometheus.DefaultRegisterer, func() float64 {
		return float64(scheduler.Status().UptimeSeconds)
	})

	if cfg.BarkEnabled {
		bark, err := notify.NewBarkNotifier(cfg.BarkURL)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("configure bark: %w", err)
		}
		scheduler.Subscribe(notify.NewAlerter(bark, logger))
	}

	defs, md, err := config.LoadTasks(cfg.TasksFile)
	if err != nil {
		st.Close()
		return nil, err
	}
	deps := tasks.Deps{Device: provider, Vision: matcher, Logger: logger}
	for _, def := range defs {
		task, err := tasks.Build(def.Kind, deps, def.ParamsDecoder(md))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("task %s: %w", def.ID, err)
		}
		if _, err := scheduler.Register(task, def.CoreConfig(), def.ID); err != nil {
			st.Close()
			return nil, fmt.Errorf("register %s: %w", def.ID, err)
		}
	}
	logger.Info("engine assembled", "tasks", len(defs), "dry_run", cfg.DryRun)

	return &engine{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: scheduler,
	}, nil
}

func (e *engine) Close() {
	e.scheduler.Stop()
	if err := e.store.Close(); err != nil {
		e.logger.Error("close store", "err", err)
	}
}
