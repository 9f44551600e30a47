// Package config loads daemon settings from the environment and task
// definitions from a TOML file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime configuration options for the daemon.
// Every field maps to a SIEGEBOT_-prefixed environment variable; a .env file
// in the working directory is loaded first when present.
type Config struct {
	Addr      string `env:"ADDR" envDefault:"127.0.0.1:7070"`
	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	StateDir  string `env:"STATE_DIR"`
	TasksFile string `env:"TASKS_FILE" envDefault:"tasks.toml"`

	CheckInterval time.Duration `env:"CHECK_INTERVAL" envDefault:"10s"`
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"5s"`

	// RunKeep is how many runs per task the history store retains.
	RunKeep int `env:"RUN_KEEP" envDefault:"50"`

	ADBPath   string `env:"ADB_PATH" envDefault:"adb"`
	ADBSerial string `env:"ADB_SERIAL"`

	// DryRun replaces the real device and matcher with in-memory fakes, so
	// the engine can be exercised without an emulator attached.
	DryRun bool `env:"DRY_RUN"`

	BarkURL     string `env:"BARK_URL"`
	BarkEnabled bool   `env:"BARK_ENABLED"`
}

// Load reads configuration from .env (optional) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional

	cfg, err := env.ParseAsWithOptions[Config](env.Options{Prefix: "SIEGEBOT_"})
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.StateDir == "" {
		dir, err := defaultStateDir()
		if err != nil {
			return nil, fmt.Errorf("resolve default state dir: %w", err)
		}
		cfg.StateDir = dir
	}
	if cfg.RunKeep < 1 {
		cfg.RunKeep = 50
	}
	return &cfg, nil
}

func defaultStateDir() (string, error) {
	baseDir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(baseDir, "siegebot"), nil
}
