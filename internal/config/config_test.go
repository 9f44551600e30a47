package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7070", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.CheckInterval)
	assert.Equal(t, 50, cfg.RunKeep)
	assert.Equal(t, "adb", cfg.ADBPath)
	assert.NotEmpty(t, cfg.StateDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SIEGEBOT_ADDR", "0.0.0.0:9000")
	t.Setenv("SIEGEBOT_CHECK_INTERVAL", "2s")
	t.Setenv("SIEGEBOT_DRY_RUN", "true")
	t.Setenv("SIEGEBOT_STATE_DIR", "/tmp/siegebot-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)
	assert.Equal(t, 2*time.Second, cfg.CheckInterval)
	assert.True(t, cfg.DryRun)
	assert.Equal(t, "/tmp/siegebot-test", cfg.StateDir)
}

func writeTasksFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTasks(t *testing.T) {
	path := writeTasksFile(t, `
[[task]]
kind = "alliance_help"
interval_minutes = 30
priority = 2

[task.params]
max_taps = 5

[[task]]
id = "login"
kind = "daily_login"
enabled = false
interval_hours = 24
start_time = "08:00"
end_time = "22:00"
`)
	defs, md, err := LoadTasks(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	help := defs[0]
	assert.Equal(t, "alliance_help", help.ID, "id defaults to kind")
	assert.Equal(t, 2, help.Priority)
	assert.Equal(t, 3, help.MaxRetries, "defaults applied")
	assert.Equal(t, 10, help.RetryDelayMinutes)

	var params struct {
		MaxTaps int `toml:"max_taps"`
	}
	require.NoError(t, help.ParamsDecoder(md)(&params))
	assert.Equal(t, 5, params.MaxTaps)

	login := defs[1]
	cc := login.CoreConfig()
	assert.False(t, cc.Enabled)
	assert.Equal(t, 24, cc.IntervalHours)
	assert.Equal(t, "08:00", cc.StartTime)
	assert.Equal(t, 24*time.Hour, cc.Interval())

	assert.True(t, defs[0].CoreConfig().Enabled, "enabled defaults to true")
}

func TestLoadTasksRejectsDuplicateIDs(t *testing.T) {
	path := writeTasksFile(t, `
[[task]]
kind = "alliance_help"

[[task]]
kind = "alliance_help"
`)
	_, _, err := LoadTasks(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate task id")
}

func TestLoadTasksRequiresKind(t *testing.T) {
	path := writeTasksFile(t, `
[[task]]
id = "mystery"
`)
	_, _, err := LoadTasks(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kind is required")
}
