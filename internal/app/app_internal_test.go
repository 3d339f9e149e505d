package app

import (
	"log/slog"
	"os"
	"testing"

	"github.com/MrWong99/mcpchat/internal/config"
)

func TestOnConfigChange_AppliesLogLevel(t *testing.T) {
	t.Parallel()
	var lv slog.LevelVar
	a := &App{log: slog.New(slog.DiscardHandler), level: &lv}

	old := &config.Config{}
	old.ApplyDefaults()
	updated := &config.Config{}
	updated.ApplyDefaults()
	updated.LogLevel = config.LogDebug

	a.onConfigChange(old, updated)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want DEBUG", lv.Level())
	}

	// Restart-only changes leave the level alone.
	again := &config.Config{}
	again.ApplyDefaults()
	again.LogLevel = config.LogDebug
	again.MCPServers.Set("users", config.ServerEntry{Command: "uvx"})
	a.onConfigChange(updated, again)
	if lv.Level() != slog.LevelDebug {
		t.Errorf("level = %s, want DEBUG", lv.Level())
	}
}

func TestWithConfigWatch_LoadsFile(t *testing.T) {
	t.Parallel()
	path := t.TempDir() + "/config.yaml"
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	a := &App{log: slog.New(slog.DiscardHandler), configPath: path}
	if err := a.initWatcher(); err != nil {
		t.Fatalf("initWatcher: %v", err)
	}
	defer a.watcher.Stop()
	if got := a.watcher.Current().LogLevel; got != config.LogWarn {
		t.Errorf("watched log_level = %q, want warn", got)
	}

	bad := &App{log: slog.New(slog.DiscardHandler), configPath: t.TempDir() + "/missing.yaml"}
	if err := bad.initWatcher(); err == nil {
		t.Error("expected error for missing config file")
	}
}
