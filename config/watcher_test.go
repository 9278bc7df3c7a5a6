package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "security:\n  block_threshold: 70\n")

	loaded := make(chan *Config, 1)
	w, err := NewWatcher(path, slog.Default(), func(cfg *Config) {
		select {
		case loaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	writeConfigFile(t, path, "security:\n  block_threshold: 90\n")

	select {
	case cfg := <-loaded:
		assert.Equal(t, 90.0, cfg.Security.BlockThreshold)
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed")
	}
}

func TestWatcherKeepsPreviousOnInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "security:\n  block_threshold: 70\n")

	loaded := make(chan *Config, 4)
	w, err := NewWatcher(path, slog.Default(), func(cfg *Config) {
		loaded <- cfg
	})
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)

	// unparseable YAML must never reach onLoad
	writeConfigFile(t, path, "security: [broken\n")

	select {
	case cfg := <-loaded:
		t.Fatalf("invalid config delivered: %+v", cfg)
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestWatcherCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "security:\n  block_threshold: 70\n")

	w, err := NewWatcher(path, slog.Default(), nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}

func TestWatcherMissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "absent.yaml"), slog.Default(), nil)
	assert.Error(t, err)
}
