package config

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/dittocifs/internal/logger"
)

// Watch reloads path whenever it changes and hands each valid result to
// onChange. Invalid edits are logged and skipped. The directory is watched
// rather than the file so editors that replace the file are noticed.
// Watch blocks until ctx is cancelled.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	target, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve config path: %w", err)
	}
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			cfg, err := Load(target)
			if err != nil {
				logger.Warn("Ignoring invalid configuration change", logger.KeyPath, target, logger.KeyError, err)
				continue
			}
			logger.Debug("Configuration file changed", logger.KeyPath, target, "op", ev.Op.String())
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Config watcher error", logger.KeyError, err)
		}
	}
}

// ApplyRuntime applies the settings that can change without a restart.
// Only the log level qualifies today.
func ApplyRuntime(cfg *Config) {
	logger.SetLevel(cfg.Logging.Level)
	logger.Info("Configuration reloaded", "level", cfg.Logging.Level)
}
