package rules

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/miradorstack/mirador-autoops/internal/utils"
)

// Watch reloads the pack at path whenever it changes and hands each valid pack to
// apply. Invalid packs are logged and skipped. The parent directory is watched so
// editors that replace the file are picked up. Watch blocks until ctx ends.
func Watch(ctx context.Context, path string, apply func(context.Context, *Pack) error, logger *slog.Logger) error {
	logger = utils.LoggerOrDefault(logger)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create rule pack watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}
	logger.Info("watching rule pack", slog.String("path", target))

	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rule pack watcher error", slog.Any("error", err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
				continue
			}
			pack, err := Load(target)
			if err != nil {
				logger.Warn("rule pack reload rejected", slog.String("path", target), slog.Any("error", err))
				continue
			}
			if err := apply(ctx, pack); err != nil {
				logger.Error("rule pack reload failed", slog.String("path", target), slog.Any("error", err))
			}
		}
	}
}
