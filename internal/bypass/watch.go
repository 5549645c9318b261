package bypass

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/okanewa/stagehand/internal/eventlog"
)

// watchDebounce coalesces bursts of appends into one re-analysis.
const watchDebounce = 500 * time.Millisecond

// Watch follows the execution log and re-runs the analyzer whenever it
// grows, delivering each result set to fn. It blocks until ctx is done.
// The log's directory is watched rather than the file itself so
// rotation (rename + recreate) keeps working.
func Watch(ctx context.Context, logPath string, analyzer *Analyzer, patterns []Pattern, logger *zap.Logger, fn func([]Finding)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create log watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(logPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch log directory %s: %w", dir, err)
	}

	analyze := func() {
		entries, err := eventlog.Read(logPath)
		if err != nil {
			logger.Warn("reading execution log failed", zap.Error(err))
			return
		}
		fn(analyzer.Analyze(entries, patterns))
	}

	// Initial pass covers everything already on disk.
	analyze()

	var timer *time.Timer
	pending := make(chan struct{}, 1)
	schedule := func() {
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			select {
			case pending <- struct{}{}:
			default:
			}
		})
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pending:
			analyze()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Name != logPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				schedule()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("log watcher error", zap.Error(err))
		}
	}
}
