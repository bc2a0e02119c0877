package store

import (
	"context"
	"fmt"
	"time"

	"hawkeye-pipeline/pkg/utils"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch repairs the index whenever documents appear in the data directory,
// for example when another host copies archives in. Bursts of events are
// coalesced into one Repair once the directory has been quiet for the
// debounce interval. Watch blocks until ctx is done.
func (s *ArchiveStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := s.files.EnsureOutputDirExists(); err != nil {
		return err
	}
	if err := watcher.Add(s.files.DataDir()); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.files.DataDir(), err)
	}
	s.logger.Info("watching archive data", zap.String("dir", s.files.DataDir()))

	ticker := time.NewTicker(max(s.debounce/4, time.Millisecond))
	defer ticker.Stop()
	var pending time.Time

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !utils.IsDataFile(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			s.logger.Debug("archive data changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
			pending = time.Now().Add(s.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("archive watcher error", zap.Error(err))

		case now := <-ticker.C:
			if pending.IsZero() || now.Before(pending) {
				continue
			}
			pending = time.Time{}
			if _, err := s.Repair(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("archive repair failed", zap.Error(err))
			}
		}
	}
}
