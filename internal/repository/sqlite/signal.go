package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// touchSignal writes a monotonic revision (timestamp) to the signal file so
// watchers in other processes notice the commit. Creates parent dir if needed.
func touchSignal(signalPath string) error {
	dir := filepath.Dir(signalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create signal file dir: %w", err)
	}
	rev := strconv.FormatInt(time.Now().UnixNano(), 10)
	return os.WriteFile(signalPath, []byte(rev), 0644)
}

// watchSignal wakes every live query when the signal file changes. Our own
// touches wake them too; the sequence check drops those. If fsnotify cannot
// start, live queries still see in-process writes.
func (s *Store) watchSignal() {
	dir := filepath.Dir(s.signalPath)
	name := filepath.Base(s.signalPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.logger.Warn("change signal dir unavailable", zap.Error(err))
		return
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		s.logger.Warn("fsnotify init failed, cross-process changes will not be seen", zap.Error(err))
		return
	}
	if err := w.Add(dir); err != nil {
		s.logger.Warn("fsnotify add failed", zap.String("dir", dir), zap.Error(err))
		_ = w.Close()
		return
	}
	s.watcher = w
	s.watchWg.Add(1)
	go func() {
		defer s.watchWg.Done()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				s.wakeAll()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.logger.Debug("fsnotify error", zap.Error(err))
			}
		}
	}()
}
