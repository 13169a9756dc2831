package settings

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dshills/lspbridge/internal/debounce"
	"github.com/dshills/lspbridge/internal/lsp"
)

// DefaultWatchDebounce is the quiet period after the last file event before
// the store is reloaded.
const DefaultWatchDebounce = 100 * time.Millisecond

// WatchFunc receives the reloaded configs, or the error that stopped them
// from loading.
type WatchFunc func(configs []lsp.ServerConfig, err error)

// Watch reloads the store whenever its file changes and passes the result to
// fn. It watches the parent directory so editors that save by rename are
// seen, and blocks until ctx is done.
func (s *FileStore) Watch(ctx context.Context, debounceFor time.Duration, fn WatchFunc) error {
	if debounceFor <= 0 {
		debounceFor = DefaultWatchDebounce
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}

	reload := debounce.New(debounceFor, func() {
		if ctx.Err() != nil {
			return
		}
		configs, err := s.Load()
		if err != nil {
			s.log.Warn("reload failed: %v", err)
		} else {
			s.log.Debug("reloaded %d configs", len(configs))
		}
		fn(configs, err)
	})
	defer reload.Cancel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			reload.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error: %v", err)
		}
	}
}
