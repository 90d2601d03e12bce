package store

import (
	"context"
	"fmt"
	"os"

	"github.com/fsnotify/fsnotify"
)

// WaitForUnlock blocks until lockPath no longer exists or ctx is
// cancelled. push/finish return FileLocked immediately rather than
// waiting, but callers that want a courteous retry-with-backoff can
// use it instead of polling; it is driven by fsnotify, the same
// file-watch primitive the config package uses for hot reload.
func WaitForUnlock(ctx context.Context, lockPath string) error {
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("fsstore: new watcher: %w", err)
	}
	defer watcher.Close()

	dir := parentDir(lockPath)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("fsstore: watch %s: %w", dir, err)
	}

	// the lock may have been released between the Stat above and Add
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsstore: watcher closed")
			}
			if ev.Name == lockPath && (ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0) {
				return nil
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsstore: watcher closed")
			}
			return fmt.Errorf("fsstore: watch error: %w", werr)
		}
	}
}

func parentDir(path string) string {
	i := len(path) - 1
	for i >= 0 && path[i] != '/' {
		i--
	}
	if i <= 0 {
		return "."
	}
	return path[:i]
}
