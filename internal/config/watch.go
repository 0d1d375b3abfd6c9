package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches path for writes and signals on the returned channel,
// debounced so rapid saves from an editor coalesce into one reload. Grounded
// on kadirpekel-hector's pkg/config/provider/file.go FileProvider.Watch,
// generalized from a config-only reload target to any single file (the
// project config or a workflow definition).
//
// The watcher is closed and the channel is closed when ctx is done.
func WatchFile(ctx context.Context, path string) (<-chan struct{}, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	dir := filepath.Dir(absPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch directory %s: %w", dir, err)
	}

	ch := make(chan struct{}, 1)
	go watchLoop(ctx, watcher, filepath.Base(absPath), ch)
	return ch, nil
}

func watchLoop(ctx context.Context, watcher *fsnotify.Watcher, fileName string, ch chan<- struct{}) {
	defer close(ch)
	defer watcher.Close()

	var debounce *time.Timer
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != fileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, func() {
				select {
				case ch <- struct{}{}:
				default:
				}
			})

		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
