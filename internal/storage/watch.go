package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes other processes make to a file medium's directory.
// Stop must be called to release filesystem resources.
type Watcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *Watcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// WatchDebounce groups bursts of filesystem events into one callback.
const WatchDebounce = 25 * time.Millisecond

// Watch invokes onChange with the sorted medium keys whose files were changed
// by someone other than medium itself. Writes made through medium are filtered
// out by content digest. The medium must sit on the OS filesystem.
func Watch(ctx context.Context, medium *FileMedium, onChange func(keys []string), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("storage: watch requires a change callback")
	}
	if medium == nil {
		return nil, fmt.Errorf("storage: watch requires a file medium")
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("storage: watch: %w", err)
	}
	if err := watcher.Add(medium.Dir()); err != nil {
		_ = watcher.Close()
		cancel()
		return nil, fmt.Errorf("storage: watch add %s: %w", medium.Dir(), err)
	}

	done := make(chan struct{})
	w := &Watcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("storage: watch close: %w", err))
			}
		}()

		pending := map[string]struct{}{}
		var timer *time.Timer
		var fire <-chan time.Time
		schedule := func() {
			if timer == nil {
				timer = time.NewTimer(WatchDebounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(WatchDebounce)
			}
			fire = timer.C
		}
		defer func() {
			if timer != nil {
				timer.Stop()
			}
		}()

		flush := func() {
			fire = nil
			keys := make([]string, 0, len(pending))
			for key := range pending {
				if medium.Foreign(key) {
					keys = append(keys, key)
				}
			}
			pending = map[string]struct{}{}
			if len(keys) == 0 {
				return
			}
			sort.Strings(keys)
			onChange(keys)
		}

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-fire:
				flush()
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				key, ok := medium.KeyForPath(event.Name)
				if !ok {
					continue
				}
				pending[key] = struct{}{}
				schedule()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if onError != nil {
					onError(fmt.Errorf("storage: watch error: %w", err))
				}
			}
		}
	}()

	return w, nil
}
