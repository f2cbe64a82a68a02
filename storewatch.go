package svchost

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"vawter.tech/stopper"
)

// StoreEvent reports the outcome of one store reload triggered by an
// external rewrite of the store file.
type StoreEvent struct {
	// Records is the number of records loaded on success
	Records int
	// Err is non-nil when the reload failed; the in-memory store is left
	// untouched in that case
	Err error
}

// StoreCleanupFunc stops a store watch and releases its resources
type StoreCleanupFunc func() error

// WatchStore watches the persister's file for external modification and
// reloads the store when it changes, emitting one StoreEvent per reload.
// Rapid successive writes are debounced.
func WatchStore(ctx context.Context, store *Store, persister *FilePersister, debounce time.Duration) (<-chan StoreEvent, StoreCleanupFunc, error) {
	if debounce <= 0 {
		debounce = DefaultStoreDebounce
	}

	// Watch the directory, not the file: atomic rewrites replace the inode
	dir := filepath.Dir(persister.Path)
	target := filepath.Base(persister.Path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, &OpError{Op: OpStatus, Service: persister.Path, Err: err}
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, nil, &OpError{Op: OpStatus, Service: persister.Path, Err: err}
	}

	ch := make(chan StoreEvent, 10)

	sctx := stopper.WithContext(ctx)
	sctx.Defer(func() {
		_ = watcher.Close()
		close(ch)
	})

	cleanup := func() error {
		sctx.Stop(100 * time.Millisecond)
		return sctx.Wait()
	}

	var mu sync.Mutex
	var debouncer *time.Timer

	reload := func() {
		if sctx.IsStopping() {
			return
		}
		records, err := persister.LoadAll()
		event := StoreEvent{Err: err}
		if err == nil {
			store.Replace(records)
			event.Records = len(records)
		}
		if !sctx.IsStopping() {
			select {
			case ch <- event:
			case <-sctx.Stopping():
			}
		}
	}

	sctx.Go(func(sctx *stopper.Context) error {
		sctx.Defer(func() {
			mu.Lock()
			if debouncer != nil {
				debouncer.Stop()
			}
			mu.Unlock()
		})

		for !sctx.IsStopping() {
			select {
			case <-sctx.Stopping():
				return nil

			case event, ok := <-watcher.Events:
				if !ok {
					return nil
				}
				if filepath.Base(event.Name) != target {
					continue
				}
				mu.Lock()
				if debouncer != nil {
					debouncer.Stop()
				}
				debouncer = time.AfterFunc(debounce, reload)
				mu.Unlock()

			case err, ok := <-watcher.Errors:
				if !ok {
					return nil
				}
				if err != nil && !sctx.IsStopping() {
					select {
					case ch <- StoreEvent{Err: err}:
					case <-sctx.Stopping():
						return nil
					}
				}
			}
		}
		return nil
	})

	return ch, cleanup, nil
}
