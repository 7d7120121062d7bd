package knowledge

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/abitur/internal/observability"
	"github.com/rs/zerolog/log"
)

// Watcher reloads a Store when its document changes on disk.
type Watcher struct {
	store              *Store
	watcher            *fsnotify.Watcher
	stabilityThreshold time.Duration
	onReload           func(error)

	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// WatcherConfig holds configuration for the watcher
type WatcherConfig struct {
	StabilityThreshold time.Duration
	// OnReload is called after every reload attempt with its result.
	OnReload func(error)
}

// NewWatcher creates a watcher for store's document.
func NewWatcher(store *Store, cfg WatcherConfig) (*Watcher, error) {
	if store.Path() == "" {
		return nil, fmt.Errorf("knowledge store has no path to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	if cfg.StabilityThreshold == 0 {
		cfg.StabilityThreshold = 200 * time.Millisecond
	}

	return &Watcher{
		store:              store,
		watcher:            watcher,
		stabilityThreshold: cfg.StabilityThreshold,
		onReload:           cfg.OnReload,
		done:               make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched so that editors
// which replace the file by rename are still picked up.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.store.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	go w.eventLoop()

	log.Info().
		Str("path", w.store.Path()).
		Msg("Knowledge watcher started")
	return nil
}

// Stop stops the watcher and cancels a pending reload.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.mu.Unlock()

	if err := w.watcher.Close(); err != nil {
		return fmt.Errorf("failed to close watcher: %w", err)
	}

	log.Info().Msg("Knowledge watcher stopped")
	return nil
}

func (w *Watcher) eventLoop() {
	target := filepath.Clean(w.store.Path())
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			w.debounce()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Knowledge watcher error")

		case <-w.done:
			return
		}
	}
}

// debounce collapses bursts of writes into a single reload.
func (w *Watcher) debounce() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.stabilityThreshold, func() {
		select {
		case <-w.done:
			return
		default:
		}
		w.reload()
	})
}

func (w *Watcher) reload() {
	err := w.store.Reload()
	observability.RecordKnowledgeReload(err == nil)
	if err != nil {
		log.Error().
			Err(err).
			Str("path", w.store.Path()).
			Msg("Failed to reload knowledge document, keeping previous version")
	} else {
		log.Info().
			Str("path", w.store.Path()).
			Int("chars", len([]rune(w.store.Text()))).
			Msg("Knowledge document reloaded")
	}

	if w.onReload != nil {
		w.onReload(err)
	}
}
