// Package watcher notices when the memory artifact disappears from under a
// running process and asks the memory store to reload.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher watches the parent directory of a target file and calls onGone
// after the target is removed or renamed away. A target that reappears
// within the debounce window cancels the callback.
type Watcher struct {
	target   string
	parent   string
	onGone   func()
	debounce time.Duration

	fsw *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides the delay between the event and the callback.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// New creates a Watcher for target. onGone runs on its own goroutine.
func New(target string, onGone func(), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	target = filepath.Clean(target)
	w := &Watcher{
		target:   target,
		parent:   filepath.Dir(target),
		onGone:   onGone,
		debounce: defaultDebounce,
		fsw:      fsw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	if err := os.MkdirAll(w.parent, 0o755); err != nil {
		return err
	}
	if err := w.fsw.Add(w.parent); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	w.running = true
	go w.loop(ctx)

	log.Debug().Str("path", w.target).Msg("watching memory artifact")
	return nil
}

// Stop ends the watch and releases the inotify handle.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.fsw.Close()
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			stopTimer()
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				stopTimer()
				return
			}
			if filepath.Clean(ev.Name) != w.target {
				continue
			}

			switch {
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				log.Info().Str("path", w.target).Str("op", ev.Op.String()).Msg("memory artifact removed")
				stopTimer()
				timer = time.AfterFunc(w.debounce, w.fire)
			case ev.Has(fsnotify.Create) && timer != nil:
				if timer.Stop() {
					log.Info().Str("path", w.target).Msg("memory artifact restored, skipping reload")
				}
				timer = nil
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Str("path", w.parent).Msg("watcher error")
		}
	}
}

func (w *Watcher) fire() {
	log.Info().Str("path", w.target).Msg("reloading memory")
	if w.onGone != nil {
		w.onGone()
	}
}
