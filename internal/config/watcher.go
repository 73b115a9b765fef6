package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/1mcp-app/agent/internal/errs"
	"github.com/1mcp-app/agent/internal/log"
)

// DefaultDebounce is the at-most-one-reload-per-window debounce period
// spec.md §4.2 specifies for the Config Watcher.
const DefaultDebounce = 300 * time.Millisecond

// Watcher watches a config file (and its .1mcprc sibling) for writes
// and emits a debounced reload signal on Changes. The shape mirrors a
// fsnotify watch loop with a single pending-fire timer, coalescing a
// burst of writes (editors often truncate-then-write) into one event.
type Watcher struct {
	path      string
	overlay   string
	debounce  time.Duration
	fsw       *fsnotify.Watcher
	changes   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher starts watching path's directory for changes to path and
// its .1mcprc overlay. Watching the directory rather than the file
// itself survives editors that replace the file via rename instead of
// in-place write.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errs.New(errs.InternalErr, "config.NewWatcher", err)
	}
	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, errs.New(errs.InvalidConfig, "config.NewWatcher", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		overlay:  filepath.Join(dir, ".1mcprc"),
		debounce: DefaultDebounce,
		fsw:      fsw,
		changes:  make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Changes returns a channel that receives one value per debounced
// reload window. The channel is never closed, not even by Close;
// consumers stop on their own context.
func (w *Watcher) Changes() <-chan struct{} { return w.changes }

// Close stops the underlying fsnotify watcher and the debounce loop.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev.Name) {
				continue
			}
			resetTimer()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Logf("config watcher error: %v", err)

		case <-timerC:
			timerC = nil
			select {
			case w.changes <- struct{}{}:
			default:
				// A reload is already pending consumption; the debounce
				// window already coalesced this burst into that signal.
			}
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	clean := filepath.Clean(name)
	return clean == w.path || clean == w.overlay
}

// WaitForChange blocks until either a debounced change fires or ctx is
// done, returning ctx.Err() in the latter case. Used by tests; the
// reload service's Run reads Changes() directly.
func WaitForChange(ctx context.Context, w *Watcher) error {
	select {
	case <-w.Changes():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
