/*
Package watcher observes an effect source file and signals when it was
modified.

File systems and editors deliver modification events in bursts: one save
may produce several write, chmod and rename events. The watcher collapses
such bursts with a restartable deadline. Every raw event arms the deadline
or resets it if it is already armed. When the deadline elapses without a
new event, a single notification is sent.
*/
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pipelined/livefx/log"
)

// DefaultWindow is the quiet period required before notification.
const DefaultWindow = 2 * time.Second

// NotifyFunc is called once per quiet period with the time of the latest
// modification in the burst.
type NotifyFunc func(modified time.Time)

// Watcher watches a single file.
type Watcher struct {
	path   string
	window time.Duration
	log    log.Logger

	m       sync.Mutex
	notify  NotifyFunc
	fs      *fsnotify.Watcher
	rawc    chan time.Time
	done    chan struct{}
	wg      sync.WaitGroup
	running bool
}

// Option configures the watcher.
type Option func(*Watcher)

// WithWindow sets the debounce window.
func WithWindow(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.window = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l log.Logger) Option {
	return func(w *Watcher) {
		w.log = l
	}
}

// New returns a stopped watcher for path.
func New(path string, options ...Option) *Watcher {
	w := &Watcher{
		path:   filepath.Clean(path),
		window: DefaultWindow,
		log:    log.GetLogger(),
	}
	for _, option := range options {
		option(w)
	}
	return w
}

// Path returns watched path.
func (w *Watcher) Path() string {
	return w.path
}

// Notify sets the function called after each quiet period.
func (w *Watcher) Notify(fn NotifyFunc) {
	w.m.Lock()
	defer w.m.Unlock()
	w.notify = fn
}

// Watching reports whether the watcher is launched.
func (w *Watcher) Watching() bool {
	w.m.Lock()
	defer w.m.Unlock()
	return w.running
}

// Launch starts observing the file. The parent directory is watched, so
// editors which replace the file on save are handled. Launching a running
// watcher is a no-op.
func (w *Watcher) Launch(ctx context.Context) error {
	w.m.Lock()
	defer w.m.Unlock()
	if w.running {
		return nil
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fs.Add(filepath.Dir(w.path)); err != nil {
		fs.Close()
		return fmt.Errorf("watch %v: %w", w.path, err)
	}
	w.fs = fs
	w.rawc = make(chan time.Time, 16)
	w.done = make(chan struct{})
	w.running = true

	w.wg.Add(2)
	go w.processEvents(ctx, fs, w.rawc, w.done)
	go w.debounceLoop(ctx, w.rawc, w.done)
	w.log.Debug(fmt.Sprintf("watching %v", w.path))
	return nil
}

// Stop unconditionally stops observation. A pending deadline is dropped.
// Stop must not be called from the notify function.
func (w *Watcher) Stop() {
	w.m.Lock()
	if !w.running {
		w.m.Unlock()
		return
	}
	w.running = false
	close(w.done)
	w.fs.Close()
	w.m.Unlock()
	w.wg.Wait()
	w.log.Debug(fmt.Sprintf("stopped watching %v", w.path))
}

// Touch feeds a raw modification event. It's ignored when the watcher is
// not running.
func (w *Watcher) Touch(modified time.Time) {
	w.m.Lock()
	if !w.running {
		w.m.Unlock()
		return
	}
	rawc, done := w.rawc, w.done
	w.m.Unlock()
	select {
	case rawc <- modified:
	case <-done:
	}
}

// processEvents converts fsnotify events of the watched file into raw events.
func (w *Watcher) processEvents(ctx context.Context, fs *fsnotify.Watcher, rawc chan<- time.Time, done <-chan struct{}) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case event, ok := <-fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path || event.Op == fsnotify.Chmod {
				continue
			}
			select {
			case rawc <- w.modified():
			case <-done:
				return
			}
		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			w.log.Warn(fmt.Sprintf("watch %v: %v", w.path, err))
		}
	}
}

// modified returns file modification time, which doesn't change when the
// file is only opened.
func (w *Watcher) modified() time.Time {
	info, err := os.Stat(w.path)
	if err != nil {
		return time.Now()
	}
	return info.ModTime()
}

// debounceLoop collapses raw events into one notification per quiet period.
func (w *Watcher) debounceLoop(ctx context.Context, rawc <-chan time.Time, done <-chan struct{}) {
	defer w.wg.Done()
	var (
		timer  *time.Timer
		timerC <-chan time.Time
		latest time.Time
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
	}
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case t := <-rawc:
			if t.After(latest) {
				latest = t
			}
			if timer == nil {
				timer = time.NewTimer(w.window)
				timerC = timer.C
			} else {
				timer.Reset(w.window)
			}
		case <-timerC:
			stop()
			w.m.Lock()
			notify := w.notify
			w.m.Unlock()
			if notify != nil {
				notify(latest)
			}
			latest = time.Time{}
		}
	}
}
