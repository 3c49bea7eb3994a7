package discovery

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when the unit directory changes so a caller can rescan.
// Events are debounced: editors tend to emit several writes per save.
type Watcher struct {
	fsw      *fsnotify.Watcher
	ch       chan struct{}
	debounce time.Duration
}

// NewWatcher watches dir for unit-file changes. Close the returned watcher
// when done.
func NewWatcher(dir string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return &Watcher{fsw: fsw, ch: make(chan struct{}, 1), debounce: 250 * time.Millisecond}, nil
}

// Changes returns a channel that receives a token after unit files change.
// The channel carries at most one pending token; coalesced bursts deliver one.
func (w *Watcher) Changes() <-chan struct{} { return w.ch }

// Run pumps fsnotify events into the change channel until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	fire := func() {
		select {
		case w.ch <- struct{}{}:
		default:
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".toml") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, fire)
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) Close() error { return w.fsw.Close() }
