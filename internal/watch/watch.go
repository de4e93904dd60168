// Package watch implements the filesystem watcher behind `serve
// --watch`: it notices changes to model and schema files and invokes a
// debounced callback so the caller can re-plan and re-run.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher watches a directory tree for *.sql, schema*.yml, sources.yml
// and profiles.yml changes, debouncing rapid successive saves into a single
// callback invocation.
type Watcher struct {
	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	log      *zap.Logger
	debounce time.Duration
	onChange func(paths []string)

	pending map[string]struct{}
	timer   *time.Timer

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Watcher rooted at dir. onChange is invoked, at most once
// per debounce window, with the set of changed paths that triggered it.
func New(dir string, debounce time.Duration, log *zap.Logger, onChange func(paths []string)) (*Watcher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsw:      fsw,
		log:      log,
		debounce: debounce,
		onChange: onChange,
		pending:  make(map[string]struct{}),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	if err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	}); err != nil {
		fsw.Close()
		return nil, err
	}

	return w, nil
}

// Start begins the watch loop in a background goroutine. It returns
// immediately; call Stop (or cancel ctx) to end it.
func (w *Watcher) Start(ctx context.Context) {
	go w.run(ctx)
}

// Stop ends the watch loop and waits for it to exit.
func (w *Watcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.fsw.Close()
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isRelevant(event.Name) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.pending[event.Name] = struct{}{}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	paths := make([]string, 0, len(w.pending))
	for p := range w.pending {
		paths = append(paths, p)
	}
	w.pending = make(map[string]struct{})
	w.mu.Unlock()

	if len(paths) > 0 && w.onChange != nil {
		w.onChange(paths)
	}
}

// isRelevant reports whether a changed path is one the orchestrator
// cares about: model files and schema/source metadata.
func isRelevant(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(path, ".sql") ||
		strings.HasPrefix(base, "schema") && strings.HasSuffix(base, ".yml") ||
		base == "sources.yml" ||
		base == "profiles.yml"
}
