// Package watch re-runs compilations when one of their dependencies changes.
//
// The watched set is the dependency list a compilation registered with its
// host. fsnotify watches the parent directories of those files, so editors
// that replace a file through a rename are still picked up.
package watch

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet period used when Config.Debounce is unset.
const DefaultDebounce = 200 * time.Millisecond

var defaultIgnores = []string{
	"**/.git/**",
	"**/*.swp",
	"**/*.swo",
	"**/*~",
	"**/.DS_Store",
}

// Config holds the parameters for a Watcher.
type Config struct {
	// Ignore are doublestar patterns for files that never trigger a rebuild.
	// They are merged with the built-in ignores.
	Ignore []string
	// Debounce coalesces bursts of events into one callback.
	Debounce time.Duration
	// OnChange receives the sorted absolute paths that changed.
	OnChange func(ctx context.Context, changed []string) error
}

// Watcher fires OnChange when a file of the current dependency set changes.
type Watcher struct {
	cfg      Config
	fsw      *fsnotify.Watcher
	ignores  []string
	debounce time.Duration
	started  atomic.Bool

	mu    sync.Mutex
	files map[string]struct{}
	dirs  map[string]struct{}
}

// New creates a Watcher with an empty dependency set.
func New(cfg Config) (*Watcher, error) {
	for _, pat := range cfg.Ignore {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("watch: invalid ignore pattern %q", pat)
		}
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		ignores:  append(slices.Clone(defaultIgnores), cfg.Ignore...),
		debounce: debounce,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
	}, nil
}

// SetFiles replaces the watched dependency set. Directories no longer
// needed are dropped from the underlying watcher.
func (w *Watcher) SetFiles(paths []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make(map[string]struct{}, len(paths))
	dirs := make(map[string]struct{})
	for _, p := range paths {
		p = filepath.Clean(p)
		if w.isIgnored(p) {
			continue
		}
		files[p] = struct{}{}
		dirs[filepath.Dir(p)] = struct{}{}
	}

	for dir := range dirs {
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			return fmt.Errorf("watch: add directory %q: %w", dir, err)
		}
	}
	for dir := range w.dirs {
		if _, ok := dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Remove(dir); err != nil {
			log.Debug().Err(err).Str("dir", dir).Msg("Failed to stop watching directory")
		}
	}

	w.files = files
	w.dirs = dirs

	log.Debug().Int("files", len(files)).Int("dirs", len(dirs)).Msg("Watch set updated")
	return nil
}

// Files returns the watched dependency set, sorted.
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return slices.Sorted(maps.Keys(w.files))
}

// Run processes events until ctx is cancelled. It must be called once.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	fire := func() {
		if ctx.Err() != nil {
			return
		}
		// A rebuild still in progress picks the changes up on the next tick
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			timer.Reset(w.debounce)
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				log.Error().Err(err).Strs("changed", changed).Msg("Rebuild failed")
			}
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		if err := w.fsw.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close file watcher")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: event channel closed")
			}
			if !w.relevant(evt) {
				continue
			}

			mu.Lock()
			pending[filepath.Clean(evt.Name)] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: error channel closed")
			}
			log.Warn().Err(err).Msg("File watcher error")
		}
	}
}

// relevant reports whether evt touches a watched file with a content change.
func (w *Watcher) relevant(evt fsnotify.Event) bool {
	if evt.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(evt.Name)

	w.mu.Lock()
	_, ok := w.files[name]
	w.mu.Unlock()

	return ok && !w.isIgnored(name)
}

func (w *Watcher) isIgnored(path string) bool {
	normalized := filepath.ToSlash(path)
	for _, pat := range w.ignores {
		if matched, err := doublestar.Match(pat, normalized); err == nil && matched {
			return true
		}
	}
	return false
}
