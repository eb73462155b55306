// Package watch triggers store consolidation when the pack directories of an
// objects database change on disk.
//
// Events are debounced so that a fetch writing several pack files at once
// causes a single rescan.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/parr0tr1ver/gitoxide/internal/alternate"
	"github.com/parr0tr1ver/gitoxide/internal/pack"
	"github.com/parr0tr1ver/gitoxide/internal/store"
)

// DefaultDebounce is the quiet period used when Config.Debounce is not positive.
const DefaultDebounce = 250 * time.Millisecond

// Subdirectories of an objects directory that hold files consolidation reads.
var (
	packDirName = "pack"
	infoDirName = filepath.Dir(alternate.FileName)
)

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Debounce is the quiet period after the last relevant event before
		// the store is refreshed.
		Debounce time.Duration

		// OnRefresh is called with every non-nil outcome of a refresh. A nil
		// callback is a no-op.
		OnRefresh func(ctx context.Context, out *store.Outcome)

		Logger *zap.Logger
	}

	// Watcher refreshes a Store whenever an index file, a multi-pack-index or
	// the alternates file of a watched objects directory changes. Run must be
	// called exactly once.
	Watcher struct {
		store    *store.Store
		cfg      Config
		fsw      *fsnotify.Watcher
		logger   *zap.Logger
		debounce time.Duration
		started  atomic.Bool

		// mu guards watched and serialises refreshes.
		mu      sync.Mutex
		watched map[string]bool
	}
)

// New creates a Watcher for s. The store is refreshed once so that the
// directories of all alternates are known and watched from the start.
func New(s *store.Store, cfg Config) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create fsnotify watcher")
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Watcher{
		store:    s,
		cfg:      cfg,
		fsw:      fsw,
		logger:   logger,
		debounce: debounce,
		watched:  make(map[string]bool),
	}
	if _, err := s.Refresh(s.Marker(), store.RefreshNever); err != nil {
		fsw.Close() //nolint:errcheck
		return nil, err
	}
	if err := w.watchDirectories(s.Snapshot()); err != nil {
		fsw.Close() //nolint:errcheck
		return nil, err
	}
	return w, nil
}

// Watched returns the directories currently registered with fsnotify.
func (w *Watcher) Watched() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.watched))
	for dir := range w.watched {
		out = append(out, dir)
	}
	return out
}

// Run blocks until ctx is cancelled, refreshing the store after every burst
// of relevant filesystem events. It returns nil on cancellation and an error
// if the underlying watcher breaks.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		timer   *time.Timer
		pending bool
		running atomic.Bool

		// stopMu is held for reading while a refresh runs so that Run does
		// not return before it finished.
		stopMu  sync.RWMutex
		stopped bool
	)

	fire := func() {
		stopMu.RLock()
		defer stopMu.RUnlock()
		if stopped || ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if !pending {
			mu.Unlock()
			return
		}
		pending = false
		mu.Unlock()

		if err := w.refresh(ctx); err != nil {
			w.logger.Warn("refresh after change failed", zap.String("path", w.store.Path()), zap.Error(err))
		}
	}

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
		stopMu.Lock()
		stopped = true
		stopMu.Unlock()
		if err := w.fsw.Close(); err != nil {
			w.logger.Warn("close fsnotify watcher", zap.Error(err))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return errors.New("watch: fsnotify event channel closed unexpectedly")
			}
			if !isRelevant(evt) {
				continue
			}
			if evt.Has(fsnotify.Create) && isSubdirName(filepath.Base(evt.Name)) {
				w.mu.Lock()
				w.addDir(evt.Name)
				w.mu.Unlock()
			}
			w.logger.Debug("objects directory changed", zap.String("event", evt.String()))

			mu.Lock()
			pending = true
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return errors.New("watch: fsnotify error channel closed unexpectedly")
			}
			if isFatalFsnotifyError(err) {
				return errors.Wrap(err, "watch: fatal fsnotify error")
			}
			w.logger.Warn("fsnotify error", zap.Error(err))
		}
	}
}

// refresh forces a rescan by presenting the currently published marker.
func (w *Watcher) refresh(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	out, err := w.store.Refresh(w.store.Marker(), store.RefreshAfterAllIndicesLoaded)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := w.watchDirectoriesLocked(out.Snapshot); err != nil {
		return err
	}
	if w.cfg.OnRefresh != nil {
		w.cfg.OnRefresh(ctx, out)
	}
	return nil
}

func (w *Watcher) watchDirectories(snap store.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.watchDirectoriesLocked(snap)
}

// watchDirectoriesLocked registers every objects directory of snap together
// with its pack and info subdirectories. Directories that vanished are left
// to fsnotify, which drops their watches on removal.
func (w *Watcher) watchDirectoriesLocked(snap store.Snapshot) error {
	for _, db := range snap.LooseDBs {
		dir := db.Path()
		if w.watched[dir] {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return errors.Wrapf(err, "watch %s", dir)
		}
		w.watched[dir] = true
		w.addDir(filepath.Join(dir, packDirName))
		w.addDir(filepath.Join(dir, infoDirName))
	}
	return nil
}

// addDir watches dir if it exists. w.mu must be held.
func (w *Watcher) addDir(dir string) {
	if w.watched[dir] {
		return
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return
	}
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn("watch directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	w.watched[dir] = true
}

// isRelevant reports whether evt can change what a consolidation finds.
func isRelevant(evt fsnotify.Event) bool {
	if evt.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Base(evt.Name)
	switch {
	case isSubdirName(name), name == pack.MultiIndexName:
		return true
	case filepath.Ext(name) == pack.IndexExt:
		return true
	case name == filepath.Base(alternate.FileName):
		return true
	}
	return false
}

func isSubdirName(name string) bool {
	return name == packDirName || name == infoDirName
}
