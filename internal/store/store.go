// Package store keeps a generation-versioned view of the pack indices and
// loose object directories of a git objects database. Readers obtain
// snapshots without locking while a single writer at a time reconciles the
// view with the directories on disk.
package store

import (
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/parr0tr1ver/gitoxide/internal/alternate"
	"github.com/parr0tr1ver/gitoxide/internal/loose"
)

// Store owns the slot array and the currently published slot map of one
// objects directory. It is safe for concurrent use.
type Store struct {
	index atomic.Pointer[slotMapIndex]
	slots atomic.Pointer[[]*slot]

	// pathMu guards path and serialises consolidation.
	pathMu sync.Mutex
	path   string

	nextSlotMapID     atomic.Uint64
	numHandles        atomic.Int64
	numHandlesStable  atomic.Int64
	numConsolidations atomic.Int64

	resolveAlternates func(objectsDir string) ([]string, error)
	openLoose         func(dir string) *loose.Store
	logger            *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for consolidation events.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithAlternatesResolver replaces alternate.Resolve.
func WithAlternatesResolver(resolve func(objectsDir string) ([]string, error)) Option {
	return func(s *Store) { s.resolveAlternates = resolve }
}

// WithLooseStoreFactory replaces loose.At.
func WithLooseStoreFactory(open func(dir string) *loose.Store) Option {
	return func(s *Store) { s.openLoose = open }
}

// Open returns a Store for the objects directory dir. No directory is
// scanned until the first Refresh.
func Open(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		path:              filepath.Clean(dir),
		resolveAlternates: alternate.Resolve,
		openLoose:         loose.At,
		logger:            zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	ok, err := dirExists(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WithStack(&InaccessibleError{Path: s.path})
	}
	s.index.Store(newSlotMapIndex(s.nextSlotMapID.Add(1)))
	return s, nil
}

// Path returns the objects directory. It never changes after Open.
func (s *Store) Path() string { return s.path }

// Outcome is a fresh view handed out by Refresh.
type Outcome struct {
	Snapshot Snapshot
	// Stable is false when the generation changed. All previously issued
	// IndexIDs and PackIDs are then invalid and must be discarded.
	Stable bool
}

// Refresh compares marker against the published state. It returns a nil
// Outcome when nothing changed that the caller has not seen. Only an
// uninitialised store or RefreshAfterAllIndicesLoaded with an unchanged
// fingerprint cause the objects directory to be rescanned.
func (s *Store) Refresh(marker Marker, mode RefreshMode) (*Outcome, error) {
	index := s.index.Load()
	if !index.isInitialized() {
		return s.consolidate()
	}
	switch {
	case marker.generation != index.generation:
		return s.collectReplaceOutcome(false), nil
	case marker.stateID == index.stateID():
		if mode == RefreshAfterAllIndicesLoaded {
			return s.consolidate()
		}
		return nil, nil
	default:
		return s.collectReplaceOutcome(true), nil
	}
}

func (s *Store) collectReplaceOutcome(stable bool) *Outcome {
	return &Outcome{Snapshot: s.Snapshot(), Stable: stable}
}

// Marker returns a marker for the currently published state.
func (s *Store) Marker() Marker {
	return s.index.Load().marker()
}

// HandleMode tells whether a handle needs IndexIDs to stay valid.
type HandleMode int

const (
	// HandleUnstable lets consolidation recycle slots and change the generation.
	HandleUnstable HandleMode = iota
	// HandleStable keeps every observed IndexID resolvable until Close.
	HandleStable
)

// Handle registers a user of the Store. Closing it releases its stability
// requirement.
type Handle struct {
	store  *Store
	mode   HandleMode
	closed atomic.Bool
}

// NewHandle registers a handle in the given mode.
func (s *Store) NewHandle(mode HandleMode) *Handle {
	s.numHandles.Add(1)
	if mode == HandleStable {
		s.numHandlesStable.Add(1)
	}
	return &Handle{store: s, mode: mode}
}

// Store returns the Store the handle is registered with.
func (h *Handle) Store() *Store { return h.store }

// Mode returns the mode the handle was created in.
func (h *Handle) Mode() HandleMode { return h.mode }

// Close unregisters the handle.
func (h *Handle) Close() error {
	if !h.closed.CompareAndSwap(false, true) {
		return ErrHandleClosed
	}
	if h.mode == HandleStable {
		h.store.numHandlesStable.Add(-1)
	}
	h.store.numHandles.Add(-1)
	return nil
}

// Metrics describes resource usage. It is for observability only.
type Metrics struct {
	NumHandles   int
	NumRefreshes int
	OpenIndices  int
	KnownIndices int
	OpenPacks    int
	KnownPacks   int
	UnusedSlots  int
	Generation   uint8
}

// Metrics walks all slots without locking.
func (s *Store) Metrics() Metrics {
	m := Metrics{
		NumHandles:   int(s.numHandles.Load()),
		NumRefreshes: int(s.numConsolidations.Load()),
		Generation:   s.index.Load().generation,
	}
	for _, sl := range s.loadSlots() {
		files := sl.files.Load()
		if files == nil {
			m.UnusedSlots++
			continue
		}
		m.KnownIndices++
		if files.indexLoaded() {
			m.OpenIndices++
		}
		open, known := files.packCounts()
		m.OpenPacks += open
		m.KnownPacks += known
	}
	return m
}
