package store

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"github.com/parr0tr1ver/gitoxide/internal/loose"
)

// StateID fingerprints a published slot map together with its load progress.
type StateID uint64

// Marker records what a caller last observed. The zero Marker means nothing
// was observed yet.
type Marker struct {
	generation uint8
	stateID    StateID
}

// Generation returns the generation the marker was taken in.
func (m Marker) Generation() uint8 { return m.generation }

// StateID returns the fingerprint the marker was taken at.
func (m Marker) StateID() StateID { return m.stateID }

// slotMapIndex is an immutable view of the live slots. It is replaced as a
// whole by consolidation and never changed after being published.
type slotMapIndex struct {
	// id identifies this value among all slot maps of the Store.
	id uint64
	// slotIndices lists the live slots in search order, newest first.
	slotIndices []IndexID
	// looseDBs holds the loose store of the objects directory followed by those
	// of its alternates. Shared between slot maps while the directory list is unchanged.
	looseDBs []*loose.Store
	// generation changes only when slot ids were invalidated.
	generation uint8

	// The counters below are shared by every slot map of one generation.
	nextIndexToLoad *atomic.Int64
	// loadedIndices counts completed load attempts, successful or not.
	loadedIndices *atomic.Int64
}

func newSlotMapIndex(id uint64) *slotMapIndex {
	return &slotMapIndex{
		id:              id,
		nextIndexToLoad: new(atomic.Int64),
		loadedIndices:   new(atomic.Int64),
	}
}

// stateID includes the shared load counter so that indices loaded in
// parallel change the fingerprint without a new slot map being published.
func (i *slotMapIndex) stateID() StateID {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], i.id)
	binary.BigEndian.PutUint64(buf[8:], uint64(i.loadedIndices.Load()))
	return StateID(xxhash.Sum64(buf[:]))
}

func (i *slotMapIndex) marker() Marker {
	return Marker{generation: i.generation, stateID: i.stateID()}
}

// isInitialized returns true once at least one loose store is known.
func (i *slotMapIndex) isInitialized() bool {
	return len(i.looseDBs) > 0
}

func sameDirectories(dbs []*loose.Store, paths []string) bool {
	if len(dbs) != len(paths) {
		return false
	}
	for i := range dbs {
		if dbs[i].Path() != paths[i] {
			return false
		}
	}
	return true
}
