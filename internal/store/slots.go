package store

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// slot is a fixed-identity cell. Once bound to a path within a generation it
// can only be marked garbage or emptied, never rebound.
type slot struct {
	files atomic.Pointer[indexAndPacks]
	// write serialises every change of files.
	write sync.Mutex
}

// loadSlots returns the current slot array. Slots are never relocated; the
// array only grows by copy under the directory lock.
func (s *Store) loadSlots() []*slot {
	if p := s.slots.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Store) slotAt(id IndexID) (*slot, error) {
	slots := s.loadSlots()
	if id < 0 || int(id) >= len(slots) {
		return nil, errors.Wrapf(ErrUnknownIndex, "index id %d", id)
	}
	return slots[id], nil
}

// growSlots appends n empty slots. Must be called with the directory lock held.
func (s *Store) growSlots(n, capHint int) []*slot {
	old := s.loadSlots()
	if n <= 0 {
		return old
	}
	grown := make([]*slot, len(old), max(len(old)+n, capHint))
	copy(grown, old)
	for i := 0; i < n; i++ {
		grown = append(grown, &slot{})
	}
	s.slots.Store(&grown)
	return grown
}

// freeSlots returns the ids of slots holding no bundle, lowest first.
func freeSlots(slots []*slot) []IndexID {
	var free []IndexID
	for i, sl := range slots {
		if sl.files.Load() == nil {
			free = append(free, IndexID(i))
		}
	}
	return free
}

// assureSlotForPath checks that sl is bound to indexPath, binding an empty
// slot when mayInit is set. A slot bound to another path is a bug: paths are
// never rebound while the slot is live.
func assureSlotForPath(sl *slot, indexPath string, mayInit bool) {
	if files := sl.files.Load(); files != nil {
		if files.indexPath() != indexPath {
			panic("BUG: slot bound to " + files.indexPath() + " cannot be rebound to " + indexPath)
		}
		return
	}
	if !mayInit {
		panic("BUG: a live slot cannot be empty while the directory lock is held")
	}
	sl.write.Lock()
	defer sl.write.Unlock()
	if sl.files.Load() != nil {
		panic("BUG: slot was initialised concurrently while the directory lock is held")
	}
	sl.files.Store(newBundle(indexPath))
}

// reviveSlot replaces the bundle of sl with a fresh one if its index was
// recorded as missing, which is wrong once the path is back on disk. Bundles
// holding garbage keep their mapped files. It reports whether sl changed.
func reviveSlot(sl *slot) bool {
	sl.write.Lock()
	defer sl.write.Unlock()
	files := sl.files.Load()
	if files == nil || !files.indexMissing() {
		return false
	}
	sl.files.Store(newBundle(files.indexPath()))
	return true
}

// retireSlot marks every file in sl as removed from disk, keeping mapped
// files as garbage.
func retireSlot(sl *slot) {
	sl.write.Lock()
	defer sl.write.Unlock()
	if files := sl.files.Load(); files != nil {
		sl.files.Store(files.retired())
	}
}

// clearSlot empties sl, making its id reusable by a later consolidation.
func clearSlot(sl *slot) {
	sl.write.Lock()
	defer sl.write.Unlock()
	sl.files.Store(nil)
}
