package store

import (
	"slices"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/parr0tr1ver/gitoxide/internal/loose"
)

const unassigned = IndexID(-1)

// consolidate rescans the objects directory and its alternates, reconciles
// the slots with what is on disk and publishes a new slot map. It returns a
// nil Outcome if nothing changed.
func (s *Store) consolidate() (*Outcome, error) {
	prev := s.index.Load()

	// The lock must be taken after prev was recorded.
	s.pathMu.Lock()
	defer s.pathMu.Unlock()

	if cur := s.index.Load(); cur != prev {
		// Someone consolidated while we waited; use their result.
		return s.collectReplaceOutcome(cur.generation == prev.generation), nil
	}

	needsStable := s.numHandlesStable.Load() > 0

	dbPaths, err := s.objectDirectories()
	if err != nil {
		return nil, err
	}
	looseDBs := prev.looseDBs
	looseChanged := !sameDirectories(prev.looseDBs, dbPaths)
	if looseChanged {
		looseDBs = make([]*loose.Store, len(dbPaths))
		for i, p := range dbPaths {
			looseDBs[i] = s.openLoose(p)
		}
	}

	found, err := scanObjectDirs(dbPaths)
	if err != nil {
		return nil, err
	}

	slots := s.loadSlots()
	byPath := make(map[string]IndexID, len(prev.slotIndices))
	for _, id := range prev.slotIndices {
		if files := slots[id].files.Load(); files != nil {
			byPath[files.indexPath()] = id
		}
	}

	// order mirrors found; new paths get their slot once retirement is settled.
	order := make([]IndexID, len(found), len(found)+len(byPath))
	numNew, numRevived := 0, 0
	for i, f := range found {
		id, ok := byPath[f.path]
		if !ok {
			order[i] = unassigned
			numNew++
			continue
		}
		delete(byPath, f.path)
		assureSlotForPath(slots[id], f.path, false)
		if reviveSlot(slots[id]) {
			numRevived++
		}
		order[i] = id
	}

	// Whatever is left in byPath vanished from disk.
	gone := make(map[IndexID]bool, len(byPath))
	for _, id := range byPath {
		gone[id] = true
	}
	var retiring []IndexID
	for _, id := range prev.slotIndices {
		if gone[id] {
			retiring = append(retiring, id)
		}
	}

	generation := prev.generation
	changed := looseChanged || numNew > 0 || numRevived > 0
	var cleared []IndexID
	if needsStable {
		for _, id := range retiring {
			if slots[id].files.Load().needsRetire() {
				retireSlot(slots[id])
				changed = true
			}
			order = append(order, id)
		}
	} else if len(retiring) > 0 {
		cleared = retiring
		generation++
		changed = true
	}

	if numNew > 0 {
		free := freeSlots(slots)
		if need := numNew - len(free); need > 0 {
			capHint := 0
			if !prev.isInitialized() {
				capHint = len(found) + slotHeadroom
			}
			slots = s.growSlots(need, capHint)
			for id := len(slots) - need; id < len(slots); id++ {
				free = append(free, IndexID(id))
			}
		}
		for i, f := range found {
			if order[i] != unassigned {
				continue
			}
			id := free[0]
			free = free[1:]
			assureSlotForPath(slots[id], f.path, true)
			order[i] = id
		}
	}

	if prev.isInitialized() && !changed && slices.Equal(order, prev.slotIndices) {
		s.numConsolidations.Add(1)
		s.logger.Debug("objects directory unchanged", zap.String("path", s.path), zap.Int("indices", len(order)))
		return nil, nil
	}

	next := &slotMapIndex{
		id:          s.nextSlotMapID.Add(1),
		slotIndices: order,
		looseDBs:    looseDBs,
		generation:  generation,
	}
	if generation == prev.generation {
		next.nextIndexToLoad = prev.nextIndexToLoad
		next.loadedIndices = prev.loadedIndices
	} else {
		next.nextIndexToLoad = new(atomic.Int64)
		next.loadedIndices = new(atomic.Int64)
		next.loadedIndices.Store(countAttempted(slots, order))
	}
	s.index.Store(next)

	// Slots become reusable only once no published slot map refers to them.
	for _, id := range cleared {
		clearSlot(slots[id])
	}
	s.numConsolidations.Add(1)

	fields := []zap.Field{
		zap.String("path", s.path),
		zap.Int("directories", len(dbPaths)),
		zap.Int("indices", len(order)),
		zap.Int("added", numNew),
		zap.Int("revived", numRevived),
		zap.Int("retired", len(retiring)),
		zap.Bool("stable", needsStable),
		zap.Uint8("generation", generation),
	}
	if generation != prev.generation {
		s.logger.Info("slot map generation changed", fields...)
	} else {
		s.logger.Debug("consolidated objects directory", fields...)
	}
	return s.collectReplaceOutcome(generation == prev.generation), nil
}

// objectDirectories returns the objects directory followed by its alternates.
func (s *Store) objectDirectories() ([]string, error) {
	ok, err := dirExists(s.path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.WithStack(&InaccessibleError{Path: s.path})
	}
	alts, err := s.resolveAlternates(s.path)
	if err != nil {
		return nil, err
	}
	return append([]string{s.path}, alts...), nil
}

func countAttempted(slots []*slot, ids []IndexID) int64 {
	var n int64
	for _, id := range ids {
		if files := slots[id].files.Load(); files != nil && files.indexAttempted() {
			n++
		}
	}
	return n
}
