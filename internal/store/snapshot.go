package store

import (
	"github.com/parr0tr1ver/gitoxide/internal/loose"
	"github.com/parr0tr1ver/gitoxide/internal/pack"
)

// SingleIndex is a pack index with its data file. Data is nil until mapped.
type SingleIndex struct {
	Index *pack.IndexFile
	Data  *pack.DataFile
}

// MultiIndex is a multi-pack-index with the data files it covers, in its
// own pack order. Entries are nil until mapped.
type MultiIndex struct {
	Index *pack.MultiIndexFile
	Data  []*pack.DataFile
}

// IndexLookup is one searchable index. Exactly one of Single and Multi is set.
type IndexLookup struct {
	ID     IndexID
	Single *SingleIndex
	Multi  *MultiIndex
}

// Snapshot is a self-consistent view of the mapped indices and the loose
// stores to search once packs were exhausted.
type Snapshot struct {
	// Indices are ordered by search preference, most recently modified first.
	Indices []IndexLookup
	// LooseDBs starts with the objects directory, followed by its alternates.
	// It is shared and must not be modified.
	LooseDBs []*loose.Store
	Marker   Marker
}

// Pack returns the data file id refers to, if it is part of the snapshot and mapped.
func (s *Snapshot) Pack(id PackID) (*pack.DataFile, bool) {
	owner := id.Index
	if id.MultiPackIndex != nil {
		owner = *id.MultiPackIndex
	}
	for _, l := range s.Indices {
		if l.ID != owner {
			continue
		}
		switch {
		case id.MultiPackIndex == nil && l.Single != nil:
			return l.Single.Data, l.Single.Data != nil
		case id.MultiPackIndex != nil && l.Multi != nil:
			if int(id.Index) < 0 || int(id.Index) >= len(l.Multi.Data) {
				return nil, false
			}
			d := l.Multi.Data[id.Index]
			return d, d != nil
		}
		return nil, false
	}
	return nil, false
}

// Snapshot collects the currently published state without touching disk.
// Slots whose index is not mapped yet are left out.
func (s *Store) Snapshot() Snapshot {
	for {
		index := s.index.Load()
		// Taken first so that indices mapped during the walk change the
		// fingerprint the caller will present next.
		marker := index.marker()
		var indices []IndexLookup
		if index.isInitialized() {
			slots := s.loadSlots()
			indices = make([]IndexLookup, 0, len(index.slotIndices))
			for _, id := range index.slotIndices {
				files := slots[id].files.Load()
				if files == nil {
					continue
				}
				if l, ok := lookupFor(id, files); ok {
					indices = append(indices, l)
				}
			}
		}
		// Slots are only emptied or rebound after a newer slot map was
		// published, so an unchanged pointer means no slot was reused.
		if s.index.Load() != index {
			continue
		}
		return Snapshot{
			Indices:  indices,
			LooseDBs: index.looseDBs,
			Marker:   marker,
		}
	}
}

func lookupFor(id IndexID, files *indexAndPacks) (IndexLookup, bool) {
	if files.single != nil {
		idx, ok := files.single.index.loaded()
		if !ok {
			return IndexLookup{}, false
		}
		data, _ := files.single.data.loaded()
		return IndexLookup{ID: id, Single: &SingleIndex{Index: idx, Data: data}}, true
	}
	midx, ok := files.multi.multiIndex.loaded()
	if !ok {
		return IndexLookup{}, false
	}
	data := make([]*pack.DataFile, len(files.multi.data))
	for i := range files.multi.data {
		data[i], _ = files.multi.data[i].loaded()
	}
	return IndexLookup{ID: id, Multi: &MultiIndex{Index: midx, Data: data}}, true
}
