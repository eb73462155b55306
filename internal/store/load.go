package store

import (
	"github.com/pkg/errors"

	"github.com/parr0tr1ver/gitoxide/internal/pack"
)

// LoadIndex maps the index in slot id. It returns false if the index file is
// missing or the slot was emptied. ErrGenerationChanged means marker is
// outdated and the caller must Refresh.
func (s *Store) LoadIndex(marker Marker, id IndexID) (bool, error) {
	sl, err := s.slotAt(id)
	if err != nil {
		return false, err
	}
	sl.write.Lock()
	defer sl.write.Unlock()

	// Checked under the slot lock: slots are only emptied or rebound in a
	// later generation, and both take this lock.
	index := s.index.Load()
	if index.generation != marker.generation {
		return false, ErrGenerationChanged
	}
	files := sl.files.Load()
	if files == nil {
		return false, nil
	}
	if files.indexAttempted() {
		return files.indexLoaded(), nil
	}
	next := files.clone()
	ok, err := next.loadIndex()
	if err != nil {
		return false, err
	}
	sl.files.Store(next)
	index.loadedIndices.Add(1)
	return ok, nil
}

// LoadNextIndex maps one index of the published slot map that was not
// attempted yet, starting at the shared load position. It returns false once
// every index was attempted.
func (s *Store) LoadNextIndex(marker Marker) (bool, error) {
	index := s.index.Load()
	if index.generation != marker.generation {
		return false, ErrGenerationChanged
	}
	n := len(index.slotIndices)
	slots := s.loadSlots()
	for range n {
		pos := int(index.nextIndexToLoad.Add(1)-1) % n
		id := index.slotIndices[pos]
		files := slots[id].files.Load()
		if files == nil || files.indexAttempted() {
			continue
		}
		ok, err := s.LoadIndex(marker, id)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// LoadPack maps the data file id refers to and returns it, or nil if the
// file is missing. Garbage packs stay resolvable while their slot is retained.
func (s *Store) LoadPack(marker Marker, id PackID) (*pack.DataFile, error) {
	owner := id.Index
	if id.MultiPackIndex != nil {
		owner = *id.MultiPackIndex
	}
	sl, err := s.slotAt(owner)
	if err != nil {
		return nil, err
	}

	if files := sl.files.Load(); files != nil && s.index.Load().generation == marker.generation {
		if f, err := dataFileOf(files, id); err == nil && f.isLoaded() {
			data, _ := f.loaded()
			return data, nil
		}
	}

	sl.write.Lock()
	defer sl.write.Unlock()
	index := s.index.Load()
	if index.generation != marker.generation {
		return nil, ErrGenerationChanged
	}
	files := sl.files.Load()
	if files == nil {
		return nil, nil
	}
	f, err := dataFileOf(files, id)
	if err != nil {
		return nil, err
	}
	if f.isLoaded() {
		data, _ := f.loaded()
		return data, nil
	}
	if f.isAttempted() {
		return nil, nil
	}
	next := files.clone()
	nf, _ := dataFileOf(next, id)
	data, _, err := nf.load(pack.OpenData)
	if err != nil {
		return nil, err
	}
	sl.files.Store(next)
	return data, nil
}

// dataFileOf returns the data file entry of files that id points to.
func dataFileOf(files *indexAndPacks, id PackID) (*onDiskFile[*pack.DataFile], error) {
	if id.MultiPackIndex == nil {
		if files.single == nil {
			return nil, errors.Wrapf(ErrNotAPack, "slot %d holds a multi-pack-index", id.Index)
		}
		return &files.single.data, nil
	}
	if files.multi == nil {
		return nil, errors.Wrapf(ErrNotAPack, "slot %d holds a single pack index", *id.MultiPackIndex)
	}
	if !files.multi.multiIndex.isLoaded() {
		return nil, ErrIndexNotLoaded
	}
	if int(id.Index) < 0 || int(id.Index) >= len(files.multi.data) {
		return nil, errors.Wrapf(ErrUnknownIndex, "pack %d of multi-pack-index %d", id.Index, *id.MultiPackIndex)
	}
	return &files.multi.data[id.Index], nil
}
