package store

import (
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/parr0tr1ver/gitoxide/internal/pack"
)

// IndexID addresses a slot. Within one generation an IndexID always refers
// to the same index file.
type IndexID int

// PackID refers to a pack either through the slot of its own index, or, when
// MultiPackIndex is set, as the position Index within that multi-pack-index.
type PackID struct {
	Index          IndexID
	MultiPackIndex *IndexID
}

// RefreshMode controls whether Refresh may rescan the objects directory when
// nothing changed since the caller's marker was taken.
type RefreshMode int

const (
	// RefreshNever reports nothing new instead of touching disk.
	RefreshNever RefreshMode = iota
	// RefreshAfterAllIndicesLoaded rescans the objects directory.
	RefreshAfterAllIndicesLoaded
)

func (m RefreshMode) String() string {
	switch m {
	case RefreshNever:
		return "never"
	case RefreshAfterAllIndicesLoaded:
		return "after-all-indices-loaded"
	}
	return "unknown"
}

// ParseRefreshMode is the inverse of RefreshMode.String.
func ParseRefreshMode(name string) (RefreshMode, error) {
	for _, m := range []RefreshMode{RefreshNever, RefreshAfterAllIndicesLoaded} {
		if m.String() == name {
			return m, nil
		}
	}
	return 0, errors.Errorf("unknown refresh mode %q", name)
}

type indexFileBundle struct {
	index onDiskFile[*pack.IndexFile]
	data  onDiskFile[*pack.DataFile]
}

type multiIndexFileBundle struct {
	multiIndex onDiskFile[*pack.MultiIndexFile]
	// data is empty until multiIndex is loaded and its pack names are known.
	data []onDiskFile[*pack.DataFile]
}

// indexAndPacks is what a slot holds: exactly one of single or multi is set.
// Published values are immutable; changes go through clone.
type indexAndPacks struct {
	single *indexFileBundle
	multi  *multiIndexFileBundle
}

func newSingle(indexPath string) *indexAndPacks {
	return &indexAndPacks{single: &indexFileBundle{
		index: newOnDiskFile[*pack.IndexFile](indexPath),
		data:  newOnDiskFile[*pack.DataFile](pack.DataPathName(indexPath)),
	}}
}

func newMulti(indexPath string) *indexAndPacks {
	return &indexAndPacks{multi: &multiIndexFileBundle{
		multiIndex: newOnDiskFile[*pack.MultiIndexFile](indexPath),
	}}
}

func newBundle(indexPath string) *indexAndPacks {
	if filepath.Ext(indexPath) == pack.IndexExt {
		return newSingle(indexPath)
	}
	return newMulti(indexPath)
}

func (b *indexAndPacks) indexPath() string {
	if b.single != nil {
		return b.single.index.path
	}
	return b.multi.multiIndex.path
}

func (b *indexAndPacks) clone() *indexAndPacks {
	if b.single != nil {
		s := *b.single
		return &indexAndPacks{single: &s}
	}
	m := *b.multi
	m.data = append([]onDiskFile[*pack.DataFile](nil), b.multi.data...)
	return &indexAndPacks{multi: &m}
}

func (b *indexAndPacks) indexLoaded() bool {
	if b.single != nil {
		return b.single.index.isLoaded()
	}
	return b.multi.multiIndex.isLoaded()
}

func (b *indexAndPacks) indexAttempted() bool {
	if b.single != nil {
		return b.single.index.isAttempted()
	}
	return b.multi.multiIndex.isAttempted()
}

func (b *indexAndPacks) indexMissing() bool {
	if b.single != nil {
		return b.single.index.state == stateMissing
	}
	return b.multi.multiIndex.state == stateMissing
}

// needsRetire reports whether retired would change anything, that is
// whether any file is still loaded or loadable.
func (b *indexAndPacks) needsRetire() bool {
	live := func(s fileState) bool { return s == stateLoaded || s == stateUnloaded }
	if b.single != nil {
		return live(b.single.index.state) || live(b.single.data.state)
	}
	if live(b.multi.multiIndex.state) {
		return true
	}
	for i := range b.multi.data {
		if live(b.multi.data[i].state) {
			return true
		}
	}
	return false
}

// loadIndex maps the primary index of b, which must be a private clone. For a
// multi-pack-index the pack data list is filled from the names it records.
func (b *indexAndPacks) loadIndex() (bool, error) {
	if b.single != nil {
		_, ok, err := b.single.index.load(pack.OpenIndex)
		return ok, err
	}
	midx, ok, err := b.multi.multiIndex.load(pack.OpenMultiIndex)
	if err != nil || !ok {
		return ok, err
	}
	paths := midx.DataPaths()
	b.multi.data = make([]onDiskFile[*pack.DataFile], len(paths))
	for i, p := range paths {
		b.multi.data[i] = newOnDiskFile[*pack.DataFile](p)
	}
	return true, nil
}

// retired returns a copy of b with every file retired.
func (b *indexAndPacks) retired() *indexAndPacks {
	nb := b.clone()
	if nb.single != nil {
		nb.single.index.retire()
		nb.single.data.retire()
		return nb
	}
	nb.multi.multiIndex.retire()
	for i := range nb.multi.data {
		nb.multi.data[i].retire()
	}
	return nb
}

func (b *indexAndPacks) packCounts() (open, known int) {
	if b.single != nil {
		if b.single.data.isLoaded() {
			open = 1
		}
		return open, 1
	}
	for i := range b.multi.data {
		if b.multi.data[i].isLoaded() {
			open++
		}
	}
	return open, len(b.multi.data)
}
