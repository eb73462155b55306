package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/parr0tr1ver/gitoxide/internal/alternate"
	"github.com/parr0tr1ver/gitoxide/internal/pack"
	"github.com/parr0tr1ver/gitoxide/internal/pack/packtest"
)

func openTestStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithLogger(zaptest.NewLogger(t))}, opts...)
	s, err := Open(dir, opts...)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	return s
}

func newObjectsDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "objects")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, packDirName), 0o755))
	return dir
}

// writePack writes pack-<name>.{idx,pack} and sets their modification time.
func writePack(t *testing.T, objectsDir, name string, mtime time.Time) string {
	t.Helper()
	packDir := filepath.Join(objectsDir, packDirName)
	idx := packtest.WritePack(t, packDir, name)
	packtest.Touch(t, idx, mtime)
	return idx
}

func removePack(t *testing.T, indexPath string) {
	t.Helper()
	require.NoError(t, os.Remove(indexPath))
	require.NoError(t, os.Remove(pack.DataPathName(indexPath)))
}

func mustRefresh(t *testing.T, s *Store, m Marker, mode RefreshMode) *Outcome {
	t.Helper()
	out, err := s.Refresh(m, mode)
	require.NoError(t, err)
	return out
}

func slotFor(t *testing.T, s *Store, indexPath string) IndexID {
	t.Helper()
	for _, id := range s.index.Load().slotIndices {
		if files := s.loadSlots()[id].files.Load(); files != nil && files.indexPath() == indexPath {
			return id
		}
	}
	t.Fatalf("no live slot for %s", indexPath)
	return unassigned
}

func indexPaths(snap Snapshot) []string {
	var paths []string
	for _, l := range snap.Indices {
		if l.Single != nil {
			paths = append(paths, l.Single.Index.Path())
		} else {
			paths = append(paths, l.Multi.Index.Path())
		}
	}
	return paths
}

func TestRefreshEmptyDirectory(t *testing.T) {
	dir := newObjectsDir(t)
	s := openTestStore(t, dir)

	out := mustRefresh(t, s, Marker{}, RefreshNever)
	require.NotNil(t, out)
	require.True(t, out.Stable)
	require.Empty(t, out.Snapshot.Indices)
	require.Len(t, out.Snapshot.LooseDBs, 1)
	require.Equal(t, dir, out.Snapshot.LooseDBs[0].Path())
	require.Equal(t, 1, s.Metrics().NumRefreshes)

	m := out.Snapshot.Marker
	require.Nil(t, mustRefresh(t, s, m, RefreshNever))
	require.Nil(t, mustRefresh(t, s, m, RefreshNever))

	// An explicit rescan of an unchanged directory finds nothing new either.
	require.Nil(t, mustRefresh(t, s, m, RefreshAfterAllIndicesLoaded))
	require.Equal(t, 2, s.Metrics().NumRefreshes)
	require.Equal(t, m, s.Marker())
}

func TestMissingPackDirectoryIsEmpty(t *testing.T) {
	dir := t.TempDir()
	s := openTestStore(t, dir)
	out := mustRefresh(t, s, Marker{}, RefreshNever)
	require.NotNil(t, out)
	require.Empty(t, s.index.Load().slotIndices)
}

func TestSnapshotOrderedNewestFirst(t *testing.T) {
	dir := newObjectsDir(t)
	now := time.Now()
	older := writePack(t, dir, "older", now.Add(-2*time.Hour))
	newer := writePack(t, dir, "newer", now.Add(-time.Minute))
	s := openTestStore(t, dir)

	out := mustRefresh(t, s, Marker{}, RefreshNever)
	require.NotNil(t, out)
	require.Empty(t, out.Snapshot.Indices, "unmapped indices are not part of a snapshot")
	require.Equal(t, 2, s.Metrics().KnownIndices)

	m := out.Snapshot.Marker
	for {
		ok, err := s.LoadNextIndex(m)
		require.NoError(t, err)
		if !ok {
			break
		}
	}
	snap := s.Snapshot()
	require.Equal(t, []string{newer, older}, indexPaths(snap))
	for _, l := range snap.Indices {
		require.NotNil(t, l.Single)
		require.Nil(t, l.Single.Data, "data files are mapped separately")
	}
	metrics := s.Metrics()
	require.Equal(t, 2, metrics.OpenIndices)
	require.Equal(t, 0, metrics.OpenPacks)
	require.Equal(t, 2, metrics.KnownPacks)
}

func TestFingerprintChangesAfterLoad(t *testing.T) {
	dir := newObjectsDir(t)
	idx := writePack(t, dir, "a", time.Now())
	s := openTestStore(t, dir)
	m := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker

	id := slotFor(t, s, idx)
	type result struct {
		ok  bool
		err error
	}
	done := make(chan result)
	go func() {
		ok, err := s.LoadIndex(m, id)
		done <- result{ok, err}
	}()
	res := <-done
	require.NoError(t, res.err)
	require.True(t, res.ok)

	current := s.Marker()
	require.Equal(t, m.Generation(), current.Generation())
	require.NotEqual(t, m.StateID(), current.StateID())

	out := mustRefresh(t, s, m, RefreshNever)
	require.NotNil(t, out)
	require.True(t, out.Stable)
	require.Equal(t, []string{idx}, indexPaths(out.Snapshot))
	require.Nil(t, mustRefresh(t, s, out.Snapshot.Marker, RefreshNever))
	require.Equal(t, 1, s.Metrics().NumRefreshes)
}

func TestRemovedIndexRecyclesSlot(t *testing.T) {
	dir := newObjectsDir(t)
	now := time.Now()
	a := writePack(t, dir, "a", now.Add(-time.Minute))
	b := writePack(t, dir, "b", now.Add(-time.Hour))
	s := openTestStore(t, dir)

	first := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker
	idA, idB := slotFor(t, s, a), slotFor(t, s, b)
	require.Equal(t, uint8(0), first.Generation())

	removePack(t, b)
	out := mustRefresh(t, s, first, RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out)
	require.False(t, out.Stable)
	require.Equal(t, uint8(1), out.Snapshot.Marker.Generation())
	require.Equal(t, []IndexID{idA}, s.index.Load().slotIndices)
	require.Equal(t, 1, s.Metrics().UnusedSlots)

	c := writePack(t, dir, "c", now)
	out2 := mustRefresh(t, s, out.Snapshot.Marker, RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out2)
	require.True(t, out2.Stable, "adding an index keeps the generation")
	require.Equal(t, idB, slotFor(t, s, c), "the freed slot is reused")
	require.Equal(t, []IndexID{idB, idA}, s.index.Load().slotIndices)
	require.Equal(t, uint8(1), s.Marker().Generation())
	require.Equal(t, 0, s.Metrics().UnusedSlots)

	// Markers of a retired generation always get a full replacement.
	stale := mustRefresh(t, s, first, RefreshNever)
	require.NotNil(t, stale)
	require.False(t, stale.Stable)
	_, err := s.LoadIndex(first, idB)
	require.ErrorIs(t, err, ErrGenerationChanged)
}

func TestStableHandleKeepsGarbage(t *testing.T) {
	dir := newObjectsDir(t)
	now := time.Now()
	a := writePack(t, dir, "a", now.Add(-time.Minute))
	b := writePack(t, dir, "b", now.Add(-time.Hour))
	s := openTestStore(t, dir)
	h := s.NewHandle(HandleStable)

	m := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker
	idA, idB := slotFor(t, s, a), slotFor(t, s, b)
	ok, err := s.LoadIndex(m, idB)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := s.LoadPack(m, PackID{Index: idB})
	require.NoError(t, err)
	require.NotNil(t, data)

	removePack(t, b)
	out := mustRefresh(t, s, s.Marker(), RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out)
	require.True(t, out.Stable)
	require.Equal(t, m.Generation(), out.Snapshot.Marker.Generation())
	require.Equal(t, []IndexID{idA, idB}, s.index.Load().slotIndices)

	files := s.loadSlots()[idB].files.Load()
	require.Equal(t, stateGarbage, files.single.index.state)
	require.Equal(t, stateGarbage, files.single.data.state)

	got, ok := out.Snapshot.Pack(PackID{Index: idB})
	require.True(t, ok)
	require.Same(t, data, got)
	again, err := s.LoadPack(out.Snapshot.Marker, PackID{Index: idB})
	require.NoError(t, err)
	require.Same(t, data, again)

	// Retained garbage alone is not a change.
	require.Nil(t, mustRefresh(t, s, s.Marker(), RefreshAfterAllIndicesLoaded))

	require.NoError(t, h.Close())
	require.ErrorIs(t, h.Close(), ErrHandleClosed)
	out = mustRefresh(t, s, s.Marker(), RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out)
	require.False(t, out.Stable)
	require.Equal(t, m.Generation()+1, out.Snapshot.Marker.Generation())
	require.Equal(t, []IndexID{idA}, s.index.Load().slotIndices)
	_, ok = out.Snapshot.Pack(PackID{Index: idB})
	require.False(t, ok)
	// The data file handed out earlier is still usable.
	require.Equal(t, uint32(1), data.NumObjects())
}

func TestReturningIndexIsLoadableUnderStableHandle(t *testing.T) {
	dir := newObjectsDir(t)
	now := time.Now()
	writePack(t, dir, "a", now.Add(-time.Minute))
	b := writePack(t, dir, "b", now.Add(-time.Hour))
	s := openTestStore(t, dir)
	h := s.NewHandle(HandleStable)
	defer h.Close()

	m := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker
	idB := slotFor(t, s, b)

	// Never mapped, so retiring it leaves nothing but a missing file.
	removePack(t, b)
	require.NotNil(t, mustRefresh(t, s, s.Marker(), RefreshAfterAllIndicesLoaded))
	require.Equal(t, stateMissing, s.loadSlots()[idB].files.Load().single.index.state)
	ok, err := s.LoadIndex(s.Marker(), idB)
	require.NoError(t, err)
	require.False(t, ok)

	// A repack writing the same name brings the path back.
	writePack(t, dir, "b", now)
	out := mustRefresh(t, s, s.Marker(), RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out)
	require.True(t, out.Stable)
	require.Equal(t, m.Generation(), out.Snapshot.Marker.Generation())
	require.Equal(t, idB, slotFor(t, s, b))
	require.Equal(t, stateUnloaded, s.loadSlots()[idB].files.Load().single.index.state)

	ok, err = s.LoadIndex(out.Snapshot.Marker, idB)
	require.NoError(t, err)
	require.True(t, ok)
	data, err := s.LoadPack(out.Snapshot.Marker, PackID{Index: idB})
	require.NoError(t, err)
	require.NotNil(t, data)
	require.Equal(t, []string{b}, indexPaths(s.Snapshot()))
}

func TestScanErrorLeavesSnapshotUntouched(t *testing.T) {
	dir := newObjectsDir(t)
	packDir := filepath.Join(dir, packDirName)
	writePack(t, dir, "a", time.Now())
	s := openTestStore(t, dir)
	mustRefresh(t, s, Marker{}, RefreshNever)
	before := s.index.Load()
	refreshes := s.Metrics().NumRefreshes

	// A regular file where the pack directory belongs cannot be listed.
	require.NoError(t, os.RemoveAll(packDir))
	require.NoError(t, os.WriteFile(packDir, []byte("not a directory"), 0o644))

	out, err := s.Refresh(s.Marker(), RefreshAfterAllIndicesLoaded)
	require.Error(t, err)
	require.Nil(t, out)
	require.Contains(t, err.Error(), "read pack directory")
	require.False(t, errors.Is(err, os.ErrNotExist))
	require.Same(t, before, s.index.Load())
	require.Equal(t, refreshes, s.Metrics().NumRefreshes)

	require.NoError(t, os.Remove(packDir))
	b := writePack(t, dir, "b", time.Now())
	out, err = s.Refresh(s.Marker(), RefreshAfterAllIndicesLoaded)
	require.NoError(t, err)
	require.NotNil(t, out)
	require.False(t, out.Stable)
	require.Equal(t, []IndexID{slotFor(t, s, b)}, s.index.Load().slotIndices)
}

func TestSlotIsNeverRebound(t *testing.T) {
	sl := &slot{}
	assureSlotForPath(sl, "/objects/pack/pack-a.idx", true)
	assureSlotForPath(sl, "/objects/pack/pack-a.idx", false)
	require.Panics(t, func() { assureSlotForPath(sl, "/objects/pack/pack-b.idx", true) })
	require.Panics(t, func() { assureSlotForPath(&slot{}, "/objects/pack/pack-a.idx", false) })
}

func TestMultiPackIndex(t *testing.T) {
	dir := newObjectsDir(t)
	packDir := filepath.Join(dir, packDirName)
	packtest.WritePack(t, packDir, "a")
	packtest.WritePack(t, packDir, "b")
	midxPath := filepath.Join(packDir, pack.MultiIndexName)
	packtest.WriteMultiIndex(t, midxPath, []string{"pack-a.idx", "pack-b.idx"})
	s := openTestStore(t, dir)

	m := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker
	require.Equal(t, 3, s.Metrics().KnownIndices)
	id := slotFor(t, s, midxPath)

	_, err := s.LoadPack(m, PackID{Index: 0, MultiPackIndex: &id})
	require.ErrorIs(t, err, ErrIndexNotLoaded)

	ok, err := s.LoadIndex(m, id)
	require.NoError(t, err)
	require.True(t, ok)

	snap := s.Snapshot()
	require.Len(t, snap.Indices, 1)
	multi := snap.Indices[0].Multi
	require.NotNil(t, multi)
	require.Equal(t, []string{"pack-a.idx", "pack-b.idx"}, multi.Index.PackNames())
	require.Equal(t, []*pack.DataFile{nil, nil}, multi.Data)

	data, err := s.LoadPack(m, PackID{Index: 1, MultiPackIndex: &id})
	require.NoError(t, err)
	require.Equal(t, filepath.Join(packDir, "pack-b.pack"), data.Path())

	snap = s.Snapshot()
	require.Nil(t, snap.Indices[0].Multi.Data[0])
	require.Same(t, data, snap.Indices[0].Multi.Data[1])
	got, ok := snap.Pack(PackID{Index: 1, MultiPackIndex: &id})
	require.True(t, ok)
	require.Same(t, data, got)

	_, err = s.LoadPack(m, PackID{Index: 5, MultiPackIndex: &id})
	require.ErrorIs(t, err, ErrUnknownIndex)
	_, err = s.LoadPack(m, PackID{Index: id})
	require.ErrorIs(t, err, ErrNotAPack)
}

func TestLoadIndexMissingFile(t *testing.T) {
	dir := newObjectsDir(t)
	idx := writePack(t, dir, "a", time.Now())
	s := openTestStore(t, dir)
	m := mustRefresh(t, s, Marker{}, RefreshNever).Snapshot.Marker
	id := slotFor(t, s, idx)

	require.NoError(t, os.Remove(idx))
	ok, err := s.LoadIndex(m, id)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, stateMissing, s.loadSlots()[id].files.Load().single.index.state)

	// The attempt counts as progress.
	require.NotEqual(t, m.StateID(), s.Marker().StateID())

	_, err = s.LoadIndex(m, 42)
	require.ErrorIs(t, err, ErrUnknownIndex)
}

func TestOpenInaccessible(t *testing.T) {
	p := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(p, nil, 0o644))
	_, err := Open(p)
	var ierr *InaccessibleError
	require.True(t, errors.As(err, &ierr), "got %v", err)
	require.Equal(t, p, ierr.Path)

	dir := newObjectsDir(t)
	s := openTestStore(t, dir)
	require.NoError(t, os.RemoveAll(dir))
	_, err = s.Refresh(Marker{}, RefreshNever)
	require.True(t, errors.As(err, &ierr), "got %v", err)
	require.Nil(t, s.index.Load().looseDBs, "nothing is published on failure")
}

func TestAlternates(t *testing.T) {
	root := t.TempDir()
	primary := filepath.Join(root, "repo", "objects")
	shared := filepath.Join(root, "shared", "objects")
	require.NoError(t, os.MkdirAll(primary, 0o755))
	sharedIdx := writePack(t, shared, "shared", time.Now().Add(-time.Hour))
	require.NoError(t, os.MkdirAll(filepath.Join(primary, "info"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(primary, alternate.FileName), []byte(shared+"\n"), 0o644))

	s := openTestStore(t, primary)
	out := mustRefresh(t, s, Marker{}, RefreshNever)
	require.Len(t, out.Snapshot.LooseDBs, 2)
	require.Equal(t, primary, out.Snapshot.LooseDBs[0].Path())
	require.Equal(t, shared, out.Snapshot.LooseDBs[1].Path())
	slotFor(t, s, sharedIdx)

	// An unchanged directory list shares the loose stores.
	local := writePack(t, primary, "local", time.Now())
	out2 := mustRefresh(t, s, out.Snapshot.Marker, RefreshAfterAllIndicesLoaded)
	require.NotNil(t, out2)
	require.True(t, out2.Stable)
	require.Same(t, &out.Snapshot.LooseDBs[0], &out2.Snapshot.LooseDBs[0])
	require.Equal(t, []IndexID{slotFor(t, s, local), slotFor(t, s, sharedIdx)}, s.index.Load().slotIndices)
}

func TestAlternatesErrorIsPropagated(t *testing.T) {
	dir := newObjectsDir(t)
	boom := &alternate.Error{Path: dir, Err: alternate.ErrCycle}
	s := openTestStore(t, dir, WithAlternatesResolver(func(string) ([]string, error) {
		return nil, boom
	}))
	_, err := s.Refresh(Marker{}, RefreshNever)
	require.Same(t, boom, err)
	require.Equal(t, 0, s.Metrics().NumRefreshes)
}

func TestScanPackDir(t *testing.T) {
	dir := t.TempDir()
	packtest.WriteIndex(t, filepath.Join(dir, "pack-a.idx"), 1)
	packtest.WriteMultiIndex(t, filepath.Join(dir, "multi-pack-index"), []string{"pack-a.idx"})
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack-a.pack"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "multi-pack-index.lock"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "dir.idx"), 0o755))

	found, err := scanPackDir(dir)
	require.NoError(t, err)
	var names []string
	for _, f := range found {
		names = append(names, filepath.Base(f.path))
	}
	require.ElementsMatch(t, []string{"pack-a.idx", "multi-pack-index"}, names)

	found, err = scanPackDir(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	require.Empty(t, found)
}

func TestHandlesAndCollector(t *testing.T) {
	dir := newObjectsDir(t)
	writePack(t, dir, "a", time.Now())
	s := openTestStore(t, dir)
	h1 := s.NewHandle(HandleUnstable)
	h2 := s.NewHandle(HandleStable)
	require.Equal(t, 2, s.Metrics().NumHandles)
	require.Equal(t, int64(1), s.numHandlesStable.Load())
	require.NoError(t, h1.Close())
	require.NoError(t, h2.Close())
	require.Equal(t, 0, s.Metrics().NumHandles)
	require.Equal(t, int64(0), s.numHandlesStable.Load())

	mustRefresh(t, s, Marker{}, RefreshNever)
	require.Equal(t, 8, testutil.CollectAndCount(NewCollector(s)))
}
