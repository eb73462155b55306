package pack

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// MultiIndexFile is a memory-mapped multi-pack-index.
type MultiIndexFile struct {
	path      string
	r         *mmap.ReaderAt
	hashLen   int
	packNames []string
}

// OpenMultiIndex maps the multi-pack-index at path and reads the names of
// the packs it covers from its PNAM chunk.
func OpenMultiIndex(path string) (*MultiIndexFile, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open multi-pack-index %s", path)
	}
	f := &MultiIndexFile{path: path, r: r}
	if err := f.readHeader(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return f, nil
}

func (f *MultiIndexFile) readHeader() error {
	var head [midxHeaderSize]byte
	if _, err := f.r.ReadAt(head[:], 0); err != nil {
		return formatErr(f.path, "short header: %v", err)
	}
	if [4]byte(head[:4]) != midxMagic {
		return formatErr(f.path, "bad signature %q", head[:4])
	}
	if head[4] != 1 {
		return errors.Wrapf(ErrUnsupportedVersion, "multi-pack-index %s has version %d", f.path, head[4])
	}
	switch head[5] {
	case 1:
		f.hashLen = hashLenSHA1
	case 2:
		f.hashLen = hashLenSHA256
	default:
		return formatErr(f.path, "unknown object hash %d", head[5])
	}
	numChunks := int(head[6])
	numPacks := int(binary.BigEndian.Uint32(head[8:12]))

	table := make([]byte, (numChunks+1)*midxChunkRowSize)
	if _, err := f.r.ReadAt(table, midxHeaderSize); err != nil {
		return formatErr(f.path, "chunk table truncated: %v", err)
	}
	for i := 0; i < numChunks; i++ {
		row := table[i*midxChunkRowSize:]
		if [4]byte(row[:4]) != chunkPNAM {
			continue
		}
		start := int64(binary.BigEndian.Uint64(row[4:12]))
		end := int64(binary.BigEndian.Uint64(table[(i+1)*midxChunkRowSize+4:]))
		if start < 0 || end < start || end > int64(f.r.Len()) {
			return formatErr(f.path, "PNAM chunk out of bounds [%d, %d)", start, end)
		}
		names, err := f.readPackNames(start, end, numPacks)
		if err != nil {
			return err
		}
		f.packNames = names
		return nil
	}
	return formatErr(f.path, "missing PNAM chunk")
}

func (f *MultiIndexFile) readPackNames(start, end int64, numPacks int) ([]string, error) {
	buf := make([]byte, end-start)
	if _, err := f.r.ReadAt(buf, start); err != nil {
		return nil, formatErr(f.path, "read PNAM: %v", err)
	}
	names := make([]string, 0, numPacks)
	for _, raw := range bytes.Split(buf, []byte{0}) {
		if len(raw) == 0 {
			continue
		}
		names = append(names, string(raw))
	}
	if len(names) != numPacks {
		return nil, formatErr(f.path, "PNAM lists %d packs, header says %d", len(names), numPacks)
	}
	return names, nil
}

func (f *MultiIndexFile) Path() string { return f.path }

// HashLen returns the object id length in bytes.
func (f *MultiIndexFile) HashLen() int { return f.hashLen }

// PackNames returns the index file names of the covered packs in the
// multi-pack-index's own order.
func (f *MultiIndexFile) PackNames() []string { return f.packNames }

// DataPaths returns the pack data file paths for PackNames, resolved against
// the directory holding the multi-pack-index.
func (f *MultiIndexFile) DataPaths() []string {
	dir := filepath.Dir(f.path)
	paths := make([]string, len(f.packNames))
	for i, name := range f.packNames {
		paths[i] = filepath.Join(dir, DataPathName(name))
	}
	return paths
}

func (f *MultiIndexFile) Len() int     { return f.r.Len() }
func (f *MultiIndexFile) Close() error { return f.r.Close() }

// DataPathName turns a pack index name or path into its data file counterpart
// by replacing the .idx extension with .pack.
func DataPathName(indexName string) string {
	return strings.TrimSuffix(indexName, IndexExt) + DataExt
}
