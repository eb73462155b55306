// Package pack opens the on-disk files that make up a git pack directory:
// pack indices, pack data files and the multi-pack-index. Files are memory
// mapped and only their headers are validated; object decoding lives elsewhere.
package pack

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// IndexFile is a memory-mapped pack index (.idx).
type IndexFile struct {
	path       string
	r          *mmap.ReaderAt
	version    uint32
	numObjects uint32
}

// OpenIndex maps the pack index at path. A missing file yields an error
// matching fs.ErrNotExist.
func OpenIndex(path string) (*IndexFile, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open pack index %s", path)
	}
	f := &IndexFile{path: path, r: r}
	if err := f.readHeader(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return f, nil
}

func (f *IndexFile) readHeader() error {
	var head [indexV2HeaderSize]byte
	if _, err := f.r.ReadAt(head[:], 0); err != nil {
		return formatErr(f.path, "short header: %v", err)
	}
	fanoutStart := int64(0)
	f.version = 1
	if [4]byte(head[:4]) == indexV2Magic {
		f.version = binary.BigEndian.Uint32(head[4:8])
		if f.version != 2 {
			return errors.Wrapf(ErrUnsupportedVersion, "pack index %s has version %d", f.path, f.version)
		}
		fanoutStart = indexV2HeaderSize
	}
	if int64(f.r.Len()) < fanoutStart+fanoutSize {
		return formatErr(f.path, "fan-out table truncated at %d bytes", f.r.Len())
	}
	var last [4]byte
	if _, err := f.r.ReadAt(last[:], fanoutStart+fanoutSize-4); err != nil {
		return formatErr(f.path, "read fan-out: %v", err)
	}
	f.numObjects = binary.BigEndian.Uint32(last[:])
	return nil
}

// Path returns the location the index was mapped from.
func (f *IndexFile) Path() string { return f.path }

// Version returns the index format version, 1 or 2.
func (f *IndexFile) Version() uint32 { return f.version }

// NumObjects returns the number of objects the index describes.
func (f *IndexFile) NumObjects() uint32 { return f.numObjects }

// Len returns the mapped size in bytes.
func (f *IndexFile) Len() int { return f.r.Len() }

// Close unmaps the file. It must only be called once no reader holds f.
func (f *IndexFile) Close() error { return f.r.Close() }
