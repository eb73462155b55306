package pack

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"golang.org/x/exp/mmap"
)

// DataFile is a memory-mapped pack data file (.pack).
type DataFile struct {
	path       string
	r          *mmap.ReaderAt
	version    uint32
	numObjects uint32
}

// OpenData maps the pack data file at path. A missing file yields an error
// matching fs.ErrNotExist.
func OpenData(path string) (*DataFile, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open pack data %s", path)
	}
	var head [dataHeaderSize]byte
	if _, err := r.ReadAt(head[:], 0); err != nil {
		_ = r.Close()
		return nil, formatErr(path, "short header: %v", err)
	}
	if [4]byte(head[:4]) != dataMagic {
		_ = r.Close()
		return nil, formatErr(path, "bad signature %q", head[:4])
	}
	f := &DataFile{
		path:       path,
		r:          r,
		version:    binary.BigEndian.Uint32(head[4:8]),
		numObjects: binary.BigEndian.Uint32(head[8:12]),
	}
	if f.version != 2 && f.version != 3 {
		_ = r.Close()
		return nil, errors.Wrapf(ErrUnsupportedVersion, "pack data %s has version %d", path, f.version)
	}
	return f, nil
}

func (f *DataFile) Path() string       { return f.path }
func (f *DataFile) Version() uint32    { return f.version }
func (f *DataFile) NumObjects() uint32 { return f.numObjects }
func (f *DataFile) Len() int           { return f.r.Len() }
func (f *DataFile) Close() error       { return f.r.Close() }
