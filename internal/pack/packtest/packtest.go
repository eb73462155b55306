// Package packtest writes minimal but well-formed pack directory files for tests.
package packtest

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// WriteIndex writes a version 2 pack index claiming numObjects objects.
func WriteIndex(t testing.TB, path string, numObjects uint32) {
	t.Helper()
	buf := []byte{0xff, 't', 'O', 'c', 0, 0, 0, 2}
	for i := 0; i < 256; i++ {
		buf = binary.BigEndian.AppendUint32(buf, numObjects)
	}
	buf = append(buf, make([]byte, 40)...)
	write(t, path, buf)
}

// WriteData writes a version 2 pack data header claiming numObjects objects.
func WriteData(t testing.TB, path string, numObjects uint32) {
	t.Helper()
	buf := []byte{'P', 'A', 'C', 'K', 0, 0, 0, 2}
	buf = binary.BigEndian.AppendUint32(buf, numObjects)
	buf = append(buf, make([]byte, 20)...)
	write(t, path, buf)
}

// WritePack writes both the index and data file for a pack named
// pack-<name> inside packDir and returns the index path.
func WritePack(t testing.TB, packDir, name string) string {
	t.Helper()
	idx := filepath.Join(packDir, "pack-"+name+".idx")
	WriteIndex(t, idx, 1)
	WriteData(t, filepath.Join(packDir, "pack-"+name+".pack"), 1)
	return idx
}

// WriteMultiIndex writes a SHA-1 multi-pack-index whose PNAM chunk lists packNames.
func WriteMultiIndex(t testing.TB, path string, packNames []string) {
	t.Helper()
	var pnam []byte
	for _, name := range packNames {
		pnam = append(pnam, name...)
		pnam = append(pnam, 0)
	}
	for len(pnam)%4 != 0 {
		pnam = append(pnam, 0)
	}
	const numChunks = 1
	buf := []byte{'M', 'I', 'D', 'X', 1, 1, numChunks, 0}
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(packNames)))
	start := uint64(12 + (numChunks+1)*12)
	buf = append(buf, 'P', 'N', 'A', 'M')
	buf = binary.BigEndian.AppendUint64(buf, start)
	buf = append(buf, 0, 0, 0, 0)
	buf = binary.BigEndian.AppendUint64(buf, start+uint64(len(pnam)))
	buf = append(buf, pnam...)
	write(t, path, buf)
}

// Touch sets both access and modification time of path.
func Touch(t testing.TB, path string, mtime time.Time) {
	t.Helper()
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes %s: %v", path, err)
	}
}

func write(t testing.TB, path string, buf []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
