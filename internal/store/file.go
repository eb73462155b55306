package store

import (
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

type fileState uint8

const (
	// stateUnloaded means the file is on disk and may be mapped.
	stateUnloaded fileState = iota
	stateLoaded
	// stateGarbage means the file was mapped but vanished from disk during a
	// rescan while stable handles were alive, so the mapping is retained.
	stateGarbage
	// stateMissing means a load found no file, or it vanished before being mapped.
	stateMissing
)

func (s fileState) String() string {
	switch s {
	case stateUnloaded:
		return "unloaded"
	case stateLoaded:
		return "loaded"
	case stateGarbage:
		return "garbage"
	case stateMissing:
		return "missing"
	}
	return "invalid"
}

// onDiskFile is a lazily mapped file. Values are copied on write by the owning
// slot, so a value handed out is never mutated afterwards.
type onDiskFile[T any] struct {
	path  string
	state fileState
	value T
}

func newOnDiskFile[T any](path string) onDiskFile[T] {
	return onDiskFile[T]{path: path}
}

// isLoaded returns true if the file is mapped, including garbage files.
func (f *onDiskFile[T]) isLoaded() bool {
	return f.state == stateLoaded || f.state == stateGarbage
}

// isAttempted returns true once a load settled the file either way.
func (f *onDiskFile[T]) isAttempted() bool {
	return f.state != stateUnloaded
}

func (f *onDiskFile[T]) loaded() (T, bool) {
	if f.isLoaded() {
		return f.value, true
	}
	var zero T
	return zero, false
}

// load maps the file using open. It must not be called on a loaded file;
// callers check isLoaded first. A missing file is not an error: the state
// becomes stateMissing and ok is false. Any other error leaves the state
// untouched so a later caller may retry.
func (f *onDiskFile[T]) load(open func(path string) (T, error)) (value T, ok bool, err error) {
	switch f.state {
	case stateLoaded, stateGarbage:
		panic("BUG: load called on already loaded file " + f.path)
	case stateMissing:
		return value, false, nil
	}
	v, err := open(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			f.state = stateMissing
			return value, false, nil
		}
		return value, false, err
	}
	f.state = stateLoaded
	f.value = v
	return v, true, nil
}

// retire is applied when the file disappeared from disk: a mapped file is
// kept as garbage, an unmapped one can no longer be loaded.
func (f *onDiskFile[T]) retire() {
	switch f.state {
	case stateLoaded:
		f.state = stateGarbage
	case stateUnloaded:
		f.state = stateMissing
	}
}

/*
Checks that path exists and is a directory. A missing path is reported as
(false, nil); other stat failures are returned.
*/
func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		return info.IsDir(), nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "stat %s", path)
}
