package store

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrGenerationChanged is returned when a marker belongs to a retired generation.
// The caller must refresh and discard every IndexID and PackID it holds.
var ErrGenerationChanged = errors.New("marker belongs to a retired generation")

// ErrUnknownIndex is returned for an IndexID that was never assigned.
var ErrUnknownIndex = errors.New("unknown index id")

// ErrIndexNotLoaded is returned when a pack inside a multi-pack-index is
// requested before the multi-pack-index itself was loaded.
var ErrIndexNotLoaded = errors.New("multi-pack-index not loaded")

// ErrNotAPack is returned when a PackID does not match the kind of index in its slot.
var ErrNotAPack = errors.New("pack id does not match the index kind")

// ErrHandleClosed is returned when a handle is closed twice.
var ErrHandleClosed = errors.New("handle already closed")

// InaccessibleError is returned when the objects directory cannot be used as a directory.
type InaccessibleError struct {
	Path string
}

func (e *InaccessibleError) Error() string {
	return fmt.Sprintf("the objects directory at %q is not an accessible directory", e.Path)
}
