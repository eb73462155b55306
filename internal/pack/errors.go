package pack

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupportedVersion is returned when a file carries a version this package cannot map.
var ErrUnsupportedVersion = errors.New("unsupported file version")

// FormatError reports a file whose header does not match its expected layout.
type FormatError struct {
	Path   string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed file %s: %s", e.Path, e.Reason)
}

func formatErr(path, format string, args ...any) error {
	return errors.WithStack(&FormatError{Path: path, Reason: fmt.Sprintf(format, args...)})
}
