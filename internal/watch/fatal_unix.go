//go:build !windows

package watch

import (
	"syscall"

	"github.com/pkg/errors"
)

// isFatalFsnotifyError reports inotify resource exhaustion, after which no
// further events will be delivered.
func isFatalFsnotifyError(err error) bool {
	return errors.Is(err, syscall.ENOSPC) ||
		errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE)
}
