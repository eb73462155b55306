// Package alternate resolves the chain of objects directories listed in
// objects/info/alternates files.
package alternate

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrCycle is returned when following alternates leads back to a directory
// already visited.
var ErrCycle = errors.New("alternates form a cycle")

// Error ties a resolution failure to the alternates file or directory it
// occurred at.
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("resolve alternates at %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// FileName is the location of the alternates file relative to an objects directory.
var FileName = filepath.Join("info", "alternates")

// Resolve returns every objects directory reachable through alternates
// files starting at objectsDir, in the order git would search them. The
// starting directory itself is not included.
func Resolve(objectsDir string) ([]string, error) {
	start := filepath.Clean(objectsDir)
	seen := map[string]bool{start: true}
	var out []string
	if err := resolveInto(start, seen, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func resolveInto(dir string, seen map[string]bool, out *[]string) error {
	p := filepath.Join(dir, FileName)
	content, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(&Error{Path: p, Err: err})
	}
	dirs, err := Parse(content, dir)
	if err != nil {
		return errors.WithStack(&Error{Path: p, Err: err})
	}
	for _, alt := range dirs {
		if seen[alt] {
			return errors.WithStack(&Error{Path: alt, Err: ErrCycle})
		}
		seen[alt] = true
		*out = append(*out, alt)
		if err := resolveInto(alt, seen, out); err != nil {
			return err
		}
	}
	return nil
}

// Parse reads the contents of an alternates file. Blank lines and lines
// starting with '#' are skipped, double-quoted lines are unquoted using Go
// escape rules, and relative entries are resolved against base.
func Parse(content []byte, base string) ([]string, error) {
	var dirs []string
	sc := bufio.NewScanner(bytes.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, `"`) {
			unquoted, err := strconv.Unquote(line)
			if err != nil {
				return nil, errors.Wrapf(err, "unquote %s", line)
			}
			line = unquoted
		}
		if !filepath.IsAbs(line) {
			line = filepath.Join(base, line)
		}
		dirs = append(dirs, filepath.Clean(line))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WithStack(err)
	}
	return dirs, nil
}
