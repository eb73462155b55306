package store

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/parr0tr1ver/gitoxide/internal/pack"
)

// indexFile is an index discovered on disk.
type indexFile struct {
	path    string
	modTime time.Time
}

// isIndexName reports whether name is a pack index or a multi-pack-index.
func isIndexName(name string) bool {
	ext := filepath.Ext(name)
	return ext == pack.IndexExt || (ext == "" && name == pack.MultiIndexName)
}

// scanPackDir lists the index files of one pack directory. A missing
// directory holds no indices; files vanishing between listing and stat are skipped.
func scanPackDir(dir string) ([]indexFile, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "read pack directory %s", dir)
	}
	var found []indexFile
	for _, ent := range ents {
		if !isIndexName(ent.Name()) {
			continue
		}
		info, err := ent.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errors.Wrapf(err, "stat %s", filepath.Join(dir, ent.Name()))
		}
		if !info.Mode().IsRegular() {
			continue
		}
		found = append(found, indexFile{path: filepath.Join(dir, ent.Name()), modTime: info.ModTime()})
	}
	return found, nil
}

// scanObjectDirs scans the pack directory of every objects directory in
// parallel and returns all indices, most recently modified first. Ties keep
// directory order, then name order.
func scanObjectDirs(dirs []string) ([]indexFile, error) {
	perDir := make([][]indexFile, len(dirs))
	var eg errgroup.Group
	for i, dir := range dirs {
		eg.Go(func() error {
			found, err := scanPackDir(filepath.Join(dir, packDirName))
			perDir[i] = found
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	var all []indexFile
	for _, found := range perDir {
		all = append(all, found...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].modTime.After(all[j].modTime)
	})
	return all, nil
}
