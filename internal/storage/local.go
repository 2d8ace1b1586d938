package storage

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// LocalStore keeps objects as files. Keys are filesystem paths.
type LocalStore struct{}

// NewLocalStore returns a filesystem backed Store.
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

func (s *LocalStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotExist, "open %s", key)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", key)
	}
	return f, nil
}

// Put writes through a temp file in the target directory and renames it
// into place, so readers never see a half written object.
func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ map[string]string) error {
	dir := filepath.Dir(key)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(key)+"-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to write %s", key)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to close %s", key)
	}
	if err := os.Rename(tmp.Name(), key); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "failed to move %s into place", key)
	}
	return nil
}

// List walks prefix when it is a directory. A missing prefix lists nothing.
func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	info, err := os.Stat(prefix)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", prefix)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var keys []string
	err = filepath.WalkDir(prefix, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			keys = append(keys, p)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list %s", prefix)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := os.Remove(key); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "failed to delete %s", key)
	}
	return nil
}

func (s *LocalStore) URI(key string) string {
	return key
}
