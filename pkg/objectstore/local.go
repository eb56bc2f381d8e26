package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/atbu-go/atbu/pkg/atbuerr"
)

// LocalStore implements Interface over a plain directory tree: the
// "local-filesystem" interface_kind of spec.md §3, where the container is
// simply a directory and objects are files named by their opaque object
// name. This is the one backend this repository ships; remote backends are
// external collaborators per spec.md §1.
type LocalStore struct {
	root string
}

// NewLocalStore binds a LocalStore to root, which need not exist yet.
func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// ContainerExists reports whether the root directory exists.
func (s *LocalStore) ContainerExists(_ context.Context) (bool, error) {
	info, err := os.Stat(s.root)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

// CreateContainer creates the root directory if it doesn't already exist.
func (s *LocalStore) CreateContainer(ctx context.Context) error {
	exists, err := s.ContainerExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return atbuerr.Sentinel(atbuerr.ContainerAlreadyExists)
	}
	return os.MkdirAll(s.root, 0700)
}

// ListObjects returns object names under root whose relative path starts
// with prefix, sorted lexicographically for deterministic iteration.
func (s *LocalStore) ListObjects(_ context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			names = append(names, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// GetObject opens the named file for reading.
func (s *LocalStore) GetObject(_ context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return nil, err
	}
	return f, nil
}

// PutObject writes r to the named file, creating parent directories as
// needed. chunkSize is accepted for interface parity but unused: the local
// filesystem has no multipart-upload size constraint.
func (s *LocalStore) PutObject(_ context.Context, name string, r io.Reader, _ int) error {
	dest := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return err
	}
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

// DeleteObject removes the named file; a missing file is not an error.
func (s *LocalStore) DeleteObject(_ context.Context, name string) error {
	err := os.Remove(s.path(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
