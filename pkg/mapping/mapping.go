// Package mapping exposes a directory of an HDFS cluster as a flat key/value
// store. Every key is a file directly below the root directory and its value
// is the content of that file.
package mapping

import (
	"context"
	"path"
	"slices"
	"strings"

	"github.com/marmos91/dittohdfs/internal/logger"
	"github.com/marmos91/dittohdfs/pkg/fserror"
	"github.com/marmos91/dittohdfs/pkg/hdfs"
	"github.com/marmos91/dittohdfs/pkg/metadata"
)

// Map is a key/value view of the directory Root.
//
// Values are written and read whole: Put opens, writes and closes the file,
// Get opens, reads and closes it. Map holds no state besides the root, so it
// is safe for concurrent use as far as the FileSystem is.
type Map struct {
	fs   *hdfs.FileSystem
	root string
}

// New returns the Map rooted at root, creating the directory when it does not
// exist.
func New(ctx context.Context, fsys *hdfs.FileSystem, root string) (*Map, error) {
	cleaned, err := metadata.CleanPath(root)
	if err != nil {
		return nil, err
	}
	if err := fsys.MkdirAll(ctx, cleaned, 0o755); err != nil {
		return nil, err
	}
	return &Map{fs: fsys, root: cleaned}, nil
}

// Root returns the directory holding the values.
func (m *Map) Root() string {
	return m.root
}

func (m *Map) path(op, key string) (string, error) {
	switch {
	case key == "":
		return "", fserror.Argument(op, "empty key")
	case strings.Contains(key, "/"):
		return "", fserror.Argument(op, "key %q contains '/'", key)
	case key == "." || key == "..":
		return "", fserror.Argument(op, "invalid key %q", key)
	}
	return path.Join(m.root, key), nil
}

// Get returns the value of key. A missing key is a NotFound error.
func (m *Map) Get(ctx context.Context, key string) ([]byte, error) {
	p, err := m.path("get", key)
	if err != nil {
		return nil, err
	}
	return m.fs.ReadFile(ctx, p)
}

// Put stores value under key, replacing the previous value.
func (m *Map) Put(ctx context.Context, key string, value []byte) error {
	p, err := m.path("put", key)
	if err != nil {
		return err
	}
	return m.fs.WriteFile(ctx, p, value, hdfs.OpenOptions{})
}

// Delete removes key. A missing key is a NotFound error.
func (m *Map) Delete(ctx context.Context, key string) error {
	p, err := m.path("delete", key)
	if err != nil {
		return err
	}
	return m.fs.Delete(ctx, p, false)
}

// Has reports whether key is set.
func (m *Map) Has(ctx context.Context, key string) (bool, error) {
	p, err := m.path("has", key)
	if err != nil {
		return false, err
	}
	return m.fs.Exists(ctx, p)
}

// Keys returns the keys in lexical order. Files in subdirectories created
// behind the Map's back are listed by their path relative to the root.
func (m *Map) Keys(ctx context.Context) ([]string, error) {
	prefix := strings.TrimSuffix(m.root, "/") + "/"
	var keys []string
	err := m.fs.Walk(ctx, m.root, func(info *metadata.PathInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		keys = append(keys, strings.TrimPrefix(info.Name, prefix))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

// Len returns the number of keys.
func (m *Map) Len(ctx context.Context) (int, error) {
	keys, err := m.Keys(ctx)
	return len(keys), err
}

// Clear removes every key.
func (m *Map) Clear(ctx context.Context) error {
	err := m.fs.Delete(ctx, m.root, true)
	if err != nil && fserror.KindOf(err) != fserror.KindNotFound {
		return err
	}
	logger.Debug("Cleared mapping at %s", m.root)
	return m.fs.MkdirAll(ctx, m.root, 0o755)
}
