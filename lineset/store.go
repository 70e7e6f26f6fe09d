package lineset

import (
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// ErrInvalidPath indicates a key that is empty or would escape the store root.
var ErrInvalidPath = errors.New("invalid path: escapes storage root")

// putTempPrefix marks in-flight fs uploads; List skips them.
const putTempPrefix = ".lineset-put-"

// cleanKey normalizes a slash-separated store key. An empty or root key is
// accepted only when allowRoot is set, for List prefixes.
func cleanKey(key string, allowRoot bool) (string, error) {
	slashed := filepath.ToSlash(key)
	if escapes(slashed) {
		return "", ErrInvalidPath
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+slashed), "/")
	if cleaned == "" && !allowRoot {
		return "", ErrInvalidPath
	}
	return cleaned, nil
}

// escapes reports whether a relative key climbs above its root.
func escapes(key string) bool {
	depth := 0
	for _, part := range strings.Split(key, "/") {
		switch part {
		case "", ".":
		case "..":
			depth--
			if depth < 0 {
				return true
			}
		default:
			depth++
		}
	}
	return false
}

// -----------------------------------------------------------------------------
// Filesystem Store
// -----------------------------------------------------------------------------

// fsStore implements Store on a local directory tree.
type fsStore struct {
	root string
}

// NewFS creates a filesystem-backed Store rooted at the given directory.
// The directory must exist.
//
// Put is create-only and atomic: data is written to a hidden temporary file
// and hard-linked into place, so readers never observe a partial object.
func NewFS(root string) (Store, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, os.ErrNotExist
	}
	return &fsStore{root: root}, nil
}

func (f *fsStore) resolve(key string, allowRoot bool) (string, error) {
	if filepath.IsAbs(key) {
		return "", ErrInvalidPath
	}
	cleaned, err := cleanKey(key, allowRoot)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}

func (f *fsStore) Put(_ context.Context, key string, r io.Reader) (err error) {
	full, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, putTempPrefix+"*")
	if err != nil {
		return err
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := os.Link(tmp.Name(), full); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrPathExists
		}
		return err
	}
	return nil
}

func (f *fsStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	full, err := f.resolve(key, false)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (f *fsStore) Exists(_ context.Context, key string) (bool, error) {
	full, err := f.resolve(key, false)
	if err != nil {
		return false, err
	}
	switch _, err := os.Stat(full); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

func (f *fsStore) List(_ context.Context, prefix string) ([]string, error) {
	start, err := f.resolve(prefix, true)
	if err != nil {
		return nil, err
	}

	var keys []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), putTempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(rel))
		return nil
	})
	return keys, err
}

func (f *fsStore) Delete(_ context.Context, key string) error {
	full, err := f.resolve(key, false)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------
// Memory Store
// -----------------------------------------------------------------------------

// memoryStore implements Store with an in-process map.
type memoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an in-memory Store. It is safe for concurrent use.
func NewMemory() Store {
	return &memoryStore{objects: make(map[string][]byte)}
}

func (m *memoryStore) Put(_ context.Context, key string, r io.Reader) error {
	k, err := cleanKey(key, false)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[k]; ok {
		return ErrPathExists
	}
	m.objects[k] = data
	return nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	k, err := cleanKey(key, false)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	data, ok := m.objects[k]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	k, err := cleanKey(key, false)
	if err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.objects[k]
	return ok, nil
}

// List matches keys under prefix as a directory: "epoch-1" lists
// "epoch-1/..." but not "epoch-10/...".
func (m *memoryStore) List(_ context.Context, prefix string) ([]string, error) {
	p, err := cleanKey(prefix, true)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.objects {
		if p == "" || k == p || strings.HasPrefix(k, p+"/") {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	k, err := cleanKey(key, false)
	if err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.objects, k)
	m.mu.Unlock()
	return nil
}
