package lineset

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactories yields a fresh instance of every built-in Store.
func storeFactories(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"fs": func() Store {
			store, err := NewFS(t.TempDir())
			require.NoError(t, err)
			return store
		},
		"memory": NewMemory,
	}
}

func readAll(t *testing.T, store Store, key string) string {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

// -----------------------------------------------------------------------------
// Put / Get
// -----------------------------------------------------------------------------

func TestStore_PutGet(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			require.NoError(t, store.Put(ctx, "corpora/seqs.txt", bytes.NewReader([]byte("A\nB\n"))))
			assert.Equal(t, "A\nB\n", readAll(t, store, "corpora/seqs.txt"))
		})
	}
}

func TestStore_Put_ErrPathExists(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			require.NoError(t, store.Put(ctx, "seqs.txt", bytes.NewReader([]byte("first"))))
			err := store.Put(ctx, "seqs.txt", bytes.NewReader([]byte("second")))

			assert.ErrorIs(t, err, ErrPathExists)
			assert.Equal(t, "first", readAll(t, store, "seqs.txt"))
		})
	}
}

func TestStore_Get_NotFound(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := newStore().Get(context.Background(), "missing.txt")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

// -----------------------------------------------------------------------------
// Exists / Delete
// -----------------------------------------------------------------------------

func TestStore_ExistsDelete(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			exists, err := store.Exists(ctx, "seqs.txt")
			require.NoError(t, err)
			assert.False(t, exists)

			require.NoError(t, store.Put(ctx, "seqs.txt", bytes.NewReader(nil)))
			exists, err = store.Exists(ctx, "seqs.txt")
			require.NoError(t, err)
			assert.True(t, exists)

			require.NoError(t, store.Delete(ctx, "seqs.txt"))
			exists, err = store.Exists(ctx, "seqs.txt")
			require.NoError(t, err)
			assert.False(t, exists)

			// Deleting a missing key is not an error.
			assert.NoError(t, store.Delete(ctx, "seqs.txt"))
		})
	}
}

// -----------------------------------------------------------------------------
// List
// -----------------------------------------------------------------------------

func TestStore_List(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()
			for _, key := range []string{"epoch-1/seqs.txt", "epoch-2/seqs.txt", "raw.txt"} {
				require.NoError(t, store.Put(ctx, key, bytes.NewReader([]byte(key))))
			}

			all, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"epoch-1/seqs.txt", "epoch-2/seqs.txt", "raw.txt"}, all)

			epoch, err := store.List(ctx, "epoch-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"epoch-1/seqs.txt"}, epoch)

			none, err := store.List(ctx, "epoch-9")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

// -----------------------------------------------------------------------------
// Path safety
// -----------------------------------------------------------------------------

func TestStore_RejectsEscapingPaths(t *testing.T) {
	for name, newStore := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore()

			for _, key := range []string{"", ".", "..", "../outside.txt", "a/../../outside.txt"} {
				err := store.Put(ctx, key, bytes.NewReader(nil))
				assert.ErrorIs(t, err, ErrInvalidPath, "Put(%q)", key)

				_, err = store.Get(ctx, key)
				assert.ErrorIs(t, err, ErrInvalidPath, "Get(%q)", key)

				_, err = store.Exists(ctx, key)
				assert.ErrorIs(t, err, ErrInvalidPath, "Exists(%q)", key)

				assert.ErrorIs(t, store.Delete(ctx, key), ErrInvalidPath, "Delete(%q)", key)
			}

			_, err := store.List(ctx, "../")
			assert.ErrorIs(t, err, ErrInvalidPath)
		})
	}
}

func TestFSStore_Resolve(t *testing.T) {
	root := t.TempDir()
	store := &fsStore{root: root}

	tests := []struct {
		path    string
		want    string
		wantErr bool
	}{
		{path: "seqs.txt", want: filepath.Join(root, "seqs.txt")},
		{path: "a/b/../seqs.txt", want: filepath.Join(root, "a", "seqs.txt")},
		{path: "./seqs.txt", want: filepath.Join(root, "seqs.txt")},
		{path: "..foo/seqs.txt", want: filepath.Join(root, "..foo", "seqs.txt")},
		{path: "/etc/passwd", wantErr: true},
		{path: "../seqs.txt", wantErr: true},
		{path: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := store.resolve(tt.path, false)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPath, tt.path)
			continue
		}
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}
}

func TestFSStore_PutLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store, err := NewFS(root)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "seqs.txt", bytes.NewReader([]byte("A\n"))))
	assert.ErrorIs(t, store.Put(ctx, "seqs.txt", bytes.NewReader([]byte("B\n"))), ErrPathExists)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "seqs.txt", entries[0].Name())
}

func TestMemoryStore_ListMatchesDirectories(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()
	for _, key := range []string{"epoch-1/seqs.txt", "epoch-10/seqs.txt"} {
		require.NoError(t, store.Put(ctx, key, bytes.NewReader(nil)))
	}

	keys, err := store.List(ctx, "epoch-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"epoch-1/seqs.txt"}, keys)
}

func TestNewFS_RequiresDirectory(t *testing.T) {
	_, err := NewFS(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewFS(file)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanKey(t *testing.T) {
	tests := []struct {
		key       string
		allowRoot bool
		want      string
		wantErr   bool
	}{
		{key: "seqs.txt", want: "seqs.txt"},
		{key: "/seqs.txt", want: "seqs.txt"},
		{key: "a//b/./seqs.txt", want: "a/b/seqs.txt"},
		{key: "a/b/../seqs.txt", want: "a/seqs.txt"},
		{key: "..foo", want: "..foo"},
		{key: "", wantErr: true},
		{key: ".", wantErr: true},
		{key: "", allowRoot: true, want: ""},
		{key: "/", allowRoot: true, want: ""},
		{key: "epoch-1/", allowRoot: true, want: "epoch-1"},
		{key: "..", wantErr: true},
		{key: "../seqs.txt", wantErr: true},
		{key: "a/../../seqs.txt", wantErr: true},
		{key: "../", allowRoot: true, wantErr: true},
	}
	for _, tt := range tests {
		got, err := cleanKey(tt.key, tt.allowRoot)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidPath, tt.key)
			continue
		}
		require.NoError(t, err, tt.key)
		assert.Equal(t, tt.want, got, tt.key)
	}
}
