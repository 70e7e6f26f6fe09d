package lineset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Fetch copies the object at key in store to the local file dst.
//
// The object is written to a temporary file beside dst and renamed into
// place, so dst never holds a partial copy. Returns ErrNotFound if the key
// does not exist.
func Fetch(ctx context.Context, store Store, key, dst string) (err error) {
	rc, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("lineset: fetch %s: %w", key, err)
	}
	defer closer(rc)()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ioErr("mkdir", filepath.Dir(dst), err)
	}

	tmp := filepath.Join(filepath.Dir(dst), "."+filepath.Base(dst)+"."+uuid.NewString()+".tmp")
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return ioErr("create", tmp, err)
	}
	defer func() {
		if err != nil {
			_ = file.Close()
			_ = os.Remove(tmp)
		}
	}()

	if _, err := io.Copy(file, rc); err != nil {
		return ioErr("write", tmp, err)
	}
	if err := file.Sync(); err != nil {
		return ioErr("sync", tmp, err)
	}
	if err := file.Close(); err != nil {
		return ioErr("close", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return ioErr("rename", dst, err)
	}
	return nil
}

// Publish uploads the local file src to key in store.
// Returns ErrPathExists if the key already exists.
func Publish(ctx context.Context, store Store, key, src string) error {
	file, err := os.Open(src)
	if err != nil {
		return ioErr("open", src, err)
	}
	defer closer(file)()

	if err := store.Put(ctx, key, file); err != nil {
		return fmt.Errorf("lineset: publish %s: %w", key, err)
	}
	return nil
}
