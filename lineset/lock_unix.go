//go:build unix

package lineset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// lockScratch takes an exclusive advisory lock on a companion file in dir so
// that two shuffles never write the same shard files. It does not wait: a
// held lock yields ErrConflict. The returned function releases the lock and
// closes the file; the file itself stays for the next holder.
func lockScratch(dir string) (func(), error) {
	lockPath := filepath.Join(dir, scratchLockName)
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, ioErr("open", lockPath, err)
	}

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("lineset: scratch directory %s is in use: %w", dir, ErrConflict)
		}
		return nil, ioErr("flock", lockPath, err)
	}

	return func() {
		_ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN)
		_ = lockFile.Close()
	}, nil
}
