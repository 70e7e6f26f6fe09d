//go:build unix

package lineset

import (
	"context"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/lineset/internal/testutil"
)

func TestLockScratch_Exclusive(t *testing.T) {
	dir := t.TempDir()

	unlock, err := lockScratch(dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, scratchLockName))

	_, err = lockScratch(dir)
	assert.ErrorIs(t, err, ErrConflict)

	unlock()
	assert.FileExists(t, filepath.Join(dir, scratchLockName))

	unlock, err = lockScratch(dir)
	require.NoError(t, err)
	unlock()
}

func TestLockScratch_UnlockKeepsInodeForWaitingContender(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, scratchLockName)

	unlock, err := lockScratch(dir)
	require.NoError(t, err)

	// A contender that opened the lock file before release takes it next.
	contender, err := os.Open(lockPath)
	require.NoError(t, err)
	defer func() { _ = contender.Close() }()
	unlock()
	require.NoError(t, syscall.Flock(int(contender.Fd()), syscall.LOCK_EX|syscall.LOCK_NB))

	_, err = lockScratch(dir)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, syscall.Flock(int(contender.Fd()), syscall.LOCK_UN))
	unlock, err = lockScratch(dir)
	require.NoError(t, err)
	unlock()
}

func TestShuffle_ScratchDirInUse(t *testing.T) {
	dir := t.TempDir()
	scratch := filepath.Join(dir, "shard_tmp")
	path := testutil.WriteLines(t, dir, "seqs.txt", []string{"A", "B"})
	s, err := Open(path, quiet())
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	require.NoError(t, os.MkdirAll(scratch, 0o755))
	unlock, err := lockScratch(scratch)
	require.NoError(t, err)
	defer unlock()

	_, err = Shuffle(context.Background(), s, WithScratchDir(scratch), WithShards(2))

	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, path, s.Path())
	assert.NoFileExists(t, ShuffledPath(path))
	assert.DirExists(t, scratch)
}
