// Package lineset streams line-oriented record files as sequential datasets
// and shuffles them on disk with bounded memory.
//
// A record is one line of text. Lineset never indexes records in memory:
// a Stream is a cursor over its backing file, and Shuffle rewrites the file
// through temporary shard files so that only one shard is held in memory at
// a time.
package lineset

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// -----------------------------------------------------------------------------
// Progress observer
// -----------------------------------------------------------------------------

// Progress is a discrete progress tick.
type Progress struct {
	// Label describes the running phase (for example, "counting lines in data.txt").
	Label string

	// Current is the number of items processed so far.
	Current int64

	// Total is the number of items expected, or 0 when unknown.
	Total int64
}

// Observer receives progress ticks from the line counter and the shuffler.
//
// Observers are presentation-only. A NopObserver produces identical data
// results to any other observer.
type Observer interface {
	Progress(p Progress)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(p Progress)

// Progress calls f(p).
func (f ObserverFunc) Progress(p Progress) { f(p) }

// NopObserver discards all progress ticks.
type NopObserver struct{}

// Progress does nothing.
func (NopObserver) Progress(Progress) {}

// -----------------------------------------------------------------------------
// Store interface
// -----------------------------------------------------------------------------

// Store abstracts the object storage that source files are staged from and
// shuffled files are published to.
//
// Streams always read local files; a Store is only used to move whole files
// in and out (see Fetch and Publish).
type Store interface {
	// Put writes data to the given path.
	Put(ctx context.Context, path string, r io.Reader) error

	// Get retrieves data from the given path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists checks whether a path exists.
	Exists(ctx context.Context, path string) (bool, error)

	// List returns paths under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Delete removes the path if it exists.
	Delete(ctx context.Context, path string) error
}

// -----------------------------------------------------------------------------
// Compressor interface
// -----------------------------------------------------------------------------

// Compressor wraps the byte streams of temporary shard files.
//
// Records remain plain text lines; compression only applies to the scratch
// files a shuffle writes and reads back.
type Compressor interface {
	// Name returns the compressor identifier (for example, "gzip", "zstd", "noop").
	Name() string

	// Extension returns the file extension appended to shard files (for example, ".zst").
	Extension() string

	// Compress wraps a writer with compression.
	Compress(w io.Writer) (io.WriteCloser, error)

	// Decompress wraps a reader with decompression.
	Decompress(r io.Reader) (io.ReadCloser, error)
}

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

// Error sentinel values for common conditions.
var (
	// ErrConflict indicates two paths that must differ resolve to the same file,
	// or a scratch directory already in use by another shuffle.
	ErrConflict = errConflict{}

	// ErrClosed indicates an operation on a closed stream.
	ErrClosed = errClosed{}

	// ErrEndOfStream indicates a dataset has no unread records left.
	ErrEndOfStream = errEndOfStream{}

	// ErrNotFound indicates a requested resource does not exist.
	ErrNotFound = errNotFound{}

	// ErrPathExists indicates an attempt to write to an existing path.
	ErrPathExists = errPathExists{}
)

// ErrInvalidShardCount indicates a shuffle was configured with fewer than one shard.
var ErrInvalidShardCount = errors.New("lineset: shard count must be at least 1")

type errConflict struct{}

func (errConflict) Error() string { return "conflict" }

type errClosed struct{}

func (errClosed) Error() string { return "stream closed" }

type errEndOfStream struct{}

func (errEndOfStream) Error() string { return "end of stream" }

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type errPathExists struct{}

func (errPathExists) Error() string { return "path exists" }

// IOError reports a filesystem failure while opening, reading, writing, or
// removing a dataset or scratch file. IOErrors are fatal to the operation
// that returned them.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("lineset: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}
