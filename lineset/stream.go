package lineset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const readBufferSize = 64 * 1024

// -----------------------------------------------------------------------------
// Stream Configuration
// -----------------------------------------------------------------------------

// streamConfig holds the resolved configuration for a stream.
type streamConfig struct {
	logger   *slog.Logger
	observer Observer
}

// StreamOption configures Open.
type StreamOption func(*streamConfig)

// WithLogger sets the logger used for stream lifecycle events.
// Default: slog.Default() at the time of each event.
func WithLogger(l *slog.Logger) StreamOption {
	return func(cfg *streamConfig) {
		cfg.logger = l
	}
}

// WithObserver sets the observer that receives progress ticks from line
// counting and shuffling. Default: NopObserver.
func WithObserver(o Observer) StreamOption {
	return func(cfg *streamConfig) {
		cfg.observer = o
	}
}

// resetConfig holds the resolved arguments of a single Reset call.
type resetConfig struct {
	path      string
	recount   bool
	deleteOld bool
}

// ResetOption configures Reset.
type ResetOption func(*resetConfig)

// WithPath repoints the stream at a new backing file.
func WithPath(path string) ResetOption {
	return func(cfg *resetConfig) {
		cfg.path = path
	}
}

// RecomputeCount re-runs the line counter against the new backing file.
// Without it the previous count is kept. Only meaningful with WithPath.
func RecomputeCount() ResetOption {
	return func(cfg *resetConfig) {
		cfg.recount = true
	}
}

// DeleteOld removes the previous backing file from disk once its handle is
// closed. Only meaningful with WithPath.
func DeleteOld() ResetOption {
	return func(cfg *resetConfig) {
		cfg.deleteOld = true
	}
}

// -----------------------------------------------------------------------------
// Stream
// -----------------------------------------------------------------------------

// Stream is a sequential cursor over a line-oriented file.
//
// A Stream owns exactly one open file handle. The next record is determined
// solely by the read position within that file; records are handed to the
// caller and never retained. A Stream is not safe for concurrent use.
type Stream struct {
	path     string
	file     *os.File
	reader   *bufio.Reader
	count    int64
	logger   *slog.Logger
	observer Observer
}

// Open opens the file at path for reading and counts its records.
//
// Returns an *IOError if the path does not exist or cannot be read.
func Open(path string, opts ...StreamOption) (*Stream, error) {
	cfg := &streamConfig{
		observer: NopObserver{},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.observer == nil {
		cfg.observer = NopObserver{}
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}

	s := &Stream{
		path:     path,
		file:     file,
		reader:   bufio.NewReaderSize(file, readBufferSize),
		logger:   cfg.logger,
		observer: cfg.observer,
	}

	n, err := CountLines(s)
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.count = n

	s.log().Info("stream opened", slog.String("path", path), slog.Int64("count", n))
	return s, nil
}

// Path returns the current backing file.
func (s *Stream) Path() string {
	return s.path
}

// Count returns the cached record count.
//
// The count is established by Open and refreshed only when Reset is called
// with RecomputeCount.
func (s *Stream) Count() int64 {
	return s.count
}

// Next returns the next record with its line terminator stripped.
//
// ok is false once the stream is exhausted; further calls keep reporting
// the end of the stream until Reset is called.
func (s *Stream) Next() (record string, ok bool, err error) {
	line, ok, err := s.readRaw()
	if !ok || err != nil {
		return "", ok, err
	}
	return trimTerminator(line), true, nil
}

// Reset rewinds the stream or repoints it at a new file.
//
// Without options the handle is seeked back to the first byte.
//
// With WithPath the new file is opened for read/write first; if it cannot be
// opened, or is not a regular file, the stream is left untouched. Otherwise
// the current handle is closed, the old file is optionally removed
// (DeleteOld), and the new handle is adopted. A failed delete is reported
// after adoption as an *IOError with Op "remove". Asking to delete the file
// that is about to be reopened logs a warning, skips the delete, and returns
// an error wrapping ErrConflict. In both cases Path reports the new file and
// the stream remains usable.
func (s *Stream) Reset(opts ...ResetOption) error {
	if s.file == nil {
		return ErrClosed
	}

	cfg := &resetConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.path == "" {
		if _, err := s.file.Seek(0, io.SeekStart); err != nil {
			return ioErr("seek", s.path, err)
		}
		s.reader.Reset(s.file)
		s.log().Debug("stream rewound", slog.String("path", s.path))
		return nil
	}
	return s.repoint(cfg)
}

// Close releases the backing file handle. Close is idempotent.
func (s *Stream) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.log().Debug("stream closed", slog.String("path", s.path))
	return ioErr("close", s.path, err)
}

// repoint swaps the backing file: open new, close old, delete old, adopt.
//
// The new file is opened before the current handle is touched, so a target
// that cannot be adopted leaves the stream and its file as they were.
func (s *Stream) repoint(cfg *resetConfig) error {
	ll := s.log().With(slog.String("from", s.path), slog.String("to", cfg.path))

	file, err := os.OpenFile(cfg.path, os.O_RDWR, 0)
	if err != nil {
		return ioErr("open", cfg.path, err)
	}
	info, err := file.Stat()
	if err == nil && !info.Mode().IsRegular() {
		err = fmt.Errorf("not a regular file (%s)", info.Mode().Type())
	}
	if err != nil {
		_ = file.Close()
		return ioErr("open", cfg.path, err)
	}

	var result error
	if err := s.file.Close(); err != nil {
		result = ioErr("close", s.path, err)
	}

	if cfg.deleteOld && result == nil {
		if samePath(s.path, cfg.path) {
			ll.Warn("cannot delete data file: new path is identical")
			result = fmt.Errorf("lineset: delete %s: new path is identical: %w", s.path, ErrConflict)
		} else if err := os.Remove(s.path); err != nil {
			result = ioErr("remove", s.path, err)
		}
	}

	s.file = file
	s.path = cfg.path
	s.reader.Reset(file)

	if cfg.recount {
		n, err := CountLines(s)
		if err != nil {
			return err
		}
		s.count = n
	}

	ll.Info("stream reset",
		slog.Int64("count", s.count),
		slog.Bool("recounted", cfg.recount),
		slog.Bool("deleted_old", cfg.deleteOld && result == nil))
	return result
}

// readRaw returns the next line including its terminator.
func (s *Stream) readRaw() (string, bool, error) {
	if s.file == nil {
		return "", false, ErrClosed
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		if !errors.Is(err, io.EOF) {
			return "", false, ioErr("read", s.path, err)
		}
		if line == "" {
			return "", false, nil
		}
	}
	return line, true, nil
}

func (s *Stream) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// trimTerminator strips a trailing "\n" or "\r\n".
func trimTerminator(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

// samePath reports whether a and b name the same file path.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
