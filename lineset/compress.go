package lineset

import (
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Spill files are written once by the partition phase, read back once by a
// shard worker, and deleted. Up to Workers shards are decoded at once.

// spillCodec is a Compressor described by a name, a shard file suffix and a
// pair of stream wrappers.
type spillCodec struct {
	name   string
	ext    string
	wrap   func(io.Writer) (io.WriteCloser, error)
	unwrap func(io.Reader) (io.ReadCloser, error)
}

func (c *spillCodec) Name() string      { return c.name }
func (c *spillCodec) Extension() string { return c.ext }

func (c *spillCodec) Compress(w io.Writer) (io.WriteCloser, error) {
	wc, err := c.wrap(w)
	if err != nil {
		return nil, fmt.Errorf("%s spill writer: %w", c.name, err)
	}
	return wc, nil
}

// Decompress fails on a spill file that is not in the codec's format, which
// is what a shard written under a different --spill setting looks like.
func (c *spillCodec) Decompress(r io.Reader) (io.ReadCloser, error) {
	rc, err := c.unwrap(r)
	if err != nil {
		return nil, fmt.Errorf("%s spill reader: %w", c.name, err)
	}
	return rc, nil
}

var (
	noopSpill = &spillCodec{
		name: "noop",
		wrap: func(w io.Writer) (io.WriteCloser, error) {
			return nopWriteCloser{w}, nil
		},
		unwrap: func(r io.Reader) (io.ReadCloser, error) {
			return io.NopCloser(r), nil
		},
	}

	gzipSpill = &spillCodec{
		name: "gzip",
		ext:  ".gz",
		wrap: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriterLevel(w, gzip.BestSpeed)
		},
		unwrap: func(r io.Reader) (io.ReadCloser, error) {
			zr, err := gzip.NewReader(r)
			if err != nil {
				return nil, err
			}
			// One writer produces each spill file, so a second member is
			// never expected.
			zr.Multistream(false)
			return zr, nil
		},
	}

	zstdSpill = &spillCodec{
		name: "zstd",
		ext:  ".zst",
		wrap: func(w io.Writer) (io.WriteCloser, error) {
			return zstd.NewWriter(w,
				zstd.WithEncoderLevel(zstd.SpeedFastest),
				zstd.WithEncoderConcurrency(1),
				zstd.WithLowerEncoderMem(true))
		},
		unwrap: func(r io.Reader) (io.ReadCloser, error) {
			d, err := zstd.NewReader(r,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderLowmem(true))
			if err != nil {
				return nil, err
			}
			return d.IOReadCloser(), nil
		},
	}

	spillCodecs = []*spillCodec{noopSpill, gzipSpill, zstdSpill}
)

// SpillCompressorNames lists the names NewCompressor accepts.
func SpillCompressorNames() []string {
	names := make([]string, len(spillCodecs))
	for i, c := range spillCodecs {
		names[i] = c.name
	}
	return names
}

// NewCompressor returns the spill compressor registered under name. The empty
// string and "none" select noop.
func NewCompressor(name string) (Compressor, error) {
	switch name {
	case "", "none":
		return noopSpill, nil
	}
	for _, c := range spillCodecs {
		if c.name == name {
			return c, nil
		}
	}
	return nil, fmt.Errorf("lineset: unknown compressor %q (want one of %s)",
		name, strings.Join(SpillCompressorNames(), ", "))
}

// NewNoOpCompressor leaves shard files as plain text with no extra suffix.
func NewNoOpCompressor() Compressor { return noopSpill }

// NewGzipCompressor writes shard files as single-member gzip at BestSpeed
// with a .gz suffix.
func NewGzipCompressor() Compressor { return gzipSpill }

// NewZstdCompressor writes shard files as zstd at SpeedFastest with a .zst
// suffix, using one goroutine and a reduced window per stream.
func NewZstdCompressor() Compressor { return zstdSpill }

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }
