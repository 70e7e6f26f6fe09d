package lineset

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// -----------------------------------------------------------------------------
// Shard state
// -----------------------------------------------------------------------------

// shard is the scratch state of one partition bucket.
//
// A shard owns two files: the partition file written in the first phase and
// its shuffled counterpart written in the second. Shards share no mutable
// state, so the second phase may process them concurrently.
type shard struct {
	index        int
	path         string
	shuffledPath string
	records      int64

	file *os.File
	buf  *bufio.Writer
	w    io.WriteCloser
}

// newShards lays out n shards in dir as shard_{i}.txt and shard_{i}_shuffled.txt,
// each followed by the spill compressor's extension.
func newShards(dir string, n int, ext string) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{
			index:        i,
			path:         filepath.Join(dir, fmt.Sprintf("shard_%d.txt%s", i, ext)),
			shuffledPath: filepath.Join(dir, fmt.Sprintf("shard_%d_shuffled.txt%s", i, ext)),
		}
	}
	return shards
}

// create opens the partition file for writing through c.
func (sh *shard) create(c Compressor) error {
	file, err := os.Create(sh.path)
	if err != nil {
		return ioErr("create", sh.path, err)
	}
	buf := bufio.NewWriterSize(file, readBufferSize)
	w, err := c.Compress(buf)
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("lineset: %s compressor for %s: %w", c.Name(), sh.path, err)
	}
	sh.file, sh.buf, sh.w = file, buf, w
	return nil
}

// append writes one terminated line to the partition file.
func (sh *shard) append(line string) error {
	if _, err := io.WriteString(sh.w, line); err != nil {
		return ioErr("write", sh.path, err)
	}
	sh.records++
	return nil
}

// close flushes and closes the partition file. Safe to call more than once.
func (sh *shard) close() error {
	if sh.file == nil {
		return nil
	}
	var errs *multierror.Error
	if err := sh.w.Close(); err != nil {
		errs = multierror.Append(errs, ioErr("close", sh.path, err))
	}
	if err := sh.buf.Flush(); err != nil {
		errs = multierror.Append(errs, ioErr("flush", sh.path, err))
	}
	if err := sh.file.Close(); err != nil {
		errs = multierror.Append(errs, ioErr("close", sh.path, err))
	}
	sh.file, sh.buf, sh.w = nil, nil, nil
	return errs.ErrorOrNil()
}

// closeShards closes every shard, even when some of them fail.
func closeShards(shards []*shard) error {
	var errs *multierror.Error
	for _, sh := range shards {
		if err := sh.close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// removeShards deletes every partition and shuffled file that exists.
func removeShards(shards []*shard) error {
	var errs *multierror.Error
	for _, sh := range shards {
		for _, p := range []string{sh.path, sh.shuffledPath} {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				errs = multierror.Append(errs, ioErr("remove", p, err))
			}
		}
	}
	return errs.ErrorOrNil()
}

// -----------------------------------------------------------------------------
// Phase 1: partition
// -----------------------------------------------------------------------------

// partition streams every line of s into a uniformly chosen shard.
// The stream is rewound before and after. Every shard file is closed on
// return, whether or not partitioning succeeded.
func partition(ctx context.Context, s *Stream, shards []*shard, c Compressor, rng *rand.Rand) (fp Fingerprint, err error) {
	defer func() {
		if cerr := closeShards(shards); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for _, sh := range shards {
		if err := sh.create(c); err != nil {
			return Fingerprint{}, err
		}
	}

	if err := s.Reset(); err != nil {
		return Fingerprint{}, err
	}

	label := "sharding " + s.path
	for {
		line, ok, err := s.readRaw()
		if err != nil {
			return Fingerprint{}, err
		}
		if !ok {
			break
		}
		record := trimTerminator(line)
		if len(record) == len(line) {
			line += "\n"
		}
		if err := shards[rng.IntN(len(shards))].append(line); err != nil {
			return Fingerprint{}, err
		}
		fp.Add(record)

		if fp.Records%progressInterval == 0 {
			if err := ctx.Err(); err != nil {
				return Fingerprint{}, err
			}
			s.observer.Progress(Progress{Label: label, Current: fp.Records, Total: s.count})
		}
	}
	s.observer.Progress(Progress{Label: label, Current: fp.Records, Total: fp.Records})

	return fp, s.Reset()
}

// -----------------------------------------------------------------------------
// Phase 2: intra-shard shuffle
// -----------------------------------------------------------------------------

// shuffleShards permutes every shard into its shuffled file using up to
// workers goroutines. Each shard gets its own generator seeded from rng
// before any work starts, so the result does not depend on scheduling.
func shuffleShards(ctx context.Context, shards []*shard, c Compressor, rng *rand.Rand, workers int, obs Observer) (Fingerprint, error) {
	seeds := make([][2]uint64, len(shards))
	for i := range seeds {
		seeds[i] = [2]uint64{rng.Uint64(), rng.Uint64()}
	}
	fps := make([]Fingerprint, len(shards))

	var (
		mu   sync.Mutex
		done int64
	)
	total := int64(len(shards))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, sh := range shards {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			shardRng := rand.New(rand.NewPCG(seeds[i][0], seeds[i][1]))
			fp, err := shuffleShard(sh, c, shardRng)
			if err != nil {
				return err
			}
			fps[i] = fp

			mu.Lock()
			done++
			obs.Progress(Progress{Label: "shuffling shards", Current: done, Total: total})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Fingerprint{}, err
	}

	var out Fingerprint
	for _, fp := range fps {
		out = out.Merge(fp)
	}
	return out, nil
}

// shuffleShard loads one partition file into memory, permutes its lines,
// and writes them to the shard's shuffled file.
func shuffleShard(sh *shard, c Compressor, rng *rand.Rand) (Fingerprint, error) {
	lines, err := readShard(sh.path, c)
	if err != nil {
		return Fingerprint{}, err
	}
	rng.Shuffle(len(lines), func(i, j int) {
		lines[i], lines[j] = lines[j], lines[i]
	})

	file, err := os.Create(sh.shuffledPath)
	if err != nil {
		return Fingerprint{}, ioErr("create", sh.shuffledPath, err)
	}
	defer closer(file)()

	buf := bufio.NewWriterSize(file, readBufferSize)
	w, err := c.Compress(buf)
	if err != nil {
		return Fingerprint{}, fmt.Errorf("lineset: %s compressor for %s: %w", c.Name(), sh.shuffledPath, err)
	}

	var fp Fingerprint
	for _, line := range lines {
		if _, err := io.WriteString(w, line); err != nil {
			return Fingerprint{}, ioErr("write", sh.shuffledPath, err)
		}
		fp.Add(trimTerminator(line))
	}
	if err := w.Close(); err != nil {
		return Fingerprint{}, ioErr("close", sh.shuffledPath, err)
	}
	if err := buf.Flush(); err != nil {
		return Fingerprint{}, ioErr("flush", sh.shuffledPath, err)
	}
	return fp, ioErr("close", sh.shuffledPath, file.Close())
}

// readShard returns every line of a partition file, terminators included.
func readShard(path string, c Compressor) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, ioErr("open", path, err)
	}
	defer closer(file)()

	r, err := c.Decompress(bufio.NewReaderSize(file, readBufferSize))
	if err != nil {
		return nil, ioErr("decompress", path, err)
	}
	defer closer(r)()

	var lines []string
	reader := bufio.NewReaderSize(r, readBufferSize)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			lines = append(lines, line)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return lines, nil
			}
			return nil, ioErr("read", path, err)
		}
	}
}

// -----------------------------------------------------------------------------
// Phase 3: concatenation
// -----------------------------------------------------------------------------

// concatenate appends every shuffled shard, in shard-index order, to a
// temporary file beside output and renames it onto output once it is fully
// written and synced. On failure the temporary file is removed and output is
// left untouched.
func concatenate(ctx context.Context, shards []*shard, output string, c Compressor, obs Observer) (err error) {
	tmp := filepath.Join(filepath.Dir(output), "."+filepath.Base(output)+"."+uuid.NewString()+".tmp")
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

	label := "concatenating shards to " + output
	buf := bufio.NewWriterSize(file, readBufferSize)
	for i, sh := range shards {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := appendShard(buf, sh.shuffledPath, c); err != nil {
			return err
		}
		obs.Progress(Progress{Label: label, Current: int64(i + 1), Total: int64(len(shards))})
	}

	if err := buf.Flush(); err != nil {
		return ioErr("write", tmp, err)
	}
	if err := file.Sync(); err != nil {
		return ioErr("sync", tmp, err)
	}
	if err := file.Close(); err != nil {
		return ioErr("close", tmp, err)
	}
	if err := os.Rename(tmp, output); err != nil {
		return ioErr("rename", output, err)
	}
	return nil
}

func appendShard(w io.Writer, path string, c Compressor) error {
	file, err := os.Open(path)
	if err != nil {
		return ioErr("open", path, err)
	}
	defer closer(file)()

	r, err := c.Decompress(bufio.NewReaderSize(file, readBufferSize))
	if err != nil {
		return ioErr("decompress", path, err)
	}
	defer closer(r)()

	if _, err := io.Copy(w, r); err != nil {
		return ioErr("copy", path, err)
	}
	return nil
}
