package lineset

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/lineset/internal/logctx"
)

const (
	// DefaultShards is the shard count used when WithShards is not given.
	DefaultShards = 100

	// DefaultScratchDir is the scratch directory used when WithScratchDir is not given.
	DefaultScratchDir = "shard_tmp"

	// scratchLockName is the lock file kept in the scratch directory. It is
	// never unlinked while the directory lives, so every contender locks the
	// same inode.
	scratchLockName = ".lineset.lock"
)

// -----------------------------------------------------------------------------
// Shuffle Configuration
// -----------------------------------------------------------------------------

// shuffleConfig holds the resolved configuration for a shuffle.
type shuffleConfig struct {
	shards       int
	scratchDir   string
	output       string
	rng          *rand.Rand
	workers      int
	keepScratch  bool
	deleteSource bool
	spill        Compressor
}

// ShuffleOption configures Shuffle.
type ShuffleOption func(*shuffleConfig)

// WithShards sets the number of shards. Must be at least 1.
// A single shard loads the whole file into memory and shuffles it once.
// Default: DefaultShards.
func WithShards(n int) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.shards = n
	}
}

// WithScratchDir sets the directory that holds shard files.
// It is created if absent. Default: DefaultScratchDir.
func WithScratchDir(dir string) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.scratchDir = dir
	}
}

// WithOutput sets the path of the shuffled file.
// Default: ShuffledPath(source).
func WithOutput(path string) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.output = path
	}
}

// WithRand sets the generator used for shard assignment and for seeding the
// per-shard permutations. The same generator state always produces the
// same output file.
func WithRand(r *rand.Rand) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.rng = r
	}
}

// WithSeed is shorthand for WithRand with a PCG generator seeded from seed.
func WithSeed(seed uint64) ShuffleOption {
	return WithRand(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)))
}

// WithWorkers sets how many shards are shuffled concurrently in the
// intra-shard phase. Values below 1 mean 1. Output does not depend on it.
func WithWorkers(n int) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.workers = n
	}
}

// WithKeepScratch leaves shard files in the scratch directory after the
// shuffle instead of removing them.
func WithKeepScratch() ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.keepScratch = true
	}
}

// WithDeleteSource removes the source file once the stream has adopted the
// shuffled output. A failed delete is logged and recorded in
// Report.SourceDeleteError; it does not fail the shuffle.
func WithDeleteSource() ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.deleteSource = true
	}
}

// WithSpillCompressor compresses shard files on disk.
// Default: NewNoOpCompressor().
func WithSpillCompressor(c Compressor) ShuffleOption {
	return func(cfg *shuffleConfig) {
		cfg.spill = c
	}
}

// ShuffledPath derives the default shuffle output path by inserting
// "_shuffled" before the extension: "data/seqs.txt" becomes
// "data/seqs_shuffled.txt".
func ShuffledPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_shuffled" + ext
}

// -----------------------------------------------------------------------------
// Shuffle
// -----------------------------------------------------------------------------

// Shuffle rewrites the stream's backing file in randomized line order and
// repoints the stream at the result.
//
// Records are partitioned into shards by uniform random assignment, each
// shard is permuted in memory, and the shuffled shards are concatenated in
// index order. Peak memory is the size of the largest shard rather than the
// whole file. The result approximates a uniform permutation; it is not a
// global Fisher-Yates shuffle.
//
// The output is written to a temporary file and renamed into place before
// the stream adopts it, so the stream never points at a partial output.
// The record count is kept, since a permutation preserves it.
func Shuffle(ctx context.Context, s *Stream, opts ...ShuffleOption) (*Report, error) {
	cfg := &shuffleConfig{
		shards:     DefaultShards,
		scratchDir: DefaultScratchDir,
		workers:    1,
		spill:      NewNoOpCompressor(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.shards < 1 {
		return nil, fmt.Errorf("%w, got %d", ErrInvalidShardCount, cfg.shards)
	}
	if s.file == nil {
		return nil, ErrClosed
	}
	if cfg.workers < 1 {
		cfg.workers = 1
	}
	if cfg.spill == nil {
		cfg.spill = NewNoOpCompressor()
	}
	if cfg.rng == nil {
		cfg.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	source := s.path
	output := cfg.output
	if output == "" {
		output = ShuffledPath(source)
	}
	if samePath(source, output) {
		return nil, fmt.Errorf("lineset: shuffle output %s is the source file: %w", output, ErrConflict)
	}

	ll := s.logger
	if ll == nil {
		ll = logctx.FromContext(ctx)
	}
	report := &Report{
		ID:         uuid.NewString(),
		Source:     source,
		Output:     output,
		ScratchDir: cfg.scratchDir,
		Shards:     cfg.shards,
		Spill:      cfg.spill.Name(),
		StartedAt:  time.Now(),
	}
	ll = ll.With(slog.String("shuffle_id", report.ID), slog.String("source", source))

	shards := newShards(cfg.scratchDir, cfg.shards, cfg.spill.Extension())
	for _, sh := range shards {
		for _, p := range []string{sh.path, sh.shuffledPath} {
			if samePath(p, source) || samePath(p, output) {
				return nil, fmt.Errorf("lineset: scratch file %s collides with dataset path: %w", p, ErrConflict)
			}
		}
	}

	_, statErr := os.Stat(cfg.scratchDir)
	createdDir := errors.Is(statErr, fs.ErrNotExist)
	if err := os.MkdirAll(cfg.scratchDir, 0o755); err != nil {
		return nil, ioErr("mkdir", cfg.scratchDir, err)
	}
	unlock, err := lockScratch(cfg.scratchDir)
	if err != nil {
		if createdDir {
			_ = os.Remove(cfg.scratchDir)
		}
		return nil, err
	}
	defer func() {
		if !cfg.keepScratch {
			if err := removeShards(shards); err != nil {
				ll.Warn("failed to remove scratch files", slog.Any("error", err))
			}
		}
		unlock()
		if !cfg.keepScratch && createdDir {
			_ = os.Remove(filepath.Join(cfg.scratchDir, scratchLockName))
			_ = os.Remove(cfg.scratchDir)
		}
	}()

	ll.Info("shuffle started",
		slog.Int("shards", cfg.shards),
		slog.String("scratch_dir", cfg.scratchDir),
		slog.String("spill", cfg.spill.Name()),
		slog.Int("workers", cfg.workers))

	inFP, err := partition(ctx, s, shards, cfg.spill, cfg.rng)
	if err != nil {
		return nil, fmt.Errorf("lineset: partition %s: %w", source, err)
	}
	report.InputFingerprint = inFP
	report.ShardRecords = make([]int64, len(shards))
	for i, sh := range shards {
		report.ShardRecords[i] = sh.records
	}
	ll.Info("sharded source",
		slog.Int("shards", cfg.shards),
		slog.Int64("records", inFP.Records),
		slog.Int64("largest_shard", report.LargestShard()))

	outFP, err := shuffleShards(ctx, shards, cfg.spill, cfg.rng, cfg.workers, s.observer)
	if err != nil {
		return nil, fmt.Errorf("lineset: shuffle shards: %w", err)
	}
	report.OutputFingerprint = outFP
	if !report.Verified() {
		return nil, fmt.Errorf("lineset: shuffled shards hold %d records, source held %d", outFP.Records, inFP.Records)
	}
	ll.Info("shuffled shards", slog.Int("shards", cfg.shards))

	if err := concatenate(ctx, shards, output, cfg.spill, s.observer); err != nil {
		return nil, fmt.Errorf("lineset: concatenate shards: %w", err)
	}

	resetOpts := []ResetOption{WithPath(output)}
	if cfg.deleteSource {
		resetOpts = append(resetOpts, DeleteOld())
	}
	if err := s.Reset(resetOpts...); err != nil {
		if s.Path() != output {
			return nil, err
		}
		// Output is adopted; a leftover source is not a failed shuffle.
		ll.Warn("failed to delete source", slog.Any("error", err))
		report.SourceDeleteError = err.Error()
	}

	report.Duration = time.Since(report.StartedAt)
	ll.Info("shuffle complete",
		slog.String("output", output),
		slog.Int64("records", outFP.Records),
		slog.Duration("duration", report.Duration))
	return report, nil
}
