package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justapithecus/lineset/internal/config"
	"github.com/justapithecus/lineset/internal/testutil"
	"github.com/justapithecus/lineset/lineset"
)

// memoryBuckets hands out one in-memory store per bucket name.
type memoryBuckets map[string]lineset.Store

func (m memoryBuckets) factory(_ context.Context, _ *config.Config, bucket string) (lineset.Store, error) {
	if _, ok := m[bucket]; !ok {
		m[bucket] = lineset.NewMemory()
	}
	return m[bucket], nil
}

func runCLI(t *testing.T, buckets memoryBuckets, args ...string) (string, string, error) {
	t.Helper()
	t.Chdir(t.TempDir())
	if buckets == nil {
		buckets = memoryBuckets{}
	}
	var stdout, stderr bytes.Buffer
	err := execute(context.Background(), &globals{newStore: buckets.factory}, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestCount(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "seqs.txt", "A\r\nB\nC")

	out, _, err := runCLI(t, nil, "count", path)

	require.NoError(t, err)
	assert.Equal(t, "3\n", out)
}

func TestCount_MissingFile(t *testing.T) {
	_, stderr, err := runCLI(t, nil, "count", filepath.Join(t.TempDir(), "missing.txt"))

	var ioe *lineset.IOError
	require.ErrorAs(t, err, &ioe)
	assert.Contains(t, stderr, "Error:")
}

func TestCat(t *testing.T) {
	path := testutil.WriteFile(t, t.TempDir(), "seqs.txt", "A\r\nB\nC")

	out, _, err := runCLI(t, nil, "cat", path)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\nC\n", out)

	out, _, err = runCLI(t, nil, "cat", "--limit", "2", path)
	require.NoError(t, err)
	assert.Equal(t, "A\nB\n", out)
}

func TestVerify(t *testing.T) {
	dir := t.TempDir()
	a := testutil.WriteLines(t, dir, "a.txt", []string{"A", "B", "C"})
	b := testutil.WriteLines(t, dir, "b.txt", []string{"C", "A", "B"})
	c := testutil.WriteLines(t, dir, "c.txt", []string{"C", "A", "A"})

	out, _, err := runCLI(t, nil, "verify", a, b)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ok: 3 records"))

	out, stderr, err := runCLI(t, nil, "verify", a, c)
	assert.ErrorIs(t, err, errMismatch)
	assert.Contains(t, out, "mismatch")
	assert.Contains(t, stderr, "fingerprint mismatch")
}

func TestShuffle_LocalJSONReport(t *testing.T) {
	dir := t.TempDir()
	lines := testutil.NumberedLines(200)
	path := testutil.WriteLines(t, dir, "seqs.txt", lines)
	reportPath := filepath.Join(dir, "report.json")

	out, _, err := runCLI(t, nil, "shuffle", path,
		"--shards", "4", "--seed", "12", "--workers", "2", "--spill", "zstd",
		"--scratch", filepath.Join(dir, "shard_tmp"), "--json", "--report", reportPath)
	require.NoError(t, err)

	report, err := lineset.ReadReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 4, report.Shards)
	assert.Equal(t, "zstd", report.Spill)
	assert.True(t, report.Verified())
	assert.Equal(t, lineset.ShuffledPath(path), report.Output)
	assert.ElementsMatch(t, lines, testutil.ReadLines(t, report.Output))
	assert.NoDirExists(t, filepath.Join(dir, "shard_tmp"))

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	fromFile, err := lineset.ReadReport(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, report.ID, fromFile.ID)
}

func TestShuffle_SeedIsReproducible(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLines(t, dir, "seqs.txt", testutil.NumberedLines(100))
	first := filepath.Join(dir, "first.txt")
	second := filepath.Join(dir, "second.txt")

	for _, out := range []string{first, second} {
		_, _, err := runCLI(t, nil, "shuffle", path, "--seed", "5", "--shards", "3",
			"--scratch", filepath.Join(dir, "tmp"), "--output", out)
		require.NoError(t, err)
	}

	assert.Equal(t, testutil.ReadLines(t, first), testutil.ReadLines(t, second))
}

func TestShuffle_TextSummaryAndProgress(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLines(t, dir, "seqs.txt", []string{"A", "B", "C", "D"})

	out, stderr, err := runCLI(t, nil, "--progress", "shuffle", path, "--shards", "2",
		"--scratch", filepath.Join(dir, "tmp"), "--delete-source")
	require.NoError(t, err)

	assert.Contains(t, out, "shuffled 4 records from "+path)
	assert.Contains(t, stderr, "counting lines in "+path+": 4 / 4")
	assert.Contains(t, stderr, "shuffling shards: 2 / 2")
	assert.Contains(t, stderr, "shuffle complete")
	assert.NoFileExists(t, path)
}

func TestShuffle_ConfigFromEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLines(t, dir, "seqs.txt", testutil.NumberedLines(10))
	scratch := filepath.Join(dir, "env_tmp")
	t.Setenv("LINESET_SHUFFLE_SHARDS", "3")
	t.Setenv("LINESET_SHUFFLE_SCRATCH_DIR", scratch)
	t.Setenv("LINESET_SHUFFLE_KEEP_SCRATCH", "true")

	out, _, err := runCLI(t, nil, "shuffle", path, "--json")
	require.NoError(t, err)

	report, err := lineset.ReadReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 3, report.Shards)
	assert.FileExists(t, filepath.Join(scratch, "shard_2_shuffled.txt"))

	// Flags win over the environment.
	out, _, err = runCLI(t, nil, "shuffle", path, "--json", "--shards", "2",
		"--output", filepath.Join(dir, "two.txt"))
	require.NoError(t, err)
	report, err = lineset.ReadReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Shards)
}

func TestShuffle_RemoteSource(t *testing.T) {
	ctx := context.Background()
	lines := testutil.NumberedLines(50)
	src := testutil.WriteLines(t, t.TempDir(), "seqs.txt", lines)
	buckets := memoryBuckets{}
	store, err := buckets.factory(ctx, nil, "corpora")
	require.NoError(t, err)
	require.NoError(t, lineset.Publish(ctx, store, "human/seqs.txt", src))

	out, _, err := runCLI(t, buckets, "shuffle", "s3://corpora/human/seqs.txt",
		"--shards", "5", "--scratch", filepath.Join(t.TempDir(), "tmp"), "--json")
	require.NoError(t, err)

	report, err := lineset.ReadReport(strings.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "s3://corpora/human/seqs.txt", report.Source)
	assert.Equal(t, "s3://corpora/human/seqs_shuffled.txt", report.Output)

	local := filepath.Join(t.TempDir(), "fetched.txt")
	require.NoError(t, lineset.Fetch(ctx, store, "human/seqs_shuffled.txt", local))
	assert.ElementsMatch(t, lines, testutil.ReadLines(t, local))
}

func TestShuffle_RemoteOutput(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := testutil.WriteLines(t, dir, "seqs.txt", []string{"A", "B"})
	buckets := memoryBuckets{}

	_, _, err := runCLI(t, buckets, "shuffle", path, "--scratch", filepath.Join(dir, "tmp"),
		"--output", "s3://epochs/1/seqs.txt")
	require.NoError(t, err)

	exists, err := buckets["epochs"].Exists(ctx, "1/seqs.txt")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.FileExists(t, lineset.ShuffledPath(path))
}

func TestShuffle_RemoteSourceMissing(t *testing.T) {
	_, _, err := runCLI(t, nil, "shuffle", "s3://corpora/missing.txt")
	assert.ErrorIs(t, err, lineset.ErrNotFound)
}

func TestShuffle_InvalidFlags(t *testing.T) {
	path := testutil.WriteLines(t, t.TempDir(), "seqs.txt", []string{"A"})

	_, _, err := runCLI(t, nil, "shuffle", path, "--spill", "lz4")
	assert.ErrorContains(t, err, "unknown compressor")

	_, _, err = runCLI(t, nil, "shuffle", path, "--shards", "0")
	assert.ErrorIs(t, err, lineset.ErrInvalidShardCount)
}

func TestLogFileFanout(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteLines(t, dir, "seqs.txt", []string{"A", "B"})
	logFile := filepath.Join(dir, "lineset.log")

	_, stderr, err := runCLI(t, nil, "--log-file", logFile, "--log-level", "debug", "count", path)
	require.NoError(t, err)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"stream opened"`)
	assert.Contains(t, stderr, "stream opened")
}

func TestInvalidLogLevel(t *testing.T) {
	path := testutil.WriteLines(t, t.TempDir(), "seqs.txt", []string{"A"})

	_, _, err := runCLI(t, nil, "--log-level", "loud", "count", path)
	assert.ErrorContains(t, err, `log level "loud"`)
}

func TestProgressPrinter_NonTerminal(t *testing.T) {
	var buf bytes.Buffer
	p := newProgressPrinter(&buf)

	p.Progress(lineset.Progress{Label: "counting lines", Current: 12000})
	p.Progress(lineset.Progress{Label: "counting lines", Current: 12345, Total: 12345})

	assert.Equal(t, "counting lines: 12,000\ncounting lines: 12,345 / 12,345\n", buf.String())
}
