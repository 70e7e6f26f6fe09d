package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/justapithecus/lineset/internal/config"
	"github.com/justapithecus/lineset/internal/s3"
	"github.com/justapithecus/lineset/lineset"
	lss3 "github.com/justapithecus/lineset/lineset/s3"
)

type shuffleFlags struct {
	shards       int
	scratch      string
	seed         uint64
	workers      int
	keepScratch  bool
	deleteSource bool
	spill        string
	output       string
	json         bool
	reportPath   string
}

func getShuffleCmd(g *globals) *cobra.Command {
	var f shuffleFlags

	cmd := &cobra.Command{
		Use:   "shuffle <path|s3://bucket/key>",
		Short: "Shuffle the lines of a file with bounded memory",
		Long: `Shuffle partitions the file into shards, permutes each shard in memory and
concatenates the results. Sources given as s3:// URIs are staged locally and
the shuffled file is published next to them.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.applyConfig(cmd, g.cfg.Shuffle)
			return runShuffle(cmd, g, args[0], f)
		},
	}

	cmd.Flags().IntVar(&f.shards, "shards", lineset.DefaultShards, "Number of shards")
	cmd.Flags().StringVar(&f.scratch, "scratch", lineset.DefaultScratchDir, "Directory for shard files")
	cmd.Flags().Uint64Var(&f.seed, "seed", 0, "Seed for a reproducible shuffle (random when unset)")
	cmd.Flags().IntVar(&f.workers, "workers", 1, "Shards shuffled concurrently")
	cmd.Flags().BoolVar(&f.keepScratch, "keep-scratch", false, "Leave shard files in the scratch directory")
	cmd.Flags().BoolVar(&f.deleteSource, "delete-source", false, "Remove the source file after the shuffle")
	cmd.Flags().StringVar(&f.spill, "spill", "noop", "Shard file compression: "+strings.Join(lineset.SpillCompressorNames(), ", "))
	cmd.Flags().StringVar(&f.output, "output", "", "Output path or s3:// URI (default: <name>_shuffled<ext> beside the source)")
	cmd.Flags().BoolVar(&f.json, "json", false, "Print the shuffle report as JSON")
	cmd.Flags().StringVar(&f.reportPath, "report", "", "Also write the JSON report to this file")
	return cmd
}

// applyConfig fills every flag the user did not set from the config file
// or environment.
func (f *shuffleFlags) applyConfig(cmd *cobra.Command, cfg config.ShuffleConfig) {
	flags := cmd.Flags()
	if !flags.Changed("shards") {
		f.shards = cfg.Shards
	}
	if !flags.Changed("scratch") {
		f.scratch = cfg.ScratchDir
	}
	if !flags.Changed("workers") {
		f.workers = cfg.Workers
	}
	if !flags.Changed("spill") {
		f.spill = cfg.Spill
	}
	if !flags.Changed("keep-scratch") {
		f.keepScratch = cfg.KeepScratch
	}
}

func (f *shuffleFlags) options(cmd *cobra.Command) ([]lineset.ShuffleOption, error) {
	spill, err := lineset.NewCompressor(f.spill)
	if err != nil {
		return nil, err
	}
	opts := []lineset.ShuffleOption{
		lineset.WithShards(f.shards),
		lineset.WithScratchDir(f.scratch),
		lineset.WithWorkers(f.workers),
		lineset.WithSpillCompressor(spill),
	}
	if cmd.Flags().Changed("seed") {
		opts = append(opts, lineset.WithSeed(f.seed))
	}
	if f.keepScratch {
		opts = append(opts, lineset.WithKeepScratch())
	}
	if f.deleteSource {
		opts = append(opts, lineset.WithDeleteSource())
	}
	return opts, nil
}

func runShuffle(cmd *cobra.Command, g *globals, source string, f shuffleFlags) error {
	ctx := cmd.Context()
	opts, err := f.options(cmd)
	if err != nil {
		return err
	}

	local := source
	srcBucket, srcKey, remote := lss3.ParseURI(source)
	if remote {
		stageDir, err := os.MkdirTemp("", "lineset-stage-*")
		if err != nil {
			return err
		}
		defer func() { _ = os.RemoveAll(stageDir) }()

		store, err := g.newStore(ctx, g.cfg, srcBucket)
		if err != nil {
			return err
		}
		local = filepath.Join(stageDir, path.Base(srcKey))
		g.logger.Info("fetching source", slog.String("uri", source), slog.String("local", local))
		if err := lineset.Fetch(ctx, store, srcKey, local); err != nil {
			return err
		}
	}

	// Remote outputs are shuffled to the default local path, then published.
	var dstBucket, dstKey string
	switch bucket, key, ok := lss3.ParseURI(f.output); {
	case ok:
		dstBucket, dstKey = bucket, key
	case f.output != "":
		opts = append(opts, lineset.WithOutput(f.output))
	case remote:
		dstBucket, dstKey = srcBucket, lineset.ShuffledPath(srcKey)
	}

	s, err := lineset.Open(local, g.streamOptions(cmd)...)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	report, err := lineset.Shuffle(ctx, s, opts...)
	if err != nil {
		return err
	}

	if dstKey != "" {
		store, err := g.newStore(ctx, g.cfg, dstBucket)
		if err != nil {
			return err
		}
		uri := "s3://" + dstBucket + "/" + dstKey
		g.logger.Info("publishing output", slog.String("uri", uri), slog.String("local", s.Path()))
		if err := lineset.Publish(ctx, store, dstKey, s.Path()); err != nil {
			return err
		}
		report.Output = uri
		if remote {
			report.Source = source
		}
	}

	if f.reportPath != "" {
		if err := writeReportFile(f.reportPath, report); err != nil {
			return err
		}
	}
	return printReport(cmd, report, f.json)
}

func printReport(cmd *cobra.Command, report *lineset.Report, asJSON bool) error {
	out := cmd.OutOrStdout()
	if asJSON {
		return report.WriteJSON(out)
	}
	_, err := fmt.Fprintf(out, "shuffled %d records from %s to %s in %s (%d shards, largest %d)\n",
		report.OutputFingerprint.Records, report.Source, report.Output,
		report.Duration.Round(time.Millisecond), report.Shards, report.LargestShard())
	return err
}

func writeReportFile(name string, report *lineset.Report) error {
	file, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// newS3Store connects to S3 with the configured client settings.
func newS3Store(ctx context.Context, cfg *config.Config, bucket string) (lineset.Store, error) {
	client, err := s3.NewClient(ctx, cfg.S3.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	store, err := lss3.New(client, lss3.Config{Bucket: bucket})
	if err != nil {
		return nil, err
	}
	return store, nil
}
