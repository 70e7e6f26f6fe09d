package main

import (
	"context"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/justapithecus/lineset/internal/config"
	"github.com/justapithecus/lineset/internal/logctx"
	"github.com/justapithecus/lineset/lineset"
)

// storeFactory returns a Store for the named bucket.
type storeFactory func(ctx context.Context, cfg *config.Config, bucket string) (lineset.Store, error)

// globals holds state shared by every subcommand.
type globals struct {
	configPath string
	logLevel   string
	logFile    string
	progress   bool

	newStore storeFactory

	cfg     *config.Config
	logger  *slog.Logger
	logSink *os.File
}

// execute runs the command line in args and releases global resources.
func execute(ctx context.Context, g *globals, args []string, stdout, stderr io.Writer) error {
	defer g.close()

	root := newRootCmd(g)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

func newRootCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "lineset",
		Short:        "Work with line-oriented dataset files",
		Long:         `Count, stream, shuffle and verify text files that hold one record per line.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return g.setup(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "Config file (default: ./lineset.yaml when present)")
	flags.StringVar(&g.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	flags.StringVar(&g.logFile, "log-file", "", "Also write JSON logs to this file")
	flags.BoolVar(&g.progress, "progress", false, "Report progress on stderr")

	cmd.AddCommand(
		getCountCmd(g),
		getCatCmd(g),
		getShuffleCmd(g),
		getVerifyCmd(g),
	)
	return cmd
}

// setup loads configuration and installs the logger on the command context.
func (g *globals) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return err
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFile != "" {
		cfg.Log.File = g.logFile
	}
	level, err := cfg.Log.SlogLevel()
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(cmd.ErrOrStderr(), opts)
	if cfg.Log.File != "" {
		sink, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		g.logSink = sink
		handler = slogmulti.Fanout(handler, slog.NewJSONHandler(sink, opts))
	}

	g.cfg = cfg
	g.logger = slog.New(handler).With(slog.String("command", cmd.Name()))
	cmd.SetContext(logctx.WithLogger(cmd.Context(), g.logger))
	return nil
}

// streamOptions wires the command's logger and progress reporting into a stream.
func (g *globals) streamOptions(cmd *cobra.Command) []lineset.StreamOption {
	var obs lineset.Observer = lineset.NopObserver{}
	if g.progress {
		obs = newProgressPrinter(cmd.ErrOrStderr())
	}
	return []lineset.StreamOption{
		lineset.WithLogger(g.logger),
		lineset.WithObserver(obs),
	}
}

func (g *globals) close() {
	if g.logSink != nil {
		_ = g.logSink.Close()
		g.logSink = nil
	}
}
