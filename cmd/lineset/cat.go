package main

import (
	"bufio"
	"io"

	"github.com/spf13/cobra"

	"github.com/justapithecus/lineset/lineset"
)

func getCatCmd(g *globals) *cobra.Command {
	var limit int64

	cmd := &cobra.Command{
		Use:   "cat <path>",
		Short: "Stream records to stdout with line terminators normalized",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lineset.Open(args[0], g.streamOptions(cmd)...)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			return runCat(s, cmd.OutOrStdout(), limit)
		},
	}

	cmd.Flags().Int64Var(&limit, "limit", 0, "Stop after this many records (0 means all)")
	return cmd
}

func runCat(s *lineset.Stream, out io.Writer, limit int64) error {
	w := bufio.NewWriter(out)
	for n := int64(0); limit <= 0 || n < limit; n++ {
		record, ok, err := s.Next()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if _, err := w.WriteString(record); err != nil {
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return w.Flush()
}
