package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/justapithecus/lineset/lineset"
)

var errMismatch = errors.New("files hold different records")

func getVerifyCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "verify <a> <b>",
		Short: "Check that two line files hold the same records in any order",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := lineset.FingerprintFile(args[0])
			if err != nil {
				return err
			}
			b, err := lineset.FingerprintFile(args[1])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a != b {
				g.logger.Warn("fingerprint mismatch",
					slog.String("a", args[0]), slog.Int64("a_records", a.Records),
					slog.String("b", args[1]), slog.Int64("b_records", b.Records))
				_, _ = fmt.Fprintf(out, "mismatch: %s has %d records, %s has %d records\n",
					args[0], a.Records, args[1], b.Records)
				return errMismatch
			}
			_, err = fmt.Fprintf(out, "ok: %d records, sum %016x\n", a.Records, a.Sum)
			return err
		},
	}
}
