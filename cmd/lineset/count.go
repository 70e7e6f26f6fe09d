package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justapithecus/lineset/lineset"
)

func getCountCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "count <path>",
		Short: "Print the number of records in a line file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := lineset.Open(args[0], g.streamOptions(cmd)...)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), s.Count())
			return err
		},
	}
}
