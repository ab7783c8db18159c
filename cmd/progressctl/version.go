package main

import (
	"github.com/spf13/cobra"

	"progresshub/pkg/contracts"
)

func newVersionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.output == "json" {
				return printJSON(cmd, contracts.GetVersionInfo())
			}
			cmd.Println(contracts.GetFullVersionString())
			return nil
		},
	}
}
