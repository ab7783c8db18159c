package main

import (
	"errors"

	"github.com/spf13/cobra"

	"progresshub/pkg/contracts/events"
)

var detailsExample = `
# Show one operation
progressctl details 6f1c2a4e-1b7d-4c55-9a51-3f0e6c1d2b90`

func newDetailsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "details <id>",
		Aliases: []string{"get", "describe"},
		Short:   "Show the details of an operation",
		Example: detailsExample,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return errors.New("must specify an id")
			}
			id := args[0]

			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Stop() }()

			reply, err := await(cmd.Context(), c, opts.timeout, c.OnOperationDetails,
				func() error { return c.GetOperationDetails(id) },
				func(m *events.OperationDetails) bool { return m.OperationID == id })
			if err != nil {
				return err
			}

			if opts.output == "json" {
				return printJSON(cmd, reply)
			}
			prettyPrintDetails(cmd, id, reply.Details)
			return nil
		},
	}

	return cmd
}
