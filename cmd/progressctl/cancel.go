package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"progresshub/pkg/contracts/events"
)

var cancelExample = `
# Cancel a running operation
progressctl cancel 6f1c2a4e-1b7d-4c55-9a51-3f0e6c1d2b90`

func newCancelCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "cancel <id>",
		Short:   "Cancel an operation",
		Example: cancelExample,
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

			reply, err := await(cmd.Context(), c, opts.timeout, c.OnCancelResult,
				func() error { return c.CancelOperation(id) },
				func(m *events.CancelResult) bool { return m.OperationID == id })
			if err != nil {
				return err
			}

			if opts.output == "json" {
				return printJSON(cmd, reply)
			}
			if !reply.Success {
				return fmt.Errorf("operation %s was not canceled: unknown or already finished", id)
			}
			cmd.Printf("Canceled operation %s\n", id)
			return nil
		},
	}

	return cmd
}
