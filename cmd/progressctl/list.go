package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"progresshub/pkg/contracts/domain"
)

var listExample = `
# List every operation the server tracks
progressctl list

# Only running operations, as JSON
progressctl list --status running -o json`

func newListCmd(opts *options) *cobra.Command {
	var (
		status string
		opType string
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List operations",
		Example: listExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" && !domain.OperationStatus(status).Valid() {
				return fmt.Errorf("invalid status %q", status)
			}

			c, err := opts.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = c.Stop() }()

			reply, err := await(cmd.Context(), c, opts.timeout, c.OnOperationsList, c.ListOperations, nil)
			if err != nil {
				return err
			}

			ops := filterOperations(reply.Operations, domain.OperationStatus(status), opType)
			if opts.output == "json" {
				return printJSON(cmd, ops)
			}
			prettyPrintOperations(cmd, ops)
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Only show operations with this status")
	cmd.Flags().StringVar(&opType, "type", "", "Only show operations of this type")

	return cmd
}

func filterOperations(ops []domain.OperationSummary, status domain.OperationStatus, opType string) []domain.OperationSummary {
	out := make([]domain.OperationSummary, 0, len(ops))
	for _, op := range ops {
		if status != "" && op.Status != status {
			continue
		}
		if opType != "" && op.OperationType != opType {
			continue
		}
		out = append(out, op)
	}
	return out
}
