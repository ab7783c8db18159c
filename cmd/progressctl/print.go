package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"progresshub/pkg/contracts/domain"
)

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	cmd.Println(string(out))
	return nil
}

func prettyPrintOperations(cmd *cobra.Command, ops []domain.OperationSummary) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	formatted := func(row ...any) {
		fmt.Fprintf(w, "%v\t%v\t%v\t%v\t%v\t%v\n", row...)
	}

	formatted("ID", "TYPE", "NAME", "STATUS", "PROGRESS", "STARTED")
	for _, op := range ops {
		formatted(
			op.OperationID,
			op.OperationType,
			op.Name,
			op.Status,
			formatProgress(op.Progress),
			formatTime(op.StartTime),
		)
	}

	w.Flush()
}

func prettyPrintDetails(cmd *cobra.Command, id string, d domain.OperationDetails) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "Id:\t%s\n", id)
	fmt.Fprintf(w, "Type:\t%s\n", d.OperationType)
	fmt.Fprintf(w, "Name:\t%s\n", d.Name)
	fmt.Fprintf(w, "Status:\t%s\n", d.Status)
	fmt.Fprintf(w, "Progress:\t%s\n", formatProgress(d.Progress))
	if d.CurrentStep != nil {
		step := *d.CurrentStep
		if d.TotalSteps != nil {
			step = fmt.Sprintf("%s (of %d)", step, *d.TotalSteps)
		}
		fmt.Fprintf(w, "Step:\t%s\n", step)
	}
	if d.StepProgress != nil {
		fmt.Fprintf(w, "Step progress:\t%s\n", formatProgress(*d.StepProgress))
	}
	fmt.Fprintf(w, "Started:\t%s\n", formatTime(d.StartTime))
	fmt.Fprintf(w, "Last update:\t%s\n", formatTime(d.LastUpdateTime))
	if len(d.Details) > 0 {
		fmt.Fprintf(w, "Details:\n")
		for _, line := range prettyDetails(d.Details) {
			fmt.Fprintf(w, "\t%s\n", line)
		}
	}

	w.Flush()
}

func prettyDetails(details map[string]any) []string {
	lines := make([]string, 0, len(details))
	for k, v := range details {
		lines = append(lines, fmt.Sprintf("%s:\t%v", k, v))
	}
	slices.Sort(lines)
	return lines
}

func formatProgress(p float64) string {
	return fmt.Sprintf("%.1f%%", p)
}

func formatTime(ts domain.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}

// progressBar renders p (0..100) as a fixed-width bar
func progressBar(p float64, width int) string {
	filled := int(p / 100 * float64(width))
	filled = min(max(filled, 0), width)
	return "[" + strings.Repeat("#", filled) + strings.Repeat(".", width-filled) + "]"
}
