package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracely/pulse/cli/internal/client"
	"github.com/tracely/pulse/cli/internal/output"
)

var traceCmd = &cobra.Command{
	Use:   "trace <trace-id>",
	Short: "Show the waterfall of a buffered trace",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := client.TraceOptions{}
		opts.WithDetails, _ = cmd.Flags().GetBool("details")
		if cmd.Flags().Changed("expand") {
			opts.Expanded, _ = cmd.Flags().GetStringSlice("expand")
			if opts.Expanded == nil {
				opts.Expanded = []string{}
			}
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		view, err := newClient().Trace(ctx, args[0], opts)
		if err != nil {
			return fmt.Errorf("failed to get trace: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(view)
		}
		return w.Print(output.Waterfall(view))
	},
}

var spanCmd = &cobra.Command{
	Use:   "span <span-id>",
	Short: "Show the full detail of one span",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		detail, err := newClient().Span(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to get span: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(detail)
		}
		return w.Print(output.DetailText(detail))
	},
}

func init() {
	traceCmd.Flags().StringSlice("expand", nil, "Span ids to expand; when set, other nodes stay collapsed (empty shows roots only)")
	traceCmd.Flags().Bool("details", false, "Fetch span details so log events show up")
}
