package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tracely/pulse/cli/internal/output"
)

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Show the request histogram",
	Long:  "Buckets the buffered spans into about 60 bars of success and error counts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := filtersFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		tl, err := newClient().Timeline(ctx, filters)
		if err != nil {
			return fmt.Errorf("failed to get timeline: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(tl)
		}
		return w.Print(output.TimelineChart(tl))
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show the derived health status",
	Long:  "Error rate and p95 latency over the last 30 seconds of completed spans.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		h, err := newClient().Health(ctx)
		if err != nil {
			return fmt.Errorf("failed to get health: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(h)
		}
		return w.Print(output.Text(output.HealthLine(h) + "\n"))
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Load the next page of older spans into the buffer",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		res, err := newClient().LoadHistory(ctx)
		if err != nil {
			return fmt.Errorf("failed to load history: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(res)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ Loaded %d older spans\n", res.Added)
		if !res.Flags.HasMoreHistory {
			fmt.Fprintln(cmd.OutOrStdout(), "→ No more history")
		}
		return nil
	},
}

func init() {
	addFilterFlags(timelineCmd, true)
}
