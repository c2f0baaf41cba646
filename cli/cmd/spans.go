package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tracely/pulse/cli/internal/output"
	"github.com/tracely/pulse/services/pulse"
)

var spansCmd = &cobra.Command{
	Use:   "spans",
	Short: "List buffered spans",
	Long:  "Lists the spans the server currently buffers, oldest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := filtersFromFlags(cmd)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Timeout)
		defer cancel()

		list, err := newClient().Spans(ctx, filters, limit)
		if err != nil {
			return fmt.Errorf("failed to list spans: %w", err)
		}

		w := writer(cmd)
		if w.IsStructured() {
			return w.Print(list)
		}
		if err := w.Print(output.SpanTable(list.Spans)); err != nil {
			return err
		}
		if cfg.Verbose {
			fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d buffered spans, stream %s, more history: %t\n",
				list.Matched, list.Total, list.Status, list.Flags.HasMoreHistory)
		}
		return nil
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow spans as they arrive",
	Long:  "Streams matching spans from the server until interrupted. JSON output is one object per line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := filtersFromFlags(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		enc := json.NewEncoder(out)
		structured := writer(cmd).IsStructured()

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		return newClient().Live(ctx, filters, func(u pulse.Update) error {
			switch {
			case structured:
				if u.Type != pulse.UpdateSpan && !cfg.Verbose {
					return nil
				}
				return enc.Encode(u)
			case u.Type == pulse.UpdateSpan && u.Span != nil:
				for i, cell := range output.SpanRow(*u.Span) {
					if i > 0 {
						fmt.Fprint(tw, "\t")
					}
					fmt.Fprint(tw, cell)
				}
				fmt.Fprintln(tw)
				return tw.Flush()
			case u.Type == pulse.UpdateStatus:
				output.Info("stream %s", u.Status)
			case u.Type == pulse.UpdateReset:
				output.Info("buffer cleared")
			case cfg.Verbose && u.Type == pulse.UpdateHeartbeat:
				output.Info("heartbeat %s", u.At.Format("15:04:05"))
			}
			return nil
		})
	},
}

func init() {
	addFilterFlags(spansCmd, true)
	spansCmd.Flags().Int("limit", 0, "Keep only the newest N spans")

	addFilterFlags(tailCmd, false)
}
