package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tracely/pulse/cli/internal/tui"
	"github.com/tracely/pulse/pkg/config"
	"github.com/tracely/pulse/pkg/telemetry"
	"github.com/tracely/pulse/services/pulse"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive live view of the span stream",
	Long: `Connects to the project's event stream directly and shows the live
span list, trace waterfalls and health in the terminal. Uses the same
TRACELY_* settings and tracely.yaml as the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := filtersFromFlags(cmd)
		if err != nil {
			return err
		}

		base, err := config.Load("tracely-cli")
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		logOut := io.Discard
		if path, _ := cmd.Flags().GetString("log-file"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			if err != nil {
				return fmt.Errorf("failed to open log file: %w", err)
			}
			defer f.Close()
			logOut = f
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		tp, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:    base.ServiceName,
			ServiceVersion: version,
			Environment:    base.Environment,
			LogLevel:       base.LogLevel,
			LogFormat:      base.LogFormat,
			Output:         logOut,
		})
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer tp.Shutdown(context.Background())
		logger := tp.Logger()

		session, closeSession, err := pulse.NewSessionFromConfig(ctx, base, logger)
		if err != nil {
			return err
		}
		defer closeSession()

		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		streamErr := make(chan error, 1)
		go func() {
			streamErr <- session.Run(runCtx)
		}()

		if err := tui.Run(runCtx, session, tui.Options{Filters: filters, NoColor: cfg.NoColor}); err != nil {
			return err
		}
		cancel()

		if err := <-streamErr; err != nil && !errors.Is(err, pulse.ErrStreamAbandoned) {
			return fmt.Errorf("stream failed: %w", err)
		}
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pulse server in the foreground",
	Long:  "Runs the live stream and the view API the query commands talk to.",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := config.Load("pulse")
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cmd.Flags().Changed("port") {
			base.HTTPPort, _ = cmd.Flags().GetInt("port")
		}

		ctx := cmd.Context()
		tp, err := telemetry.Setup(ctx, telemetry.Config{
			ServiceName:     base.ServiceName,
			ServiceVersion:  version,
			Environment:     base.Environment,
			OTLPEndpoint:    base.OTLPEndpoint,
			TracingEnabled:  base.TracingEnabled,
			TracingSampling: base.TracingSampling,
			LogLevel:        base.LogLevel,
			LogFormat:       base.LogFormat,
			Output:          os.Stderr,
		})
		if err != nil {
			return fmt.Errorf("failed to setup telemetry: %w", err)
		}
		defer tp.Shutdown(context.Background())

		return pulse.Serve(ctx, base, tp.Logger())
	},
}

func init() {
	addFilterFlags(watchCmd, true)
	watchCmd.Flags().String("log-file", "", "Write logs to this file instead of discarding them")

	serveCmd.Flags().Int("port", 8080, "HTTP port (default $TRACELY_HTTP_PORT)")
}
