// Package cmd contains CLI commands.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/tracely/pulse/cli/internal/client"
	"github.com/tracely/pulse/cli/internal/config"
	"github.com/tracely/pulse/cli/internal/output"
)

// version is set at build time with -ldflags "-X .../cli/cmd.version=...".
var version = "0.1.0"

var (
	cfg       *config.Config
	format    string
	verbose   bool
	serverURL string
	noColor   bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "tracely",
	Short: "TRACELY CLI - live request stream of a TRACELY project",
	Long: `Tracely follows the live span stream of a TRACELY project.

The query commands talk to a running pulse server (see "tracely serve");
"tracely watch" runs its own stream in the terminal.

Examples:
  # Follow server errors as they arrive
  tracely tail --status 5xx

  # Show the waterfall of one trace
  tracely trace 4bf92f3577b34da6a3ce929d0e0e4736

  # Request histogram of the last hour
  tracely timeline --range 1h

  # Interactive live view
  tracely watch
`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.DefaultConfig()
		if format != "" {
			cfg.Format = format
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}
		if noColor {
			cfg.NoColor = true
		}
		cfg.Verbose = cfg.Verbose || verbose
	},
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "Pulse server URL (default $TRACELY_SERVER_URL or http://localhost:8080)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colors")

	// Add subcommands
	rootCmd.AddCommand(spansCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(traceCmd)
	rootCmd.AddCommand(spanCmd)
	rootCmd.AddCommand(timelineCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("tracely version " + version)
	},
}

func newClient() *client.Client {
	return client.New(cfg.ServerURL, cfg.Timeout)
}

func writer(cmd *cobra.Command) *output.Writer {
	return output.NewWriterTo(cfg.Format, cmd.OutOrStdout())
}
