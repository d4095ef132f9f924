// Package cmd contains CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath string
	format     string
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "tidewatch",
	Short: "Tidewatch - embeddable observability collection engine",
	Long: `Tidewatch collects metrics, trace spans, logs, and health checks,
aggregates them into windowed snapshots, evaluates alert rules, and
exports finalized batches to configurable sinks.

Examples:
  # Run the engine with a config file
  tidewatch serve --config /etc/tidewatch/config.yaml

  # Validate a config and its alert rules without starting
  tidewatch check-config --config /etc/tidewatch/config.yaml
`,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVarP(&format, "output", "o", "", "Output format (table, json, yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkConfigCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints version info.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("tidewatch version 0.1.0")
	},
}
