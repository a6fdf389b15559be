// Package cli provides the command-line interface for recast.
package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/recast/internal/client"
	"github.com/raphaelgruber/recast/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "recast",
	Short: "Batch LLM augmentation of stored records",
	Long: `Recast rewrites a text field of every record in a collection through a
generative model and, optionally, refreshes an embedding of the result.

Instances describe what to rewrite; jobs are single sweeps over an instance.
All commands talk to a running recast-server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		url := serverURL
		if url == "" {
			url = config.Load().ServerURL
		}
		apiClient = client.New(url)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $RECAST_SERVER_URL)")
}

// formatTime renders an optional timestamp for tables.
func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
