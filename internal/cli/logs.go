package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var logsLimit int

var logsCmd = &cobra.Command{
	Use:   "logs <job-id>",
	Short: "Show a job's log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logs, err := apiClient.JobLogs(context.Background(), args[0], logsLimit)
		if err != nil {
			return fmt.Errorf("job logs: %w", err)
		}
		if len(logs) == 0 {
			fmt.Println("No log entries")
			return nil
		}
		for _, entry := range logs {
			fmt.Printf("%s %-5s %s\n",
				entry.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				strings.ToUpper(string(entry.Level)),
				entry.Message)
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job",
	Long: `Cancel a pending, running or failed job. A page already in flight
finishes, and no further pages are processed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.CancelJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("cancel job: %w", err)
		}
		fmt.Printf("Job %s cancelled at %s\n", job.ID, progressLabel(job))
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a failed job",
	Long: `Move a failed full execution back to running from its saved offset.
Jobs that failed on a configuration error are only resumed this way.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		job, err := apiClient.ResumeJob(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("resume job: %w", err)
		}
		fmt.Printf("Job %s resumed at %s\n", job.ID, progressLabel(job))
		return nil
	},
}

func init() {
	logsCmd.Flags().IntVarP(&logsLimit, "limit", "n", 0, "only show the newest n entries")
	rootCmd.AddCommand(logsCmd, cancelCmd, resumeCmd)
}
