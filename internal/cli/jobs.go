package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/recast/internal/client"
	"github.com/raphaelgruber/recast/internal/models"
)

var (
	jobsStatus   string
	jobsInstance string
	jobsLimit    int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect jobs",
	Long: `List jobs newest first or inspect a specific job by ID.

Examples:
  recast jobs                      # List recent jobs
  recast jobs --status failed      # Only failed jobs
  recast jobs 0b6c...              # Show details for one job`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func init() {
	jobsCmd.Flags().StringVar(&jobsStatus, "status", "", "filter by status")
	jobsCmd.Flags().StringVar(&jobsInstance, "instance", "", "filter by instance ID")
	jobsCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of jobs")
	rootCmd.AddCommand(jobsCmd)
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if len(args) == 1 {
		return showJob(ctx, args[0])
	}
	return listJobs(ctx)
}

func listJobs(ctx context.Context) error {
	jobs, err := apiClient.ListJobs(ctx, client.JobQuery{
		Status:     models.JobStatus(jobsStatus),
		InstanceID: jobsInstance,
		Limit:      jobsLimit,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("%-36s %-14s %-14s %-10s %-12s %s\n", "ID", "INSTANCE", "KIND", "STATUS", "PROGRESS", "CREATED")
	fmt.Println("------------------------------------------------------------------------------------------------------")
	for _, job := range jobs {
		fmt.Printf("%-36s %-14s %-14s %-10s %-12s %s\n",
			job.ID, job.InstanceID, job.Kind, job.Status, progressLabel(&job), formatTime(&job.CreatedAt))
	}
	return nil
}

func showJob(ctx context.Context, id string) error {
	job, err := apiClient.GetJob(ctx, id)
	if err != nil {
		return fmt.Errorf("get job: %w", err)
	}
	printJob(job)
	return nil
}

func printJob(job *models.Job) {
	fmt.Printf("Job: %s\n", job.ID)
	fmt.Printf("  Instance: %s\n", job.InstanceID)
	fmt.Printf("  Kind: %s\n", job.Kind)
	fmt.Printf("  Status: %s\n", job.Status)
	fmt.Printf("  Progress: %s (failed %d)\n", progressLabel(job), job.FailedRecords)
	if job.Pass1Seen > 0 {
		fmt.Printf("  Pass 1: %d seen, %d resolved\n", job.Pass1Seen, job.Pass1Resolved)
		fmt.Printf("  Pass 2: %d escalated, %d completed\n", job.Pass2Escalated, job.Pass2Completed)
	}
	if job.EmbeddingsFailed > 0 {
		fmt.Printf("  Embeddings failed: %d\n", job.EmbeddingsFailed)
	}
	fmt.Printf("  Started: %s\n", formatTime(job.StartedAt))
	if job.CompletedAt != nil {
		fmt.Printf("  Finished: %s\n", formatTime(job.CompletedAt))
		if job.StartedAt != nil {
			fmt.Printf("  Duration: %s\n", job.CompletedAt.Sub(*job.StartedAt).Round(time.Second))
		}
	}
	if job.Details != "" {
		fmt.Printf("\nDetails:\n%s\n", formatDetails(job.Details))
	}
}

// progressLabel renders done/total, or just done when the total is unknown.
func progressLabel(job *models.Job) string {
	if total, ok := job.Total(); ok {
		return fmt.Sprintf("%d/%d", job.Done(), total)
	}
	return fmt.Sprintf("%d/?", job.Done())
}

// formatDetails pretty-prints JSON details and passes anything else through.
func formatDetails(details string) string {
	var v any
	if err := json.Unmarshal([]byte(details), &v); err != nil {
		return "  " + details
	}
	out, err := json.MarshalIndent(v, "  ", "  ")
	if err != nil {
		return "  " + details
	}
	return "  " + string(out)
}
