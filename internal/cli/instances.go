package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/recast/internal/models"
)

var instancesCmd = &cobra.Command{
	Use:   "instances [instance-id]",
	Short: "List or inspect instances",
	Long: `List every configured instance or show the settings of one.

Examples:
  recast instances          # List all instances
  recast instances docs     # Show settings for instance "docs"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInstances,
}

func init() {
	rootCmd.AddCommand(instancesCmd)
}

func runInstances(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if len(args) == 1 {
		return showInstance(ctx, args[0])
	}

	instances, err := apiClient.ListInstances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}
	if len(instances) == 0 {
		fmt.Println("No instances configured")
		return nil
	}

	fmt.Printf("%-16s %-20s %-8s %-12s %s\n", "ID", "COLLECTION", "ACTIVE", "SCHEDULE", "LAST RUN")
	fmt.Println("------------------------------------------------------------------------")
	for _, inst := range instances {
		fmt.Printf("%-16s %-20s %-8t %-12s %s\n",
			inst.ID, inst.Collection, inst.Active, scheduleLabel(&inst), formatTime(inst.LastRun))
	}
	return nil
}

func showInstance(ctx context.Context, id string) error {
	inst, err := apiClient.GetInstance(ctx, id)
	if err != nil {
		return fmt.Errorf("get instance: %w", err)
	}

	fmt.Printf("Instance: %s\n", inst.ID)
	if inst.Name != "" {
		fmt.Printf("  Name: %s\n", inst.Name)
	}
	fmt.Printf("  Collection: %s\n", inst.Collection)
	if inst.Filter != "" {
		fmt.Printf("  Filter: %s\n", inst.Filter)
	}
	fmt.Printf("  Fields: key=%s text=%s", inst.PrimaryKey, inst.TextField)
	if inst.VectorField != "" {
		fmt.Printf(" vector=%s", inst.VectorField)
	}
	fmt.Println()
	fmt.Printf("  Model: %s\n", inst.GenerativeModel)
	if inst.EmbeddingModel != "" {
		fmt.Printf("  Embedding model: %s\n", inst.EmbeddingModel)
	}
	fmt.Printf("  Two-pass: %t", inst.TwoPass)
	if inst.TwoPass {
		fmt.Printf(" (threshold %.2f)", inst.Threshold())
	}
	fmt.Println()
	fmt.Printf("  Schedule: %s\n", scheduleLabel(inst))
	fmt.Printf("  Last run: %s\n", formatTime(inst.LastRun))
	if verbose {
		fmt.Printf("\nPrompt template:\n%s\n", inst.PromptTemplate)
	}
	return nil
}

func scheduleLabel(inst *models.Instance) string {
	if !inst.ScheduleEnabled {
		return "manual"
	}
	switch inst.ScheduleKind {
	case models.ScheduleInterval:
		return fmt.Sprintf("every %dm", inst.ScheduleIntervalMinutes)
	case models.ScheduleDaily:
		return "daily " + inst.ScheduleTime
	case models.ScheduleTwiceDaily:
		return "2x " + inst.ScheduleTime + "," + inst.ScheduleSecondTime
	case models.ScheduleWeekly:
		return fmt.Sprintf("weekly %d %s", inst.ScheduleWeekday, inst.ScheduleTime)
	}
	return string(inst.ScheduleKind)
}
