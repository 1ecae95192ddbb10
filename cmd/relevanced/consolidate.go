package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relevanced/internal/cluster"
)

var (
	// consolidate command flags
	consProjectID string
	consTaskID    string
	consFailed    bool
	consJSON      bool
)

func init() {
	rootCmd.AddCommand(consolidateCmd)

	consolidateCmd.Flags().StringVar(&consProjectID, "project", "", "Project the task belongs to (required)")
	consolidateCmd.Flags().StringVar(&consTaskID, "task", "", "Task to consolidate (required)")
	consolidateCmd.Flags().BoolVar(&consFailed, "failed", false, "Mark the task as failed; its items stay task-scoped")
	consolidateCmd.Flags().BoolVar(&consJSON, "json", false, "Output results as JSON")
	_ = consolidateCmd.MarkFlagRequired("project")
	_ = consolidateCmd.MarkFlagRequired("task")
}

var consolidateCmd = &cobra.Command{
	Use:   "consolidate",
	Short: "Promote a finished task's knowledge into its project",
	Long: `Promote a finished task's knowledge into its project scope.

On success every task-scoped item is promoted to the project and the
task original retired. With --failed nothing is promoted: the items stay
task-scoped for manual review.

Examples:
  # Consolidate a successfully completed task
  relevanced consolidate --project billing --task migrate-ledger

  # Record a failed task (keeps its items task-scoped)
  relevanced consolidate --project billing --task migrate-ledger --failed`,
	RunE: runConsolidate,
}

func runConsolidate(cmd *cobra.Command, args []string) error {
	rt, cleanup, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	req := cluster.ConsolidationRequest{
		ProjectID: consProjectID,
		TaskID:    consTaskID,
		Success:   !consFailed,
	}
	res, err := rt.registry.Consolidator().Consolidate(cmd.Context(), req)
	if err != nil {
		return fmt.Errorf("consolidating task %s/%s: %w", consProjectID, consTaskID, err)
	}

	if consJSON {
		return outputJSON(map[string]interface{}{
			"project_id": req.ProjectID,
			"task_id":    req.TaskID,
			"success":    req.Success,
			"promoted":   res.Promoted,
		})
	}

	if consFailed {
		fmt.Printf("Task %s/%s marked failed; nothing promoted\n", consProjectID, consTaskID)
		return nil
	}
	fmt.Printf("Promoted %d item(s) from task %s/%s into project %s\n",
		res.Promoted, consProjectID, consTaskID, consProjectID)
	return nil
}
