package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relevanced/internal/selection"
)

var (
	// assemble command flags
	asmProjectID string
	asmTaskID    string
	asmTaskType  string
	asmTags      []string
	asmBudget    int
	asmJSON      bool
)

func init() {
	rootCmd.AddCommand(assembleCmd)

	assembleCmd.Flags().StringVar(&asmProjectID, "project", "", "Project scope (default: global)")
	assembleCmd.Flags().StringVar(&asmTaskID, "task", "", "Task scope (requires --project)")
	assembleCmd.Flags().StringVar(&asmTaskType, "task-type", "", "Task type for trigger matching")
	assembleCmd.Flags().StringSliceVar(&asmTags, "tag", nil, "Query tags for the tag boost (repeatable)")
	assembleCmd.Flags().IntVar(&asmBudget, "budget", 0, "Token budget override (default: configured budget)")
	assembleCmd.Flags().BoolVar(&asmJSON, "json", false, "Output the full result as JSON")
}

var assembleCmd = &cobra.Command{
	Use:   "assemble [query]",
	Short: "Assemble a context block for inspection",
	Long: `Assemble the context block a task with this query and scope would
receive, without injecting it anywhere.

The rendered block goes to stdout; selection metrics go to stderr, so
the block can be piped or redirected cleanly.

Examples:
  # What would a global task asking about deployments get?
  relevanced assemble "how do we deploy the billing service"

  # Scope to a project and task type
  relevanced assemble --project billing --task-type code_review "auth changes"

  # Tight budget, full detail
  relevanced assemble --budget 512 --json "rotate credentials"`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAssemble,
}

func runAssemble(cmd *cobra.Command, args []string) error {
	scope, err := buildScope(asmProjectID, asmTaskID)
	if err != nil {
		return err
	}

	query := ""
	if len(args) > 0 {
		query = args[0]
	}

	rt, cleanup, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := rt.registry.Assembler().Assemble(cmd.Context(), selection.Request{
		Query:       query,
		Scope:       scope,
		TaskType:    asmTaskType,
		QueryTags:   asmTags,
		TokenBudget: asmBudget,
	})
	if err != nil {
		return fmt.Errorf("assembling context: %w", err)
	}

	if asmJSON {
		return outputJSON(res)
	}

	fmt.Print(res.Text)
	if res.Text != "" && res.Text[len(res.Text)-1] != '\n' {
		fmt.Println()
	}

	m := res.Metrics
	fmt.Fprintf(os.Stderr, "\nvariant=%s mandates=%d guardrails=%d references=%d tokens=%d duration=%s\n",
		m.Variant, m.Mandates, m.Guardrails, m.References, m.TotalTokens, m.Duration)
	if len(m.DegradedTiers) > 0 {
		fmt.Fprintf(os.Stderr, "degraded sources: %v\n", m.DegradedTiers)
	}
	return nil
}
