package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	// index command flags
	indexProjectID string
	indexTaskID    string
	indexJSON      bool
)

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.AddCommand(indexRebuildCmd)

	indexCmd.PersistentFlags().StringVar(&indexProjectID, "project", "", "Project scope (default: global)")
	indexCmd.PersistentFlags().StringVar(&indexTaskID, "task", "", "Task scope (requires --project)")
	indexCmd.PersistentFlags().BoolVar(&indexJSON, "json", false, "Output results as JSON")
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the adaptive scope index",
}

var indexRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the adaptive index for a scope",
	Long: `Rebuild the adaptive index for a scope and print the result.

The cached snapshot is invalidated first, so this always reflects the
store's current state, including demotions recomputed from the latest
referenced/loaded ratios.

Examples:
  # Rebuild the global index
  relevanced index rebuild

  # Rebuild a project's index
  relevanced index rebuild --project billing

  # Rebuild a task's index as JSON
  relevanced index rebuild --project billing --task migrate-ledger --json`,
	RunE: runIndexRebuild,
}

func runIndexRebuild(cmd *cobra.Command, args []string) error {
	scope, err := buildScope(indexProjectID, indexTaskID)
	if err != nil {
		return err
	}

	rt, cleanup, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	refresher := rt.registry.Refresher()
	refresher.Invalidate(scope)
	snap, err := refresher.Get(cmd.Context(), scope)
	if err != nil {
		return fmt.Errorf("rebuilding index for %s: %w", scope.Key(), err)
	}

	if indexJSON {
		return outputJSON(snap)
	}

	fmt.Printf("Scope:   %s\n", scope.Key())
	fmt.Printf("Entries: %d\n", len(snap.Entries))
	if snap.HasThreshold {
		fmt.Printf("Demotion threshold: %.3f\n", snap.Threshold)
	} else {
		fmt.Println("Demotion threshold: not enough samples")
	}

	if len(snap.Entries) == 0 {
		return nil
	}

	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIER\tCATEGORY\tRATIO\tLOADED\tREFERENCED\tFLAGS\tSUMMARY")
	for _, e := range snap.Entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%d\t%d\t%s\t%s\n",
			e.ShortID,
			e.Tier,
			e.Category,
			e.Ratio,
			e.Loaded,
			e.Referenced,
			entryFlags(e.Pinned, e.AutoInject, e.Demoted),
			truncate(e.Summary, 50),
		)
	}
	w.Flush()
	return nil
}

func entryFlags(pinned, autoInject, demoted bool) string {
	var flags []string
	if pinned {
		flags = append(flags, "pin")
	}
	if autoInject {
		flags = append(flags, "auto")
	}
	if demoted {
		flags = append(flags, "demoted")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}
