package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/relevanced/internal/rules"
)

var (
	// rules command flags
	rulesProjectID string
	rulesTaskID    string
	rulesDryRun    bool
	rulesJSON      bool
)

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesMigrateCmd)

	rulesMigrateCmd.Flags().StringVar(&rulesProjectID, "project", "", "Target project scope (default: global)")
	rulesMigrateCmd.Flags().StringVar(&rulesTaskID, "task", "", "Target task scope (requires --project)")
	rulesMigrateCmd.Flags().BoolVar(&rulesDryRun, "dry-run", false, "Parse and classify without writing to the store")
	rulesMigrateCmd.Flags().BoolVar(&rulesJSON, "json", false, "Output results as JSON")
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Manage static rule migration",
}

var rulesMigrateCmd = &cobra.Command{
	Use:   "migrate [file]",
	Short: "Migrate a static rule file into the knowledge store",
	Long: `Migrate a static rule file into the knowledge store.

Each bullet or line becomes one knowledge item. Prohibitions ("never",
"must not") become guardrails, obligations ("always", "must") become
mandates, everything else becomes reference knowledge. Rules whose exact
text already exists in the target scope are skipped, so re-running a
migration is harmless.

Examples:
  # Migrate a global rule file
  relevanced rules migrate conventions.md

  # Migrate into a project scope
  relevanced rules migrate --project billing rules.md

  # Migrate from stdin
  cat rules.md | relevanced rules migrate -

  # See the classification without writing anything
  relevanced rules migrate --dry-run rules.md`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRulesMigrate,
}

func runRulesMigrate(cmd *cobra.Command, args []string) error {
	scope, err := buildScope(rulesProjectID, rulesTaskID)
	if err != nil {
		return err
	}

	var text []byte
	if len(args) == 0 || args[0] == "-" {
		text, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading from stdin: %w", err)
		}
	} else {
		text, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading rule file %s: %w", args[0], err)
		}
	}
	if len(text) == 0 {
		return fmt.Errorf("no rule text to migrate")
	}

	if rulesDryRun {
		return printParsedRules(string(text))
	}

	rt, cleanup, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	migrator := rules.NewMigrator(rt.registry.Store(), rt.logger)
	report, err := migrator.Migrate(cmd.Context(), string(text), scope)
	if err != nil {
		return fmt.Errorf("migrating rules: %w", err)
	}

	if rulesJSON {
		return outputJSON(report)
	}

	fmt.Printf("Scope:    %s\n", scope.Key())
	fmt.Printf("Parsed:   %d\n", report.Parsed)
	fmt.Printf("Inserted: %d\n", report.Inserted)
	fmt.Printf("Skipped:  %d (already present)\n", report.Skipped)

	if len(report.Items) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTIER\tCATEGORY\tCONTENT")
		for _, it := range report.Items {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				it.ShortID(),
				it.Tier,
				it.Source.Category,
				truncate(it.Content, 60),
			)
		}
		w.Flush()
	}
	return nil
}

// printParsedRules reports what a migration would insert, without a store.
func printParsedRules(text string) error {
	parsed := rules.ParseRules(text)
	if rulesJSON {
		return outputJSON(parsed)
	}

	fmt.Printf("Parsed %d rule(s) (dry run, nothing written)\n\n", len(parsed))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tCONTENT")
	for _, r := range parsed {
		fmt.Fprintf(w, "%s\t%s\n", r.Tier, truncate(r.Text, 70))
	}
	w.Flush()
	return nil
}
