package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flushJSON bool

func init() {
	rootCmd.AddCommand(flushCmd)
	flushCmd.Flags().BoolVar(&flushJSON, "json", false, "Output results as JSON")
}

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush buffered usage deltas to the store",
	Long: `Flush buffered usage deltas to the store.

Usage counters (loaded, referenced, feedback) accumulate in memory and
flush on a schedule. This forces one flush now, which is mainly useful
before inspecting effectiveness ratios or rebuilding an index.`,
	RunE: runFlush,
}

func runFlush(cmd *cobra.Command, args []string) error {
	rt, cleanup, err := newRuntime(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	tracker := rt.registry.Tracker()
	pending := tracker.Pending()
	if err := tracker.Flush(cmd.Context()); err != nil {
		return fmt.Errorf("flushing usage deltas: %w", err)
	}

	if flushJSON {
		return outputJSON(map[string]interface{}{
			"flushed":   pending,
			"remaining": tracker.Pending(),
		})
	}

	fmt.Printf("Flushed %d pending delta(s), %d remaining\n", pending, tracker.Pending())
	return nil
}
