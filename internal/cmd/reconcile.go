package cmd

import (
	"github.com/spf13/cobra"

	"github.com/paveg/leasegc/internal/lease"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove leases whose process is dead",
	Long: `Run one reconciliation pass over the lease store: load every lease,
probe its owning process and write back the leases that are still alive or
whose liveness is unknown.

A missing store is treated as empty and is not created. A corrupt store is
reported and left untouched.

Examples:
  leasegc reconcile
  leasegc reconcile --dry-run -v
  leasegc reconcile --json`,
	Args: cobra.NoArgs,
	RunE: runReconcile,
}

func init() {
	rootCmd.AddCommand(reconcileCmd)

	AddCommonDryRunFlag(reconcileCmd)
	AddCommonJSONFlag(reconcileCmd)
}

func runReconcile(cmd *cobra.Command, _ []string) error {
	output, err := NewOutputHandler(cmd.OutOrStdout(), jsonOutput, false)
	if err != nil {
		return err
	}

	env, err := initializeReconciler(cmd, dryRun)
	if err != nil {
		return err
	}
	defer env.logger.Sync() //nolint:errcheck // Syncing stderr fails on some terminals

	result, runErr := env.reconciler.Reconcile(cmd.Context())
	if result == nil {
		result = &lease.Result{DryRun: dryRun}
	}

	if output.Structured() {
		if err := output.PrintStructured(result); err != nil {
			return err
		}
		return runErr
	}

	printSummary(output, result)
	return runErr
}

// printSummary writes the one-line pass summary, plus per-lease detail in
// verbose mode
func printSummary(output *OutputHandler, result *lease.Result) {
	if result.DryRun {
		output.Printf("Dry run: checked %d session(s): %d kept, %d would be removed\n",
			result.Checked, result.Kept, result.Removed)
	} else {
		output.Printf("Checked %d session(s): %d kept, %d removed\n",
			result.Checked, result.Kept, result.Removed)
	}

	if !verbose {
		return
	}
	for _, holder := range result.RemovedHolders() {
		output.Printf("  - %s\n", holder)
	}
}
