package cmd

import (
	"strconv"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all leases with their liveness",
	Long: `List every lease in the store together with the liveness of its process
and the decision a reconciliation pass would take. The store is never
modified.

Examples:
  leasegc list
  leasegc list --json
  leasegc list --yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, err := NewOutputHandler(cmd.OutOrStdout(), jsonOutput, yamlOutput)
		if err != nil {
			return err
		}

		env, err := initializeReconciler(cmd, true)
		if err != nil {
			return err
		}
		defer env.logger.Sync() //nolint:errcheck // Syncing stderr fails on some terminals

		result, err := env.reconciler.Inspect(cmd.Context())
		if err != nil {
			return err
		}

		if output.Structured() {
			return output.PrintStructured(result.Verdicts)
		}

		if len(result.Verdicts) == 0 {
			output.Printf("No sessions in %s\n", env.store.GetFilePath())
			return nil
		}

		output.Printf("%-36s %-8s %-8s %-7s %s\n", "HOLDER", "PID", "STATUS", "ACTION", "REASON")
		for _, v := range result.Verdicts {
			pid := "-"
			if v.ProcessID != nil {
				pid = strconv.Itoa(*v.ProcessID)
			}
			output.Printf("%-36s %-8s %-8s %-7s %s\n", v.HolderID, pid, v.Liveness, v.Decision, v.Reason)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(listCmd)

	AddCommonJSONFlag(listCmd)
	AddCommonYAMLFlag(listCmd)
}
