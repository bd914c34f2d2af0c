package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/paveg/leasegc/internal/lease"
	"github.com/paveg/leasegc/internal/probe"
)

// checkResult is the machine-readable answer of the check command
type checkResult struct {
	PID      int            `json:"pid" yaml:"pid"`
	Liveness lease.Liveness `json:"liveness" yaml:"liveness"`
	Error    string         `json:"error,omitempty" yaml:"error,omitempty"`
}

var checkCmd = &cobra.Command{
	Use:   "check <pid>",
	Short: "Probe whether a process id is alive",
	Long: `Probe a single process id with the configured liveness method and print
alive, dead or unknown. Useful to see what a reconciliation pass would
conclude about one lease.

Examples:
  leasegc check 4242
  leasegc check 4242 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("%w: %q", probe.ErrInvalidPID, args[0])
		}

		output, err := NewOutputHandler(cmd.OutOrStdout(), jsonOutput, false)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		checker, err := probe.New(cfg.Probe.Method, cfg.Probe.Timeout)
		if err != nil {
			return err
		}

		liveness, probeErr := probe.CheckWithTimeout(cmd.Context(), checker, pid, cfg.Probe.Timeout)
		result := checkResult{PID: pid, Liveness: liveness}
		if probeErr != nil {
			result.Error = probeErr.Error()
		}

		if output.Structured() {
			return output.PrintStructured(result)
		}

		output.Printf("Process %d: %s\n", pid, liveness)
		if probeErr != nil && verbose {
			output.Printf("  %v\n", probeErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)

	AddCommonJSONFlag(checkCmd)
}
