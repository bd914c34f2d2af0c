package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paveg/leasegc/internal/lease"
	"github.com/paveg/leasegc/internal/lock"
	"github.com/paveg/leasegc/internal/probe"
)

// ErrLockHeld is returned when unlock finds a holder that may still be running
var ErrLockHeld = errors.New("reconciliation lock is held by a process that may still be running")

// unlockResult is the machine-readable answer of the unlock command
type unlockResult struct {
	Path    string     `json:"path" yaml:"path"`
	Locked  bool       `json:"locked" yaml:"locked"`
	Holder  *lock.Info `json:"holder,omitempty" yaml:"holder,omitempty"`
	Removed bool       `json:"removed" yaml:"removed"`
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Clear a reconciliation lock left by a crashed pass",
	Long: `Inspect the reconciliation lock file and remove it when its holder is
dead or the file is unreadable. A holder that is alive, or whose liveness
cannot be determined, is left alone unless --force is given.

Examples:
  leasegc unlock
  leasegc unlock --force
  leasegc unlock --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, err := NewOutputHandler(cmd.OutOrStdout(), jsonOutput, false)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cmd, cfg)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck // Syncing stderr fails on some terminals

		checker, err := probe.New(cfg.Probe.Method, cfg.Probe.Timeout)
		if err != nil {
			return fmt.Errorf("failed to initialize prober: %w", err)
		}

		fileLock := lock.NewFileLock(cfg.Lock.Path, cfg.Lock.Timeout, checker, logger)
		result := unlockResult{Path: cfg.Lock.Path, Locked: fileLock.IsLocked()}

		if result.Locked {
			info, infoErr := fileLock.GetLockInfo()
			if infoErr != nil && !errors.Is(infoErr, lock.ErrInvalidLockFormat) {
				return fmt.Errorf("failed to read lock: %w", infoErr)
			}
			result.Holder = info

			if info != nil && info.Liveness != lease.Dead && !force {
				if output.Structured() {
					_ = output.PrintStructured(result) //nolint:errcheck // The refusal below is the error that matters
				}
				return fmt.Errorf("%w: pid %d is %s (use --force to remove anyway)", ErrLockHeld, info.PID, info.Liveness)
			}

			if err := fileLock.ForceClearLock(); err != nil {
				return err
			}
			result.Removed = true
			logger.Info("reconciliation lock removed", zap.String("path", cfg.Lock.Path), zap.Bool("forced", force))
		}

		if output.Structured() {
			return output.PrintStructured(result)
		}

		switch {
		case !result.Locked:
			output.Printf("No reconciliation lock at %s\n", result.Path)
		case result.Holder == nil:
			output.Printf("Removed unreadable lock %s\n", result.Path)
		default:
			output.Printf("Removed lock %s held by pid %d (%s)\n", result.Path, result.Holder.PID, result.Holder.Liveness)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(unlockCmd)

	AddCommonJSONFlag(unlockCmd)
	AddCommonForceFlag(unlockCmd, "remove the lock even if its holder may be running")
}
