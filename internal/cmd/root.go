// Package cmd provides the command-line interface for leasegc.
// It implements all CLI commands using the Cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paveg/leasegc/internal/config"
)

// Version is the leasegc release, overridden at build time via -ldflags
var Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:   "leasegc",
	Short: "Reap session leases left behind by dead processes",
	Long: `leasegc garbage-collects the TotalStock session lease store.

Every running instance registers a lease keyed by its holder id, together
with its operating-system process id. When an instance crashes its lease
stays behind. leasegc probes each lease's process and removes the leases
whose process is confirmed dead. Leases without a process id, or whose
liveness cannot be determined, are always kept.

Running leasegc without a subcommand performs one reconciliation pass.`,
	Version:      Version,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if verbose && viper.ConfigFileUsed() != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "Using config file:", viper.ConfigFileUsed()) //nolint:errcheck // Terminal output
		}
	},
	RunE: runReconcile,
}

// Execute runs the root command
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("command execution failed: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.leasegc.yml)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "lease store path (default is $TMPDIR/totalstock_sessions.json)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	AddCommonDryRunFlag(rootCmd)
	AddCommonJSONFlag(rootCmd)
}

// initConfig runs before every command; flag bindings are renewed here so
// they survive a viper.Reset
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".leasegc")
	}

	config.ConfigureEnv()

	bindings := map[string]string{
		"store.path": "store",
		"log_level":  "log-level",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to bind %s flag: %v\n", flag, err) //nolint:errcheck // Terminal output
		}
	}
}
