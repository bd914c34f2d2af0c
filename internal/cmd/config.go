package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/paveg/leasegc/internal/config"
)

// ErrConfigExists is returned by config init when the target already exists
var ErrConfigExists = errors.New("configuration file already exists")

const defaultConfigFile = ".leasegc.yml"

const configHeader = `# leasegc configuration
# Environment variables override these values, e.g. LEASEGC_PROBE_METHOD=command

`

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Inspect and initialize the leasegc configuration file.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration",
	Long: `Write a configuration file holding the default values. The file goes to
the path given with --file, otherwise .leasegc.yml in the current directory.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		configPath := defaultConfigFile
		if configFile != "" {
			configPath = configFile
		}

		if _, err := os.Stat(configPath); err == nil && !force {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, configPath)
		}

		data, err := yaml.Marshal(config.Default().Portable())
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}

		if dir := filepath.Dir(configPath); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
		if err := os.WriteFile(configPath, append([]byte(configHeader), data...), 0o600); err != nil {
			return fmt.Errorf("error creating configuration file: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration file created: %s\n", configPath) //nolint:errcheck // Terminal output
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after defaults, config file, environment and flags.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		output, err := NewOutputHandler(cmd.OutOrStdout(), jsonOutput, !jsonOutput)
		if err != nil {
			return err
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if !jsonOutput {
			source := viper.ConfigFileUsed()
			if source == "" {
				source = "(defaults)"
			}
			output.Printf("# Config file: %s\n", source)
		}
		return output.PrintStructured(cfg)
	},
}

var configFile string

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().StringVar(&configFile, "file", "", "configuration file path")
	AddCommonForceFlag(configInitCmd, "overwrite existing configuration")

	AddCommonJSONFlag(configShowCmd)
}
