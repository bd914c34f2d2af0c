package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute(t *testing.T) {
	t.Run("help_command_success", func(t *testing.T) {
		output, err := executeCommand(t, "--help")
		require.NoError(t, err)
		assert.Contains(t, output, "leasegc garbage-collects")
	})

	t.Run("version_command_success", func(t *testing.T) {
		output, err := executeCommand(t, "--version")
		require.NoError(t, err)
		assert.Contains(t, output, Version)
	})

	t.Run("invalid_command_error", func(t *testing.T) {
		_, err := executeCommand(t, "invalid-command")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown command")
	})

	t.Run("missing_config_file_error", func(t *testing.T) {
		_, err := executeCommand(t, "--config", "/nonexistent/leasegc.yml", "--store", writeStore(t, ""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration")
	})
}

func TestRootCommandStructure(t *testing.T) {
	t.Run("command_metadata", func(t *testing.T) {
		assert.Equal(t, "leasegc", rootCmd.Use)
		assert.NotEmpty(t, rootCmd.Short)
		assert.Equal(t, Version, rootCmd.Version)
		assert.True(t, rootCmd.SilenceUsage)
		assert.NotNil(t, rootCmd.RunE, "running without a subcommand reconciles")
	})

	t.Run("persistent_flags", func(t *testing.T) {
		tests := []struct {
			name     string
			defValue string
		}{
			{name: "config", defValue: ""},
			{name: "store", defValue: ""},
			{name: "verbose", defValue: "false"},
			{name: "log-level", defValue: ""},
		}

		for _, tt := range tests {
			flag := rootCmd.PersistentFlags().Lookup(tt.name)
			require.NotNil(t, flag, tt.name)
			assert.Equal(t, tt.defValue, flag.DefValue, tt.name)
		}

		verboseShort := rootCmd.PersistentFlags().ShorthandLookup("v")
		assert.Equal(t, rootCmd.PersistentFlags().Lookup("verbose"), verboseShort)
	})

	t.Run("has_subcommands", func(t *testing.T) {
		cmdNames := make([]string, 0, len(rootCmd.Commands()))
		for _, cmd := range rootCmd.Commands() {
			cmdNames = append(cmdNames, cmd.Name())
		}

		for _, expected := range []string{"reconcile", "list", "check", "config", "unlock"} {
			assert.Contains(t, cmdNames, expected, "Missing expected command: %s", expected)
		}
	})
}
