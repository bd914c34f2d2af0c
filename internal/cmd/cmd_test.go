package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag of the tree to its default so package-level
// flag variables do not leak between test cases
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue) //nolint:errcheck // Defaults always parse
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// executeCommand runs the root command with args and returns stdout
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	t.Setenv("HOME", t.TempDir())
	viper.Reset()
	resetFlags(rootCmd)
	t.Cleanup(func() {
		viper.Reset()
		resetFlags(rootCmd)
	})

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(args)

	err := rootCmd.Execute()
	if testing.Verbose() && stderr.Len() > 0 {
		t.Log(stderr.String())
	}
	return stdout.String(), err
}

// writeStore writes a lease document and returns its path
func writeStore(t *testing.T, doc string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "totalstock_sessions.json")
	if doc != "" {
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	}
	return path
}

// leaseDoc renders a store document holding one live and one dead lease
func leaseDoc(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf(`{"live-session": {"process_id": %d, "user": "ana"}, "zombie-session": {"process_id": %d}}`,
		os.Getpid(), deadPID(t))
}

// deadPID returns the pid of a child that has already been reaped
func deadPID(t *testing.T) int {
	t.Helper()

	child := exec.CommandContext(context.Background(), os.Args[0], "-test.run=^$")
	require.NoError(t, child.Run())
	return child.ProcessState.Pid()
}
