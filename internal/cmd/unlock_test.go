package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLock(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func lockContent(pid int) string {
	return fmt.Sprintf("%d\n%d\n", pid, time.Now().Unix())
}

func TestUnlockCommand(t *testing.T) {
	tests := []struct {
		name         string
		lock         func(t *testing.T) string
		args         []string
		expectErr    error
		expectOutput string
		expectGone   bool
	}{
		{
			name:         "no_lock",
			lock:         func(_ *testing.T) string { return "" },
			expectOutput: "No reconciliation lock at",
			expectGone:   true,
		},
		{
			name:         "dead_holder_removed",
			lock:         func(t *testing.T) string { return lockContent(deadPID(t)) },
			expectOutput: "(dead)",
			expectGone:   true,
		},
		{
			name:         "unreadable_lock_removed",
			lock:         func(_ *testing.T) string { return "garbage" },
			expectOutput: "Removed unreadable lock",
			expectGone:   true,
		},
		{
			name:       "alive_holder_refused",
			lock:       func(_ *testing.T) string { return lockContent(os.Getpid()) },
			expectErr:  ErrLockHeld,
			expectGone: false,
		},
		{
			name:         "alive_holder_forced",
			lock:         func(_ *testing.T) string { return lockContent(os.Getpid()) },
			args:         []string{"--force"},
			expectOutput: "(alive)",
			expectGone:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			storePath := writeStore(t, "")
			lockPath := storePath + ".lock"
			if content := tt.lock(t); content != "" {
				writeLock(t, lockPath, content)
			}

			args := append([]string{"unlock", "--store", storePath}, tt.args...)
			output, err := executeCommand(t, args...)

			if tt.expectErr != nil {
				require.ErrorIs(t, err, tt.expectErr)
			} else {
				require.NoError(t, err)
				assert.Contains(t, output, tt.expectOutput)
			}

			if tt.expectGone {
				assert.NoFileExists(t, lockPath)
			} else {
				assert.FileExists(t, lockPath)
			}
		})
	}
}

func TestUnlockCommand_JSONOutput(t *testing.T) {
	storePath := writeStore(t, "")
	writeLock(t, storePath+".lock", lockContent(deadPID(t)))

	output, err := executeCommand(t, "unlock", "--json", "--store", storePath)
	require.NoError(t, err)

	var result struct {
		Path    string `json:"path"`
		Locked  bool   `json:"locked"`
		Removed bool   `json:"removed"`
		Holder  struct {
			PID      int    `json:"pid"`
			Liveness string `json:"liveness"`
		} `json:"holder"`
	}
	require.NoError(t, json.Unmarshal([]byte(output), &result))
	assert.Equal(t, storePath+".lock", result.Path)
	assert.True(t, result.Locked)
	assert.True(t, result.Removed)
	assert.Equal(t, "dead", result.Holder.Liveness)
}

func TestUnlockCommand_ReleasesLockForReconcile(t *testing.T) {
	storePath := writeStore(t, leaseDoc(t))
	writeLock(t, storePath+".lock", lockContent(deadPID(t)))

	_, err := executeCommand(t, "unlock", "--store", storePath)
	require.NoError(t, err)

	output, err := executeCommand(t, "reconcile", "--store", storePath)
	require.NoError(t, err)
	assert.Contains(t, output, "1 removed")
}
