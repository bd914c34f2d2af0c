package probe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paveg/leasegc/internal/lease"
)

func fakeCommand(goos string, output string, err error) *Command {
	return &Command{
		timeout: time.Second,
		goos:    goos,
		run: func(_ context.Context, _ string, _ ...string) ([]byte, error) {
			return []byte(output), err
		},
	}
}

func TestCommand_CheckPS(t *testing.T) {
	listing := "    1\n   12345\n  123\n 4567\n"

	tests := []struct {
		name     string
		pid      int
		expected lease.Liveness
	}{
		{name: "listed_pid", pid: 123, expected: lease.Alive},
		{name: "first_pid", pid: 1, expected: lease.Alive},
		{name: "prefix_of_listed_pid_is_not_a_match", pid: 12, expected: lease.Dead},
		{name: "suffix_of_listed_pid_is_not_a_match", pid: 45, expected: lease.Dead},
		{name: "unlisted_pid", pid: 999, expected: lease.Dead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			liveness, err := fakeCommand("linux", listing, nil).Check(context.Background(), tt.pid)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, liveness)
		})
	}
}

func TestCommand_CheckTasklist(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		pid      int
		expected lease.Liveness
	}{
		{
			name:     "listed_pid",
			output:   "\"TotalStock.exe\",\"4321\",\"Console\",\"1\",\"120,344 K\"\r\n",
			pid:      4321,
			expected: lease.Alive,
		},
		{
			name:     "memory_column_does_not_match",
			output:   "\"TotalStock.exe\",\"4321\",\"Console\",\"1\",\"120,344 K\"\r\n",
			pid:      120,
			expected: lease.Dead,
		},
		{
			name:     "prefix_is_not_a_match",
			output:   "\"python.exe\",\"123\",\"Console\",\"1\",\"9,000 K\"\r\n",
			pid:      12,
			expected: lease.Dead,
		},
		{
			name:     "no_tasks_info_line",
			output:   "INFO: No tasks are running which match the specified criteria.\r\n",
			pid:      4321,
			expected: lease.Dead,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			liveness, err := fakeCommand("windows", tt.output, nil).Check(context.Background(), tt.pid)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, liveness)
		})
	}
}

func TestCommand_CheckFailures(t *testing.T) {
	t.Run("runner_error_is_unknown", func(t *testing.T) {
		liveness, err := fakeCommand("linux", "", errors.New("exec: \"ps\": executable file not found")).
			Check(context.Background(), 111)
		require.ErrorIs(t, err, ErrProbeFailed)
		assert.Equal(t, lease.Unknown, liveness)
	})

	t.Run("empty_ps_output_is_unknown", func(t *testing.T) {
		liveness, err := fakeCommand("darwin", "\n", nil).Check(context.Background(), 111)
		require.ErrorIs(t, err, ErrUnparsableOutput)
		assert.Equal(t, lease.Unknown, liveness)
	})

	t.Run("invalid_pid", func(t *testing.T) {
		liveness, err := fakeCommand("linux", "1\n", nil).Check(context.Background(), 0)
		require.ErrorIs(t, err, ErrInvalidPID)
		assert.Equal(t, lease.Unknown, liveness)
	})

	t.Run("timeout_is_unknown", func(t *testing.T) {
		command := &Command{
			timeout: 20 * time.Millisecond,
			goos:    "linux",
			run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
				<-ctx.Done()
				return nil, ctx.Err()
			},
		}

		liveness, err := command.Check(context.Background(), 111)
		require.ErrorIs(t, err, ErrProbeTimeout)
		assert.Equal(t, lease.Unknown, liveness)
	})
}

func TestListCommand(t *testing.T) {
	name, args := listCommand("linux", 42)
	assert.Equal(t, "ps", name)
	assert.Equal(t, []string{"-A", "-o", "pid="}, args)

	name, args = listCommand("windows", 42)
	assert.Equal(t, "tasklist", name)
	assert.Contains(t, args, "PID eq 42")
	assert.Contains(t, args, "CSV")
}
