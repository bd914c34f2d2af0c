package probe

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/paveg/leasegc/internal/lease"
)

// ErrUnparsableOutput is returned when a process listing cannot be read
var ErrUnparsableOutput = errors.New("unparsable process listing")

// Runner executes a process-listing utility and returns its stdout
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Command lists processes with a platform utility and looks for the pid
// as a whole token in the output
type Command struct {
	timeout time.Duration
	goos    string
	run     Runner
}

// NewCommand creates a command-based prober for the current platform
func NewCommand(timeout time.Duration) *Command {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Command{
		timeout: timeout,
		goos:    runtime.GOOS,
		run:     execRunner,
	}
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// Check reports the liveness of pid
func (c *Command) Check(ctx context.Context, pid int) (lease.Liveness, error) {
	if err := validatePID(pid); err != nil {
		return lease.Unknown, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	name, args := listCommand(c.goos, pid)
	output, err := c.run(ctx, name, args...)
	if err != nil {
		if ctx.Err() != nil {
			return lease.Unknown, fmt.Errorf("%w: %s after %v: %w", ErrProbeTimeout, name, c.timeout, err)
		}
		return lease.Unknown, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	var found bool
	if c.goos == "windows" {
		found, err = tasklistHasPID(output, pid)
	} else {
		found, err = psHasPID(output, pid)
	}
	if err != nil {
		return lease.Unknown, fmt.Errorf("%w: %w", ErrProbeFailed, err)
	}

	if found {
		return lease.Alive, nil
	}
	return lease.Dead, nil
}

// listCommand returns the utility invocation for goos
func listCommand(goos string, pid int) (string, []string) {
	if goos == "windows" {
		return "tasklist", []string{"/FI", fmt.Sprintf("PID eq %d", pid), "/FO", "CSV", "/NH"}
	}
	return "ps", []string{"-A", "-o", "pid="}
}

// psHasPID scans `ps -o pid=` output, one pid per line. An empty listing
// cannot be right (ps itself is running) and is reported as unparsable.
func psHasPID(output []byte, pid int) (bool, error) {
	want := strconv.Itoa(pid)
	fields := strings.Fields(string(output))
	if len(fields) == 0 {
		return false, fmt.Errorf("%w: empty ps output", ErrUnparsableOutput)
	}

	for _, field := range fields {
		if field == want {
			return true, nil
		}
	}
	return false, nil
}

// tasklistHasPID scans `tasklist /FO CSV /NH` output where the pid is the
// second column. The "INFO: No tasks" line has a single column.
func tasklistHasPID(output []byte, pid int) (bool, error) {
	want := strconv.Itoa(pid)

	reader := csv.NewReader(bytes.NewReader(output))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("%w: %w", ErrUnparsableOutput, err)
		}
		if len(record) >= 2 && strings.TrimSpace(record[1]) == want {
			return true, nil
		}
	}
}
