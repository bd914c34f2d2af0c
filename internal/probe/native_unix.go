//go:build !windows
// +build !windows

package probe

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/paveg/leasegc/internal/lease"
)

// checkProcess sends signal 0 to pid
func checkProcess(_ context.Context, pid int, _ time.Duration) (lease.Liveness, error) {
	err := syscall.Kill(pid, 0)
	if err == nil {
		return lease.Alive, nil
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno { //nolint:exhaustive // We only care about specific errno values
		case syscall.ESRCH:
			return lease.Dead, nil
		case syscall.EPERM:
			return lease.Alive, nil // Exists but belongs to another user
		}
	}

	return lease.Unknown, fmt.Errorf("%w: kill(%d, 0): %w", ErrProbeFailed, pid, err)
}
