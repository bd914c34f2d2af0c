package probe

import (
	"context"
	"time"

	"github.com/paveg/leasegc/internal/lease"
)

// Native queries the process table directly: signal 0 on Unix, the
// command fallback on Windows
type Native struct {
	timeout time.Duration
}

// NewNative creates a native prober
func NewNative(timeout time.Duration) *Native {
	return &Native{timeout: timeout}
}

// Check reports the liveness of pid
func (n *Native) Check(ctx context.Context, pid int) (lease.Liveness, error) {
	if err := validatePID(pid); err != nil {
		return lease.Unknown, err
	}
	if err := ctx.Err(); err != nil {
		return lease.Unknown, err //nolint:wrapcheck // Context errors are returned as-is
	}

	return checkProcess(ctx, pid, n.timeout)
}
