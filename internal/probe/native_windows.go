//go:build windows
// +build windows

package probe

import (
	"context"
	"time"

	"github.com/paveg/leasegc/internal/lease"
)

// checkProcess has no signal-0 equivalent on Windows, so it asks tasklist
func checkProcess(ctx context.Context, pid int, timeout time.Duration) (lease.Liveness, error) {
	return NewCommand(timeout).Check(ctx, pid)
}
