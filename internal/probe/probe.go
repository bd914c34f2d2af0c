// Package probe answers whether an operating-system process id is live.
// Probes never turn a failed query into Dead; a failure is Unknown plus an
// error so callers can keep the lease.
package probe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/paveg/leasegc/internal/lease"
)

// DefaultTimeout bounds a single probe
const DefaultTimeout = 5 * time.Second

// Probe methods
const (
	MethodNative  = "native"  // Process table query through the OS API
	MethodCommand = "command" // Parse the output of ps / tasklist
)

// Static error variables to satisfy err113 linter
var (
	ErrInvalidPID    = errors.New("invalid process id")
	ErrProbeFailed   = errors.New("liveness probe failed")
	ErrProbeTimeout  = errors.New("liveness probe timed out")
	ErrUnknownMethod = errors.New("unknown probe method")
)

// New returns the prober for method
func New(method string, timeout time.Duration) (lease.LivenessChecker, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	switch method {
	case MethodNative, "":
		return NewNative(timeout), nil
	case MethodCommand:
		return NewCommand(timeout), nil
	default:
		return nil, fmt.Errorf("%w: %q (expected %q or %q)", ErrUnknownMethod, method, MethodNative, MethodCommand)
	}
}

type outcome struct {
	liveness lease.Liveness
	err      error
}

// CheckWithTimeout runs checker.Check and gives up after timeout even if the
// checker ignores its context. A timed out probe is Unknown.
func CheckWithTimeout(ctx context.Context, checker lease.LivenessChecker, pid int, timeout time.Duration) (lease.Liveness, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		liveness, err := checker.Check(ctx, pid)
		done <- outcome{liveness: liveness, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return lease.Unknown, res.err
		}
		return res.liveness, nil
	case <-ctx.Done():
		return lease.Unknown, fmt.Errorf("%w: pid %d after %v: %w", ErrProbeTimeout, pid, timeout, ctx.Err())
	}
}

// validatePID rejects ids that cannot name a single process. pid_t is 32
// bits, so larger values would be truncated by kill(2).
func validatePID(pid int) error {
	if pid <= 0 || pid > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	return nil
}
