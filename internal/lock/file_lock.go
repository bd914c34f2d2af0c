// Package lock serializes reconciliation passes with an advisory lock file.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/paveg/leasegc/internal/lease"
	"github.com/paveg/leasegc/internal/probe"
)

// Static error variables to satisfy err113 linter
var (
	ErrLockTimeout       = errors.New("failed to acquire lock within timeout")
	ErrNotOwner          = errors.New("cannot unlock: we don't own the lock")
	ErrInvalidLockFormat = errors.New("invalid lock file format")
	ErrStaleLockRemoval  = errors.New("failed to remove stale lock")
)

const (
	retryInterval = 100 * time.Millisecond

	// A freshly created lock is empty until its owner writes the pid
	invalidLockGrace = time.Second
)

// FileLock is an O_EXCL lock file holding the owner's pid and timestamp
type FileLock struct {
	lockFile     string
	lockTimeout  time.Duration
	checker      lease.LivenessChecker
	probeTimeout time.Duration
	logger       *zap.Logger
	locked       bool
	removeFile   func(name string) error
}

// NewFileLock creates a lock on lockFile. checker decides whether an
// existing holder is still alive.
func NewFileLock(lockFile string, timeout time.Duration, checker lease.LivenessChecker, logger *zap.Logger) *FileLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileLock{
		lockFile:     lockFile,
		lockTimeout:  timeout,
		checker:      checker,
		probeTimeout: probe.DefaultTimeout,
		logger:       logger,
		removeFile:   os.Remove,
	}
}

// Lock acquires the file lock, breaking it only if the holder is dead
func (fl *FileLock) Lock() error {
	if err := os.MkdirAll(filepath.Dir(fl.lockFile), 0o750); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	deadline := time.Now().Add(fl.lockTimeout)

	for {
		file, err := os.OpenFile(fl.lockFile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			lockData := fmt.Sprintf("%d\n%d\n", os.Getpid(), time.Now().Unix())
			if _, err := file.WriteString(lockData); err != nil {
				file.Close()
				_ = os.Remove(fl.lockFile) //nolint:errcheck // Best effort cleanup of half-written lock
				return fmt.Errorf("failed to write lock data: %w", err)
			}
			file.Close()

			fl.locked = true
			fl.logger.Debug("reconciliation lock acquired", zap.String("path", fl.lockFile))
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		if fl.isStale() {
			fl.logger.Info("breaking stale reconciliation lock", zap.String("path", fl.lockFile))
			err := fl.removeFile(fl.lockFile)
			if err == nil || errors.Is(err, os.ErrNotExist) {
				continue
			}
			// e.g. another user's lock in a sticky directory
			return fmt.Errorf("%w %s: %w", ErrStaleLockRemoval, fl.lockFile, err)
		}

		if !time.Now().Before(deadline) {
			return fmt.Errorf("%w: %v", ErrLockTimeout, fl.lockTimeout)
		}
		time.Sleep(retryInterval)
	}
}

// Unlock releases the file lock
func (fl *FileLock) Unlock() error {
	if !fl.locked {
		return nil // Not locked by us
	}

	if !fl.ownsLock() {
		fl.locked = false
		return ErrNotOwner
	}

	if err := os.Remove(fl.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}

	fl.locked = false
	fl.logger.Debug("reconciliation lock released", zap.String("path", fl.lockFile))
	return nil
}

// IsLocked checks if the lock is currently held by anyone
func (fl *FileLock) IsLocked() bool {
	if fl.locked {
		return true
	}

	_, err := os.Stat(fl.lockFile)
	return err == nil
}

// isStale reports whether the lock can be broken. An unparsable lock file
// past its grace period is stale; a holder whose liveness cannot be
// determined is not.
func (fl *FileLock) isStale() bool {
	info, err := fl.GetLockInfo()
	if err != nil {
		if !errors.Is(err, ErrInvalidLockFormat) {
			return false // Released meanwhile or unreadable, retry
		}
		stat, statErr := os.Stat(fl.lockFile)
		return statErr == nil && time.Since(stat.ModTime()) > invalidLockGrace
	}
	return info.Liveness == lease.Dead
}

// ownsLock checks if the current process owns the lock
func (fl *FileLock) ownsLock() bool {
	pid, _, err := fl.readLockFile()
	if err != nil {
		return false
	}
	return pid == os.Getpid()
}

func (fl *FileLock) readLockFile() (int, time.Time, error) {
	data, err := os.ReadFile(fl.lockFile)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("failed to read lock file: %w", err)
	}

	parts := strings.Fields(string(data))
	if len(parts) < 2 {
		return 0, time.Time{}, ErrInvalidLockFormat
	}

	pid, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: pid: %w", ErrInvalidLockFormat, err)
	}

	timestamp, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%w: timestamp: %w", ErrInvalidLockFormat, err)
	}

	return pid, time.Unix(timestamp, 0), nil
}

// GetLockInfo returns information about the current lock holder
func (fl *FileLock) GetLockInfo() (*Info, error) {
	pid, timestamp, err := fl.readLockFile()
	if err != nil {
		return nil, err
	}

	liveness, probeErr := probe.CheckWithTimeout(context.Background(), fl.checker, pid, fl.probeTimeout)
	if probeErr != nil {
		fl.logger.Debug("could not probe lock holder", zap.Int("pid", pid), zap.Error(probeErr))
	}

	return &Info{
		PID:       pid,
		Timestamp: timestamp,
		Liveness:  liveness,
	}, nil
}

// Info contains information about a lock
type Info struct {
	PID       int            `json:"pid"`
	Timestamp time.Time      `json:"timestamp"`
	Liveness  lease.Liveness `json:"liveness"`
}

// ForceClearLock removes the lock file regardless of ownership (use with caution)
func (fl *FileLock) ForceClearLock() error {
	if err := fl.removeFile(fl.lockFile); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to force clear lock: %w", err)
	}

	fl.locked = false
	return nil
}
