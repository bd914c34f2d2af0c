// Package reconcile implements the lease garbage-collection pass: load the
// lease store, probe every owning process, drop the leases whose process is
// confirmed dead and write the rest back.
//
// The pass is biased towards keeping data. A lease without a process id, or
// whose probe fails or times out, is kept; only a Dead probe removes a lease.
//
// Without a Locker the pass is an unguarded read-modify-write of the whole
// document: two overlapping passes race and the last Save wins, dropping
// leases another process added in between.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/paveg/leasegc/internal/lease"
	"github.com/paveg/leasegc/internal/probe"
)

// Static error variables to satisfy err113 linter
var (
	ErrLoadFailed    = errors.New("failed to load lease store")
	ErrPersistFailed = errors.New("failed to persist lease store")
	ErrLockFailed    = errors.New("failed to acquire reconciliation lock")
)

// Store loads and saves the full lease set
type Store interface {
	Load() (lease.Set, error)
	Save(leases lease.Set) error
}

// Locker serializes reconciliation passes across processes
type Locker interface {
	Lock() error
	Unlock() error
}

// BackupStore is implemented by stores that can snapshot the document
// before it is rewritten
type BackupStore interface {
	BackupState() (string, error)
	CleanupOldBackups(maxAge time.Duration) error
}

// Reconciler runs reconciliation passes
type Reconciler struct {
	store           Store
	checker         lease.LivenessChecker
	logger          *zap.Logger
	locker          Locker
	probeTimeout    time.Duration
	dryRun          bool
	backup          bool
	backupRetention time.Duration
}

// Option configures a Reconciler
type Option func(*Reconciler)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reconciler) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProbeTimeout bounds every liveness probe
func WithProbeTimeout(timeout time.Duration) Option {
	return func(r *Reconciler) {
		if timeout > 0 {
			r.probeTimeout = timeout
		}
	}
}

// WithLocker holds locker for the duration of each pass
func WithLocker(locker Locker) Option {
	return func(r *Reconciler) {
		r.locker = locker
	}
}

// WithDryRun evaluates leases without saving
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) {
		r.dryRun = dryRun
	}
}

// WithBackup snapshots the document before a pass that removes leases and
// prunes snapshots older than retention. Needs a store implementing
// BackupStore.
func WithBackup(enabled bool, retention time.Duration) Option {
	return func(r *Reconciler) {
		r.backup = enabled
		r.backupRetention = retention
	}
}

// New creates a Reconciler
func New(store Store, checker lease.LivenessChecker, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:        store,
		checker:      checker,
		logger:       zap.NewNop(),
		probeTimeout: probe.DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass. It fails only when the store cannot be loaded
// or the surviving leases cannot be saved; probe failures keep the lease.
func (r *Reconciler) Reconcile(ctx context.Context) (*lease.Result, error) {
	if r.locker != nil {
		if err := r.locker.Lock(); err != nil {
			return &lease.Result{}, fmt.Errorf("%w: %w", ErrLockFailed, err)
		}
		defer func() {
			if err := r.locker.Unlock(); err != nil {
				r.logger.Warn("failed to release reconciliation lock", zap.Error(err))
			}
		}()
	}

	leases, result, err := r.evaluate(ctx)
	if err != nil {
		return result, err
	}
	result.DryRun = r.dryRun

	if result.Checked == 0 {
		r.logger.Debug("lease store is empty, nothing to reconcile")
		return result, nil
	}
	if r.dryRun {
		return result, nil
	}

	kept := make(lease.Set, result.Kept)
	for _, v := range result.Verdicts {
		if v.Decision == lease.DecisionKeep {
			kept[v.HolderID] = leases[v.HolderID]
		}
	}

	if result.Removed > 0 {
		r.backupBeforeSave()
	}

	if err := r.store.Save(kept); err != nil {
		revertRemovals(result)
		return result, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	for _, holder := range result.RemovedHolders() {
		r.logger.Info("removed stale lease", zap.String("holder", holder))
	}
	return result, nil
}

// Inspect judges every lease like Reconcile but never saves or locks
func (r *Reconciler) Inspect(ctx context.Context) (*lease.Result, error) {
	_, result, err := r.evaluate(ctx)
	if err != nil {
		return result, err
	}
	result.DryRun = true
	return result, nil
}

func (r *Reconciler) evaluate(ctx context.Context) (lease.Set, *lease.Result, error) {
	result := &lease.Result{Verdicts: []lease.Verdict{}}

	leases, err := r.store.Load()
	if err != nil {
		return nil, result, fmt.Errorf("%w: %w", ErrLoadFailed, err)
	}

	for _, holder := range leases.Holders() {
		verdict := r.judge(ctx, leases[holder])
		verdict.HolderID = holder

		result.Checked++
		if verdict.Decision == lease.DecisionRemove {
			result.Removed++
		} else {
			result.Kept++
		}
		result.Verdicts = append(result.Verdicts, verdict)
	}

	return leases, result, nil
}

// judge decides one lease. Only a Dead probe removes.
func (r *Reconciler) judge(ctx context.Context, rec *lease.Record) lease.Verdict {
	if !rec.HasProcess() {
		return lease.Verdict{
			Liveness: lease.Unknown,
			Decision: lease.DecisionKeep,
			Reason:   "no process id",
		}
	}

	pid := *rec.ProcessID
	verdict := lease.Verdict{ProcessID: &pid}

	liveness, err := probe.CheckWithTimeout(ctx, r.checker, pid, r.probeTimeout)
	verdict.Liveness = liveness

	switch {
	case err != nil:
		r.logger.Warn("liveness probe failed, keeping lease",
			zap.String("holder", rec.HolderID),
			zap.Int("pid", pid),
			zap.Error(err),
		)
		verdict.Liveness = lease.Unknown
		verdict.Decision = lease.DecisionKeep
		verdict.Reason = err.Error()
	case liveness == lease.Dead:
		verdict.Decision = lease.DecisionRemove
		verdict.Reason = "process not running"
	case liveness == lease.Alive:
		verdict.Decision = lease.DecisionKeep
	default:
		verdict.Decision = lease.DecisionKeep
		verdict.Reason = "liveness undetermined"
	}

	return verdict
}

// revertRemovals rewrites result to match the document left on disk after a
// failed save: every lease is still there.
func revertRemovals(result *lease.Result) {
	for i := range result.Verdicts {
		if result.Verdicts[i].Decision == lease.DecisionRemove {
			result.Verdicts[i].Decision = lease.DecisionKeep
			result.Verdicts[i].Reason = "process not running, store not saved"
		}
	}
	result.Kept = result.Checked
	result.Removed = 0
}

func (r *Reconciler) backupBeforeSave() {
	if !r.backup {
		return
	}

	bs, ok := r.store.(BackupStore)
	if !ok {
		r.logger.Debug("store does not support backups")
		return
	}

	if path, err := bs.BackupState(); err != nil {
		r.logger.Warn("failed to back up lease store", zap.Error(err))
	} else if path != "" {
		r.logger.Debug("lease store backed up", zap.String("backup", path))
	}

	if r.backupRetention > 0 {
		if err := bs.CleanupOldBackups(r.backupRetention); err != nil {
			r.logger.Warn("failed to prune old backups", zap.Error(err))
		}
	}
}
