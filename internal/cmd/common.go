package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/paveg/leasegc/internal/config"
	"github.com/paveg/leasegc/internal/lock"
	"github.com/paveg/leasegc/internal/logging"
	"github.com/paveg/leasegc/internal/probe"
	"github.com/paveg/leasegc/internal/reconcile"
	"github.com/paveg/leasegc/internal/state"
)

// Process exit codes
const (
	ExitOK            = 0
	ExitFailure       = 1
	ExitCorruptStore  = 2
	ExitPersistFailed = 3
)

// Common error definitions
var (
	ErrConflictingFormats = errors.New("--json and --yaml are mutually exclusive")
)

// Common variables used across multiple commands
var (
	jsonOutput bool
	yamlOutput bool
	force      bool
	dryRun     bool
	verbose    bool
	cfgFile    string
	storePath  string
	logLevel   string
)

// OutputHandler provides common output formatting
type OutputHandler struct {
	Out        io.Writer
	JSONOutput bool
	YAMLOutput bool
}

// NewOutputHandler creates a new output handler writing to w
func NewOutputHandler(w io.Writer, jsonOutput, yamlOutput bool) (*OutputHandler, error) {
	if jsonOutput && yamlOutput {
		return nil, ErrConflictingFormats
	}
	return &OutputHandler{Out: w, JSONOutput: jsonOutput, YAMLOutput: yamlOutput}, nil
}

// Structured reports whether output goes out as JSON or YAML
func (oh *OutputHandler) Structured() bool {
	return oh.JSONOutput || oh.YAMLOutput
}

// PrintStructured writes data in the selected machine-readable format
func (oh *OutputHandler) PrintStructured(data interface{}) error {
	switch {
	case oh.JSONOutput:
		output, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("error marshaling JSON: %w", err)
		}
		_, err = fmt.Fprintln(oh.Out, string(output))
		return err
	case oh.YAMLOutput:
		enc := yaml.NewEncoder(oh.Out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return fmt.Errorf("error marshaling YAML: %w", err)
		}
		return enc.Close()
	default:
		return nil
	}
}

// Printf writes human-readable output
func (oh *OutputHandler) Printf(format string, args ...interface{}) {
	fmt.Fprintf(oh.Out, format, args...) //nolint:errcheck // Terminal output
}

// AddCommonJSONFlag adds the standard JSON output flag to a command
func AddCommonJSONFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
}

// AddCommonYAMLFlag adds the standard YAML output flag to a command
func AddCommonYAMLFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&yamlOutput, "yaml", false, "output in YAML format")
}

// AddCommonForceFlag adds the standard force flag
func AddCommonForceFlag(cmd *cobra.Command, usage string) {
	cmd.Flags().BoolVarP(&force, "force", "f", false, usage)
}

// AddCommonDryRunFlag adds the standard dry-run flag
func AddCommonDryRunFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be removed without touching the store")
}

// environment bundles what a command needs to run a pass
type environment struct {
	config     *config.Config
	logger     *zap.Logger
	store      *state.JSONStore
	reconciler *reconcile.Reconciler
}

// loadConfig reads and validates the configuration
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the stderr logger, raising the level to debug on --verbose
func newLogger(cmd *cobra.Command, cfg *config.Config) (*zap.Logger, error) {
	level := cfg.LogLevel
	if verbose && level == "info" {
		level = "debug"
	}
	logger, err := logging.New(level, cmd.ErrOrStderr())
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return logger, nil
}

// initializeReconciler wires config, logger, store, prober and lock
func initializeReconciler(cmd *cobra.Command, passDryRun bool) (*environment, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cmd, cfg)
	if err != nil {
		return nil, err
	}

	store, err := state.NewJSONStore(cfg.Store.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize lease store: %w", err)
	}

	checker, err := probe.New(cfg.Probe.Method, cfg.Probe.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize prober: %w", err)
	}

	opts := []reconcile.Option{
		reconcile.WithLogger(logger),
		reconcile.WithProbeTimeout(cfg.Probe.Timeout),
		reconcile.WithDryRun(passDryRun),
		reconcile.WithBackup(cfg.Store.Backup, cfg.Store.BackupRetention),
	}
	if cfg.Lock.Enabled && !passDryRun {
		opts = append(opts, reconcile.WithLocker(
			lock.NewFileLock(cfg.Lock.Path, cfg.Lock.Timeout, checker, logger),
		))
	}

	return &environment{
		config:     cfg,
		logger:     logger,
		store:      store,
		reconciler: reconcile.New(store, checker, opts...),
	}, nil
}

// ExitCode maps an Execute error onto the process exit status
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, state.ErrCorruptStore):
		return ExitCorruptStore
	case errors.Is(err, reconcile.ErrPersistFailed):
		return ExitPersistFailed
	default:
		return ExitFailure
	}
}
