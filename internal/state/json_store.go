package state

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gowebpki/jcs"
	"go.uber.org/zap"

	"github.com/paveg/leasegc/internal/lease"
)

// DefaultFileName is the name of the session document inside the temp directory
const DefaultFileName = "totalstock_sessions.json"

// Static error variables to satisfy err113 linter
var (
	ErrCorruptStore = errors.New("lease store is corrupt")
	ErrEmptyPath    = errors.New("lease store path is empty")
)

// DefaultPath returns the shared, well-known location of the session document
func DefaultPath() string {
	return filepath.Join(os.TempDir(), DefaultFileName)
}

// JSONStore keeps leases in a single JSON document
type JSONStore struct {
	filePath    string
	logger      *zap.Logger
	fingerprint string
}

// NewJSONStore creates a store backed by filePath. Nothing is read or
// created until Load or Save is called.
func NewJSONStore(filePath string, logger *zap.Logger) (*JSONStore, error) {
	if filePath == "" {
		return nil, ErrEmptyPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &JSONStore{
		filePath: filePath,
		logger:   logger,
	}, nil
}

// Load reads every lease from the document. A missing document is an
// empty store.
func (js *JSONStore) Load() (lease.Set, error) {
	js.fingerprint = ""

	data, err := os.ReadFile(js.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			js.logger.Debug("lease store not found, treating as empty", zap.String("path", js.filePath))
			return lease.Set{}, nil
		}
		return nil, fmt.Errorf("failed to read lease store: %w", err)
	}

	leases, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptStore, js.filePath, err)
	}

	js.fingerprint = fingerprint(data)
	return leases, nil
}

// Save replaces the document with leases
func (js *JSONStore) Save(leases lease.Set) error {
	js.warnOnConcurrentChange()

	data, err := encode(leases)
	if err != nil {
		return fmt.Errorf("failed to marshal lease store: %w", err)
	}

	if err := writeFileAtomic(js.filePath, data, 0o600); err != nil {
		return err
	}

	js.fingerprint = fingerprint(data)
	return nil
}

// warnOnConcurrentChange logs when the document was rewritten by someone
// else after our Load. The write still goes ahead; last writer wins.
func (js *JSONStore) warnOnConcurrentChange() {
	data, err := os.ReadFile(js.filePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			js.logger.Debug("could not re-read lease store before save", zap.Error(err))
		}
		if js.fingerprint != "" {
			js.logger.Warn("lease store disappeared since it was loaded", zap.String("path", js.filePath))
		}
		return
	}

	current := fingerprint(data)
	if current != js.fingerprint {
		js.logger.Warn("lease store changed since it was loaded, concurrent changes will be overwritten",
			zap.String("path", js.filePath),
			zap.String("loaded", shortDigest(js.fingerprint)),
			zap.String("current", shortDigest(current)),
		)
	}
}

// GetFilePath returns the file path being used
func (js *JSONStore) GetFilePath() string {
	return js.filePath
}

// Fingerprint returns the canonical digest of the document as last loaded
// or saved, or "" if there was no document
func (js *JSONStore) Fingerprint() string {
	return js.fingerprint
}

// BackupState creates a backup of the current state file
func (js *JSONStore) BackupState() (string, error) {
	data, err := os.ReadFile(js.filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil // No state file to backup
		}
		return "", fmt.Errorf("failed to read state file for backup: %w", err)
	}

	backupPath := js.filePath + ".backup." + time.Now().Format("20060102-150405.000000000")
	if err := os.WriteFile(backupPath, data, 0o600); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}

	js.logger.Debug("lease store backed up", zap.String("backup", backupPath))
	return backupPath, nil
}

// CleanupOldBackups removes backup files older than the specified duration
func (js *JSONStore) CleanupOldBackups(maxAge time.Duration) error {
	dir := filepath.Dir(js.filePath)
	prefix := filepath.Base(js.filePath) + ".backup."

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read state directory: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			fullPath := filepath.Join(dir, entry.Name())
			_ = os.Remove(fullPath) //nolint:errcheck // Best effort cleanup operation
			js.logger.Debug("removed old backup", zap.String("backup", fullPath))
		}
	}

	return nil
}

func decode(data []byte) (lease.Set, error) {
	if err := validateDocument(data); err != nil {
		return nil, err
	}

	var leases lease.Set
	if err := json.Unmarshal(data, &leases); err != nil {
		return nil, fmt.Errorf("failed to unmarshal leases: %w", err)
	}

	for holder, rec := range leases {
		if rec == nil {
			return nil, fmt.Errorf("%w: lease %q is null", errSchemaViolation, holder)
		}
		rec.HolderID = holder
	}
	if leases == nil {
		leases = lease.Set{}
	}
	return leases, nil
}

func encode(leases lease.Set) ([]byte, error) {
	if leases == nil {
		leases = lease.Set{}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(leases); err != nil {
		return nil, err //nolint:wrapcheck // Caller wraps
	}
	return buf.Bytes(), nil
}

// fingerprint hashes the RFC 8785 canonical form so formatting-only
// differences do not count as changes. Documents JCS cannot canonicalize
// are hashed as raw bytes.
func fingerprint(data []byte) string {
	canonical, err := jcs.Transform(data)
	if err != nil {
		canonical = data
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func shortDigest(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
