// Package lease defines the session lease types shared by the store, the
// liveness probers and the reconciler.
package lease

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// ProcessIDField is the JSON field holding the owning process id of a lease
const ProcessIDField = "process_id"

// Liveness is the outcome of probing a process id
type Liveness int

// Liveness constants
const (
	Unknown Liveness = iota // Probe failed or could not decide
	Alive                   // Process is listed by the OS
	Dead                    // Query completed and the process is not listed
)

// String returns the lower-case name of the liveness outcome
func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// MarshalText lets Liveness render as a string in JSON and YAML output
func (l Liveness) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Decision is what a reconciliation pass does with a lease
type Decision string

// Decision constants
const (
	DecisionKeep   Decision = "keep"
	DecisionRemove Decision = "remove"
)

// Record is a single session lease. Fields other than process_id are kept
// verbatim in Attributes so they survive a rewrite untouched.
type Record struct {
	HolderID   string                     `json:"-"`
	ProcessID  *int                       `json:"-"`
	Attributes map[string]json.RawMessage `json:"-"`
}

// NewRecord creates a lease for holder owned by pid
func NewRecord(holder string, pid int) *Record {
	return &Record{
		HolderID:   holder,
		ProcessID:  &pid,
		Attributes: make(map[string]json.RawMessage),
	}
}

// HasProcess reports whether the lease tracks an owning process
func (r *Record) HasProcess() bool {
	return r.ProcessID != nil
}

// UnmarshalJSON decodes a lease object, splitting out process_id
func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err //nolint:wrapcheck // Caller wraps with holder context
	}
	if fields == nil {
		return fmt.Errorf("lease must be a JSON object, got %s", bytes.TrimSpace(data))
	}

	r.ProcessID = nil
	if raw, ok := fields[ProcessIDField]; ok {
		delete(fields, ProcessIDField)
		if !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			var pid int
			if err := json.Unmarshal(raw, &pid); err != nil {
				return fmt.Errorf("invalid %s: %w", ProcessIDField, err)
			}
			r.ProcessID = &pid
		}
	}
	r.Attributes = fields

	return nil
}

// MarshalJSON encodes the lease back into a single object
func (r *Record) MarshalJSON() ([]byte, error) {
	fields := make(map[string]json.RawMessage, len(r.Attributes)+1)
	for k, v := range r.Attributes {
		fields[k] = v
	}
	if r.ProcessID != nil {
		raw, err := json.Marshal(*r.ProcessID)
		if err != nil {
			return nil, err //nolint:wrapcheck // int marshalling cannot fail
		}
		fields[ProcessIDField] = raw
	}

	// Attribute values such as "<" must come back out exactly as stored
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(fields); err != nil {
		return nil, err //nolint:wrapcheck // Caller wraps
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Set maps holder ids to their leases
type Set map[string]*Record

// Holders returns the holder ids in sorted order
func (s Set) Holders() []string {
	holders := make([]string, 0, len(s))
	for holder := range s {
		holders = append(holders, holder)
	}
	sort.Strings(holders)
	return holders
}

// Verdict records how one lease was judged during a pass
type Verdict struct {
	HolderID  string   `json:"holder_id" yaml:"holder_id"`
	ProcessID *int     `json:"process_id,omitempty" yaml:"process_id,omitempty"`
	Liveness  Liveness `json:"liveness" yaml:"liveness"`
	Decision  Decision `json:"decision" yaml:"decision"`
	Reason    string   `json:"reason,omitempty" yaml:"reason,omitempty"`
}

// Result summarizes a reconciliation pass
type Result struct {
	Checked  int       `json:"checked" yaml:"checked"`
	Kept     int       `json:"kept" yaml:"kept"`
	Removed  int       `json:"removed" yaml:"removed"`
	DryRun   bool      `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	Verdicts []Verdict `json:"verdicts" yaml:"verdicts"`
}

// RemovedHolders returns the holder ids the pass dropped
func (r *Result) RemovedHolders() []string {
	var holders []string
	for _, v := range r.Verdicts {
		if v.Decision == DecisionRemove {
			holders = append(holders, v.HolderID)
		}
	}
	return holders
}

// LivenessChecker reports whether a process id names a live process.
// Implementations return Unknown together with an error when the query
// itself fails; Dead is only returned when the query succeeded.
type LivenessChecker interface {
	Check(ctx context.Context, pid int) (Liveness, error)
}
