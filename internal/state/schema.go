// Package state persists session leases for leasegc.
// The lease document is validated against an embedded JSON Schema before it
// is decoded, so a document we do not understand is never rewritten.
package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

var errSchemaViolation = errors.New("document does not match lease schema")

// leaseSchema describes the lease document: an object of objects whose
// optional process_id is an integer or null.
const leaseSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "process_id": {"type": ["integer", "null"]}
    }
  }
}`

var (
	compiledSchema *jsonschema.Schema
	compileErr     error
	compileOnce    sync.Once
)

func loadSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiledSchema, compileErr = compiler.Compile([]byte(leaseSchema))
		if compileErr != nil {
			compileErr = fmt.Errorf("compile lease schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// validateDocument rejects empty, malformed and mis-shaped documents
func validateDocument(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return fmt.Errorf("%w: document is empty", errSchemaViolation)
	}
	if !json.Valid(data) {
		return fmt.Errorf("%w: invalid JSON", errSchemaViolation)
	}

	schema, err := loadSchema()
	if err != nil {
		return err
	}

	result := schema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors))
	for key, evalErr := range result.Errors {
		messages = append(messages, fmt.Sprintf("%s: %v", key, evalErr))
	}
	sort.Strings(messages)
	return fmt.Errorf("%w: %s", errSchemaViolation, strings.Join(messages, "; "))
}
