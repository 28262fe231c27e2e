package jsonschema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// registry is a mutex-guarded map of compiled schemas addressed by a
// string key, matching the gateway's ws_schema.go pattern: compile once,
// validate many times against the same *jsonschema.Schema.
type registry struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

var compiled = &registry{schemas: make(map[string]*jsonschema.Schema)}

// Compile registers raw under key, compiling it once. Re-registering the
// same key with different bytes replaces the compiled schema.
func Compile(key string, raw json.RawMessage) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("jsonschema: add resource %q: %w", key, err)
	}
	schema, err := compiler.Compile(key)
	if err != nil {
		return fmt.Errorf("jsonschema: compile %q: %w", key, err)
	}

	compiled.mu.Lock()
	defer compiled.mu.Unlock()
	compiled.schemas[key] = schema
	return nil
}

// ValidateAgainst compiles raw and validates data against it without
// touching the registry. Use this for one-off schemas that arrive inline
// with a single request (e.g. a structured-output descriptor) rather than
// a fixed set of schemas worth keeping compiled across calls.
func ValidateAgainst(raw json.RawMessage, data []byte) error {
	compiler := jsonschema.NewCompiler()
	const inlineKey = "inline.json"
	if err := compiler.AddResource(inlineKey, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("jsonschema: add inline resource: %w", err)
	}
	schema, err := compiler.Compile(inlineKey)
	if err != nil {
		return fmt.Errorf("jsonschema: compile inline schema: %w", err)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("jsonschema: invalid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("jsonschema: inline validation failed: %w", err)
	}
	return nil
}

// Validate parses data as JSON and validates it against the schema
// previously registered under key.
func Validate(key string, data []byte) error {
	compiled.mu.Lock()
	schema, ok := compiled.schemas[key]
	compiled.mu.Unlock()
	if !ok {
		return fmt.Errorf("jsonschema: no schema compiled for key %q", key)
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("jsonschema: invalid JSON: %w", err)
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("jsonschema: validation failed for %q: %w", key, err)
	}
	return nil
}
