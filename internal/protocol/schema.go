package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"walletbridge/internal/domain"
)

//go:embed schemas/*.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemaSet  map[Kind]*jsonschema.Schema
	schemaErr  error
)

func compileSchemas() (map[Kind]*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		out := make(map[Kind]*jsonschema.Schema, len(RequestKinds))
		for _, kind := range RequestKinds {
			name := string(kind) + ".json"
			raw, err := schemaFS.ReadFile("schemas/" + name)
			if err != nil {
				schemaErr = fmt.Errorf("read schema for %s: %w", kind, err)
				return
			}
			if err := compiler.AddResource(name, bytes.NewReader(raw)); err != nil {
				schemaErr = fmt.Errorf("add schema resource for %s: %w", kind, err)
				return
			}
			compiled, err := compiler.Compile(name)
			if err != nil {
				schemaErr = fmt.Errorf("compile schema for %s: %w", kind, err)
				return
			}
			out[kind] = compiled
		}
		schemaSet = out
	})
	return schemaSet, schemaErr
}

// ValidateRequest checks a request payload against the schema for kind.
// Chain integers must be JSON integers; fractional numbers are rejected.
func ValidateRequest(kind Kind, payload json.RawMessage) error {
	schemas, err := compileSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownKind, kind)
	}

	dec := json.NewDecoder(bytes.NewReader(payloadOrEmpty(payload)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidInput, kind, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", domain.ErrInvalidInput, kind, err)
	}
	return nil
}
