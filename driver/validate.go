package driver

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaValidator checks a structured-output payload (the plan produced by
// the architect, or the verdict produced by the reviewer) against a JSON
// Schema, so a malformed agent response surfaces as ameliaerr.Content
// rather than propagating a type assertion panic downstream.
type SchemaValidator struct {
	schema *jsonschema.Schema
}

// NewSchemaValidator compiles schemaJSON once, for reuse across every turn
// that validates against it.
func NewSchemaValidator(name string, schemaJSON []byte) (*SchemaValidator, error) {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("driver: parse schema %s: %w", name, err)
	}
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("driver: add schema resource %s: %w", name, err)
	}
	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("driver: compile schema %s: %w", name, err)
	}
	return &SchemaValidator{schema: schema}, nil
}

// Validate reports whether payload conforms to the compiled schema. On
// failure it returns a *jsonschema.ValidationError describing every
// violation, suitable for wrapping in ameliaerr.SchemaValidation.
func (v *SchemaValidator) Validate(payload []byte) error {
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("driver: payload is not valid JSON: %w", err)
	}
	return v.schema.Validate(doc)
}
