package extract

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates extracted values against a JSON Schema document.
type Schema struct {
	name     string
	compiled *jsonschema.Schema
}

// CompileSchema compiles src. name is used as the schema's resource URL and
// shows up in validation errors.
func CompileSchema(name, src string) (*Schema, error) {
	compiled, err := jsonschema.CompileString(name, src)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{name: name, compiled: compiled}, nil
}

// Validate checks a value as returned by Extract.
func (s *Schema) Validate(v any) error {
	if err := s.compiled.Validate(v); err != nil {
		return fmt.Errorf("schema %s: %w", s.name, err)
	}
	return nil
}

// ExtractValid returns the first extracted value that also satisfies s.
// It returns ErrNoJSON when nothing is recovered and the validation error
// when the recovered value does not conform.
func (s *Schema) ExtractValid(text string) (any, error) {
	v, ok := Extract(text)
	if !ok {
		return nil, ErrNoJSON
	}
	if err := s.Validate(v); err != nil {
		return nil, err
	}
	return v, nil
}
