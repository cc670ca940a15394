package judge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schema validates judge output before it is decoded into Go types
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON Schema (draft 2020-12) document
func CompileSchema(name, document string) (*Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://salesaudit.schemas.local/judge/%s.schema.json", name)
	if err := c.AddResource(url, strings.NewReader(document)); err != nil {
		return nil, fmt.Errorf("judge schema %s load failed: %w", name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("judge schema %s compile failed: %w", name, err)
	}
	return &Schema{name: name, schema: compiled}, nil
}

// MustCompileSchema is CompileSchema for package-level schemas
func MustCompileSchema(name, document string) *Schema {
	s, err := CompileSchema(name, document)
	if err != nil {
		panic(err)
	}
	return s
}

// Decode validates raw against the schema and unmarshals it into out.
// Both failures wrap ErrInvalidResponse.
func (s *Schema) Decode(raw json.RawMessage, out any) error {
	cleaned := []byte(CleanJSON(string(raw)))

	var doc any
	dec := json.NewDecoder(bytes.NewReader(cleaned))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, s.name, err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, s.name, err)
	}
	if err := json.Unmarshal(cleaned, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidResponse, s.name, err)
	}
	return nil
}
