// Package assessment reads assessment documents and turns detector findings
// into tension records.
package assessment

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"etica/internal/domain"
)

// Document is everything known about one assessed system.
type Document struct {
	SystemID string               `json:"system_id" yaml:"system_id"`
	Name     string               `json:"name,omitempty" yaml:"name,omitempty"`
	Profile  domain.SystemProfile `json:"profile" yaml:"profile"`
	Nodes    []domain.Node        `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges    []domain.Edge        `json:"edges,omitempty" yaml:"edges,omitempty"`
	Tensions []domain.Tension     `json:"tensions,omitempty" yaml:"tensions,omitempty"`
	Actions  []domain.Action      `json:"actions,omitempty" yaml:"actions,omitempty"`
}

const schemaURL = "https://etica.local/schemas/assessment.schema.json"

//go:embed schema.json
var schemaJSON string

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func documentSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
			schemaErr = fmt.Errorf("load assessment schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile assessment schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// SchemaJSON returns the JSON Schema documents are validated against.
func SchemaJSON() []byte {
	return []byte(schemaJSON)
}

// ValidationError lists why a document was rejected.
type ValidationError struct {
	Source   string
	Problems []string
}

func (e *ValidationError) Error() string {
	src := e.Source
	if src == "" {
		src = "document"
	}
	if len(e.Problems) == 0 {
		return fmt.Sprintf("invalid %s", src)
	}
	return fmt.Sprintf("invalid %s: %s", src, strings.Join(e.Problems, "; "))
}

// Load reads a YAML or JSON document from path.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(data)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			verr.Source = filepath.Base(path)
		}
		return nil, err
	}
	return doc, nil
}

// Parse decodes a YAML or JSON document and validates it against the schema.
// JSON is accepted as a subset of YAML.
func Parse(data []byte) (*Document, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	if raw == nil {
		return nil, &ValidationError{Problems: []string{"document is empty"}}
	}
	// Round-trip through JSON so the validator sees json.Number values and
	// string-keyed maps only.
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var instance any
	if err := dec.Decode(&instance); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	schema, err := documentSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(instance); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, &ValidationError{Problems: flatten(ve)}
		}
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	var doc Document
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}
	return &doc, nil
}

// flatten keeps the leaf causes, which name the offending location.
func flatten(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, flatten(c)...)
	}
	return out
}
