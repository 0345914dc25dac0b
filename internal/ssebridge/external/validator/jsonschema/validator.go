// Package jsonschema implements external.Validator by compiling a fixed UI
// DSL JSON Schema once at construction and validating documents against it
// on every call.
package jsonschema

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	schemalib "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/render-mcp/sse-bridge/internal/ssebridge/bridgeerr"
	"github.com/render-mcp/sse-bridge/internal/ssebridge/external"
)

// Validator validates normalized DSL documents against a compiled schema.
type Validator struct {
	schema *schemalib.Schema
}

// New compiles schemaJSON (the UI DSL's JSON Schema document) once and
// returns a Validator ready for repeated use.
func New(schemaJSON []byte) (*Validator, error) {
	var schemaDoc any
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return nil, fmt.Errorf("jsonschema validator: unmarshal schema: %w", err)
	}

	c := schemalib.NewCompiler()
	if err := c.AddResource("dsl-schema.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("jsonschema validator: add schema resource: %w", err)
	}
	schema, err := c.Compile("dsl-schema.json")
	if err != nil {
		return nil, fmt.Errorf("jsonschema validator: compile schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

func (v *Validator) Validate(ctx context.Context, dsl json.RawMessage) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(dsl, &doc); err != nil {
		return nil, bridgeerr.Errorf(bridgeerr.InvalidArguments, "dsl is not valid JSON: %v", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		var errs []string
		if verr, ok := err.(*schemalib.ValidationError); ok {
			errs = flatten(verr)
		} else {
			errs = []string{err.Error()}
		}
		return external.WrapText(map[string]any{
			"valid":       false,
			"errors":      errs,
			"warnings":    []string{},
			"suggestions": suggestionsFor(errs),
		})
	}
	return external.WrapText(map[string]any{
		"valid":       true,
		"errors":      []string{},
		"warnings":    []string{},
		"suggestions": []string{},
	})
}

// suggestionsFor offers a human-readable next step for the validation
// failures jsonschema itself only names by instance location, since the
// "elements" field is the one DSL authors hit most often.
func suggestionsFor(errs []string) []string {
	for _, e := range errs {
		if strings.Contains(e, "elements") {
			return []string{"Add at least one UI element"}
		}
	}
	return []string{}
}

// flatten walks a jsonschema ValidationError tree into one human-readable
// message per leaf failure.
func flatten(verr *schemalib.ValidationError) []string {
	var out []string
	var walk func(e *schemalib.ValidationError)
	walk = func(e *schemalib.ValidationError) {
		if len(e.Causes) == 0 {
			out = append(out, fmt.Sprintf("%s: %s", e.InstanceLocation, e.Error()))
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(verr)
	return out
}
