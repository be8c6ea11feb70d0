package contract

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/wehubfusion/flowgraph/pkg/node"
)

// InputSchema renders a node type's parameter declarations as a JSON Schema document.
func InputSchema(desc *node.Descriptor) map[string]any {
	properties := make(map[string]any, len(desc.Parameters))
	required := make([]any, 0)
	for _, p := range desc.Parameters {
		prop := map[string]any{}
		if t := jsonType(p.Type); t != "" {
			prop["type"] = t
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      desc.TypeName,
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func jsonType(t node.SemanticType) string {
	switch t {
	case node.TypeString:
		return "string"
	case node.TypeInteger:
		return "integer"
	case node.TypeFloat:
		return "number"
	case node.TypeBoolean:
		return "boolean"
	case node.TypeList:
		return "array"
	case node.TypeMapping:
		return "object"
	}
	return ""
}

// SchemaValidator validates merged node inputs against compiled input schemas.
// Compiled schemas are cached per node type. It is safe for concurrent use.
type SchemaValidator struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaValidator creates an empty validator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks params against the descriptor's input schema.
func (v *SchemaValidator) Validate(desc *node.Descriptor, params map[string]any) error {
	schema, err := v.compiled(desc)
	if err != nil {
		return err
	}

	// normalize Go values (typed slices, ints) into their JSON shape
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal inputs of %s: %w", desc.TypeName, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to parse inputs of %s: %w", desc.TypeName, err)
	}

	if err := schema.Validate(doc); err != nil {
		return &InputError{NodeType: desc.TypeName, Details: extractValidationErrors(err)}
	}
	return nil
}

func (v *SchemaValidator) compiled(desc *node.Descriptor) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if s, ok := v.schemas[desc.TypeName]; ok {
		return s, nil
	}

	schemaBytes, err := json.Marshal(InputSchema(desc))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema for %s: %w", desc.TypeName, err)
	}

	url := "flowgraph://" + desc.TypeName + ".json"
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(url, strings.NewReader(string(schemaBytes))); err != nil {
		return nil, fmt.Errorf("failed to add schema for %s: %w", desc.TypeName, err)
	}
	s, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", desc.TypeName, err)
	}
	v.schemas[desc.TypeName] = s
	return s, nil
}

// InputError reports inputs that do not satisfy a node type's schema.
type InputError struct {
	NodeType string
	Details  []string
}

// Error implements the error interface
func (e *InputError) Error() string {
	return fmt.Sprintf("inputs of %s do not match schema: %s", e.NodeType, strings.Join(e.Details, "; "))
}

func extractValidationErrors(err error) []string {
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		return flattenValidationErrors(validationErr)
	}
	return []string{err.Error()}
}

// flattenValidationErrors recursively flattens nested validation errors
func flattenValidationErrors(err *jsonschema.ValidationError) []string {
	var out []string
	if len(err.Causes) == 0 {
		msg := err.Message
		if err.InstanceLocation != "" {
			msg = fmt.Sprintf("at '%s': %s", err.InstanceLocation, err.Message)
		}
		out = append(out, msg)
	}
	for _, cause := range err.Causes {
		out = append(out, flattenValidationErrors(cause)...)
	}
	return out
}
