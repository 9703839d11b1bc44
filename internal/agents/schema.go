package agents

import (
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// compiledSchema wraps a compiled JSON schema. A nil inner schema
// accepts everything, used by agents without an input contract.
type compiledSchema struct {
	schema *jsonschema.Schema
}

func compileSchema(kind string, doc map[string]interface{}) (*compiledSchema, error) {
	if doc == nil {
		return &compiledSchema{}, nil
	}
	compiler := jsonschema.NewCompiler()
	url := fmt.Sprintf("agentflow://agents/%s/input.json", kind)
	if err := compiler.AddResource(url, normalizeSchemaDoc(doc)); err != nil {
		return nil, fmt.Errorf("failed to add schema for %s: %w", kind, err)
	}
	schema, err := compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema for %s: %w", kind, err)
	}
	return &compiledSchema{schema: schema}, nil
}

func (c *compiledSchema) validate(input map[string]interface{}) error {
	if c.schema == nil {
		return nil
	}
	doc := normalizeSchemaDoc(input)
	if doc == nil {
		doc = map[string]interface{}{}
	}
	if err := c.schema.Validate(doc); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

// normalizeSchemaDoc rewrites Go-native values into the shapes the
// validator expects from decoded JSON. Callers build inputs in code, so
// ints and typed slices show up where the validator wants float64 and
// []interface{}.
func normalizeSchemaDoc(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalizeSchemaDoc(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeSchemaDoc(val)
		}
		return out
	case []string:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = val
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalizeSchemaDoc(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
