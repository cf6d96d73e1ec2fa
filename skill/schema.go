package skill

import (
	"fmt"
	"maps"
	"slices"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/aschepis/bpmai/llm"
)

// Schema is a simplified output schema. Each entry maps a field name to either a
// description (a string field) or a JSON-schema property such as
// {"type": "integer", "description": "age in years"}. A property with "properties"
// describes a nested object whose properties are simplified again.
type Schema = orderedmap.OrderedMap[string, any]

// NewSchema builds a Schema keeping the order of fields.
func NewSchema(fields ...Field) *Schema {
	return NewInput(fields...)
}

// field is one expanded schema property.
type field struct {
	name        string
	typ         string
	description string
	extra       map[string]any // other JSON-schema keys such as enum or items
	children    []field
}

// parseSchema expands a simplified schema into fields in declaration order.
func parseSchema(schema *Schema) ([]field, error) {
	fields := make([]field, 0, schema.Len())
	for pair := schema.Oldest(); pair != nil; pair = pair.Next() {
		f, err := parseField(pair.Key, pair.Value)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func parseField(name string, v any) (field, error) {
	switch val := v.(type) {
	case string:
		return field{name: name, typ: "string", description: val}, nil
	case *Schema:
		children, err := parseSchema(val)
		if err != nil {
			return field{}, err
		}
		return field{name: name, typ: "object", children: children}, nil
	case map[string]any:
		return parseProperty(name, val)
	default:
		return field{}, fmt.Errorf("schema field %s: unsupported definition %T", name, v)
	}
}

func parseProperty(name string, prop map[string]any) (field, error) {
	f := field{name: name, extra: map[string]any{}}
	f.typ, _ = prop["type"].(string)
	f.description, _ = prop["description"].(string)

	if nested, ok := prop["properties"]; ok {
		if f.typ == "" {
			f.typ = "object"
		}
		var err error
		f.children, err = parseNested(name, nested)
		if err != nil {
			return field{}, err
		}
	}
	if f.typ == "" {
		f.typ = "string"
	}
	if f.typ == "float" {
		f.typ = "number"
	}

	for k, v := range prop {
		switch k {
		case "type", "description", "properties":
		default:
			f.extra[k] = v
		}
	}
	return f, nil
}

// parseNested expands nested properties. Plain maps carry no order, so their fields are
// sorted by name.
func parseNested(name string, nested any) ([]field, error) {
	switch val := nested.(type) {
	case *Schema:
		return parseSchema(val)
	case map[string]any:
		fields := make([]field, 0, len(val))
		for _, key := range slices.Sorted(maps.Keys(val)) {
			f, err := parseField(key, val[key])
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
		return fields, nil
	default:
		return nil, fmt.Errorf("schema field %s: properties must be an object, got %T", name, nested)
	}
}

// property renders the field as a JSON-schema property.
func (f field) property() map[string]any {
	prop := make(map[string]any, len(f.extra)+3)
	maps.Copy(prop, f.extra)
	prop["type"] = f.typ
	if f.description != "" {
		prop["description"] = f.description
	}
	if f.typ == "object" && f.children != nil {
		props, required := properties(f.children)
		prop["properties"] = props
		prop["required"] = required
	}
	return prop
}

func properties(fields []field) (map[string]any, []string) {
	props := make(map[string]any, len(fields))
	names := make([]string, 0, len(fields))
	for _, f := range fields {
		props[f.name] = f.property()
		names = append(names, f.name)
	}
	return props, names
}

// toolSchema makes the object schema of a tool from fields. Every field is required; a
// value the model cannot determine is expected as null or an empty string.
func toolSchema(fields []field) llm.ToolSchema {
	props, required := properties(fields)
	return llm.ToolSchema{Type: "object", Properties: props, Required: required}
}

// ExpandSchema expands a simplified schema into a JSON-schema object.
func ExpandSchema(schema *Schema) (map[string]any, error) {
	fields, err := parseSchema(schema)
	if err != nil {
		return nil, err
	}
	return toolSchema(fields).Map(), nil
}
