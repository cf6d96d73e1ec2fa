package skill

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

func TestExpandSchema(t *testing.T) {
	schema := NewSchema(
		Field{"name", "the name"},
		Field{"price", map[string]any{"type": "float", "description": "price in EUR"}},
		Field{"tags", map[string]any{"type": "array", "items": map[string]any{"type": "string"}}},
		Field{"address", map[string]any{"properties": map[string]any{"city": "the city"}}},
	)

	got, err := ExpandSchema(schema)
	require.NoError(t, err)

	want := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":  map[string]any{"type": "string", "description": "the name"},
			"price": map[string]any{"type": "number", "description": "price in EUR"},
			"tags":  map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"address": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"city": map[string]any{"type": "string", "description": "the city"},
				},
				"required": []string{"city"},
			},
		},
		"required": []string{"name", "price", "tags", "address"},
	}
	assert.Equal(t, want, got)
}

func TestSchemaFromJSONKeepsOrder(t *testing.T) {
	schema := orderedmap.New[string, any]()
	require.NoError(t, json.Unmarshal([]byte(`{"zeta": "last letter", "alpha": {"type": "integer"}}`), schema))

	fields, err := parseSchema(schema)
	require.NoError(t, err)
	require.Len(t, fields, 2)
	assert.Equal(t, "zeta", fields[0].name)
	assert.Equal(t, "alpha", fields[1].name)
	assert.Equal(t, "integer", fields[1].typ)
}

func TestExpandSchemaRejectsBadProperties(t *testing.T) {
	_, err := ExpandSchema(NewSchema(Field{"x", map[string]any{"properties": "nope"}}))
	assert.Error(t, err)
}
