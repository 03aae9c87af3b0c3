// File: internal/llm/schema_test.go
package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlattenRefs(t *testing.T) {
	t.Run("inlines defs references", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{"$ref": "#/$defs/Action"},
			},
			"$defs": map[string]any{
				"Action": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"kind": map[string]any{"type": "string"},
					},
				},
			},
		}

		flattened, err := FlattenRefs(schema)
		require.NoError(t, err)

		_, hasDefs := flattened["$defs"]
		assert.False(t, hasDefs)

		props := flattened["properties"].(map[string]any)
		action := props["action"].(map[string]any)
		assert.Equal(t, "object", action["type"])
		_, hasRef := action["$ref"]
		assert.False(t, hasRef)
	})

	t.Run("handles nested references", func(t *testing.T) {
		schema := map[string]any{
			"$defs": map[string]any{
				"Inner": map[string]any{"type": "string"},
				"Outer": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"inner": map[string]any{"$ref": "#/$defs/Inner"},
					},
				},
			},
			"properties": map[string]any{
				"outer": map[string]any{"$ref": "#/$defs/Outer"},
			},
		}

		flattened, err := FlattenRefs(schema)
		require.NoError(t, err)

		outer := flattened["properties"].(map[string]any)["outer"].(map[string]any)
		inner := outer["properties"].(map[string]any)["inner"].(map[string]any)
		assert.Equal(t, "string", inner["type"])
	})

	t.Run("rejects cyclic references", func(t *testing.T) {
		schema := map[string]any{
			"$defs": map[string]any{
				"Node": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"child": map[string]any{"$ref": "#/$defs/Node"},
					},
				},
			},
			"properties": map[string]any{
				"root": map[string]any{"$ref": "#/$defs/Node"},
			},
		}

		_, err := FlattenRefs(schema)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "cyclic")
	})

	t.Run("rejects unresolved references", func(t *testing.T) {
		schema := map[string]any{
			"$defs": map[string]any{},
			"properties": map[string]any{
				"x": map[string]any{"$ref": "#/$defs/Missing"},
			},
		}

		_, err := FlattenRefs(schema)
		require.Error(t, err)
	})

	t.Run("passes through schemas without defs", func(t *testing.T) {
		schema := map[string]any{"type": "object"}
		flattened, err := FlattenRefs(schema)
		require.NoError(t, err)
		assert.Equal(t, schema, flattened)
	})

	t.Run("does not mutate the input", func(t *testing.T) {
		schema := map[string]any{
			"$defs": map[string]any{
				"S": map[string]any{"type": "string"},
			},
			"properties": map[string]any{
				"s": map[string]any{"$ref": "#/$defs/S"},
			},
		}
		_, err := FlattenRefs(schema)
		require.NoError(t, err)
		assert.Contains(t, schema, "$defs")
		assert.Contains(t, schema["properties"].(map[string]any)["s"].(map[string]any), "$ref")
	})
}

func TestStrictSchema(t *testing.T) {
	t.Run("closes objects and requires every property", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"b": map[string]any{"type": "string"},
				"a": map[string]any{"type": "integer"},
			},
			"required": []any{"a", "b"},
		}

		strict := StrictSchema(schema)

		assert.Equal(t, false, strict["additionalProperties"])
		assert.Equal(t, []any{"a", "b"}, strict["required"])
	})

	t.Run("optional property becomes null union", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":  map[string]any{"type": "string"},
				"count": map[string]any{"type": "integer", "default": 0},
			},
			"required": []any{"name"},
		}

		strict := StrictSchema(schema)

		// Both properties are required in strict mode.
		assert.Equal(t, []any{"count", "name"}, strict["required"])

		props := strict["properties"].(map[string]any)
		count := props["count"].(map[string]any)
		union, ok := count["anyOf"].([]any)
		require.True(t, ok, "optional property should carry a null union")
		require.Len(t, union, 2)
		assert.Equal(t, map[string]any{"type": "integer"}, union[0])
		assert.Equal(t, map[string]any{"type": "null"}, union[1])

		name := props["name"].(map[string]any)
		assert.Equal(t, "string", name["type"])
	})

	t.Run("rewrites oneOf as anyOf and drops discriminator", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"action": map[string]any{
					"oneOf": []any{
						map[string]any{"type": "object", "properties": map[string]any{"x": map[string]any{"type": "integer"}}, "required": []any{"x"}},
						map[string]any{"type": "object", "properties": map[string]any{"text": map[string]any{"type": "string"}}, "required": []any{"text"}},
					},
					"discriminator": map[string]any{"propertyName": "kind"},
				},
			},
			"required": []any{"action"},
		}

		strict := StrictSchema(schema)

		action := strict["properties"].(map[string]any)["action"].(map[string]any)
		_, hasOneOf := action["oneOf"]
		assert.False(t, hasOneOf)
		_, hasDiscriminator := action["discriminator"]
		assert.False(t, hasDiscriminator)

		union, ok := action["anyOf"].([]any)
		require.True(t, ok)
		require.Len(t, union, 2)
		first := union[0].(map[string]any)
		assert.Equal(t, false, first["additionalProperties"])
	})

	t.Run("strips extras from ref items", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"item": map[string]any{
					"$ref":        "#/$defs/Item",
					"description": "the item",
					"default":     nil,
				},
			},
			"required": []any{"item"},
			"$defs": map[string]any{
				"Item": map[string]any{"type": "object", "properties": map[string]any{}},
			},
		}

		strict := StrictSchema(schema)

		item := strict["properties"].(map[string]any)["item"].(map[string]any)
		assert.Equal(t, "#/$defs/Item", item["$ref"])
		_, hasDescription := item["description"]
		assert.False(t, hasDescription)
		_, hasDefault := item["default"]
		assert.False(t, hasDefault)
	})

	t.Run("type arrays become anyOf unions", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{"type": []any{"string"}, "description": "a value"},
			},
			"required": []any{},
		}

		strict := StrictSchema(schema)

		value := strict["properties"].(map[string]any)["value"].(map[string]any)
		union, ok := value["anyOf"].([]any)
		require.True(t, ok)
		require.Len(t, union, 2)
		assert.Equal(t, "string", union[0].(map[string]any)["type"])
		assert.Equal(t, map[string]any{"type": "null"}, union[1])
		// Metadata stays outside the union.
		assert.Equal(t, "a value", value["description"])
	})

	t.Run("explicit null union collapses to one null", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"maybe": map[string]any{
					"anyOf": []any{
						map[string]any{"type": "integer"},
						map[string]any{"type": "null"},
					},
				},
			},
			"required": []any{},
		}

		strict := StrictSchema(schema)

		maybe := strict["properties"].(map[string]any)["maybe"].(map[string]any)
		union := maybe["anyOf"].([]any)
		nulls := 0
		for _, item := range union {
			if item.(map[string]any)["type"] == "null" {
				nulls++
			}
		}
		assert.Equal(t, 1, nulls)
	})

	t.Run("free-form object collapses to closed empty object", func(t *testing.T) {
		schema := map[string]any{"type": "object"}
		strict := StrictSchema(schema)
		assert.Equal(t, false, strict["additionalProperties"])
		assert.Equal(t, map[string]any{}, strict["properties"])
	})
}

func TestGeminiSchema(t *testing.T) {
	t.Run("drops additionalProperties and flattens refs", func(t *testing.T) {
		schema := map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"action": map[string]any{"$ref": "#/$defs/Action"},
			},
			"$defs": map[string]any{
				"Action": map[string]any{
					"type":                 "object",
					"additionalProperties": false,
					"properties": map[string]any{
						"kind": map[string]any{"type": "string"},
					},
				},
			},
		}

		translated, err := GeminiSchema(schema)
		require.NoError(t, err)

		_, has := translated["additionalProperties"]
		assert.False(t, has)

		action := translated["properties"].(map[string]any)["action"].(map[string]any)
		_, has = action["additionalProperties"]
		assert.False(t, has)
		assert.Equal(t, "object", action["type"])
	})

	t.Run("type arrays become anyOf", func(t *testing.T) {
		schema := map[string]any{
			"type": "object",
			"properties": map[string]any{
				"value": map[string]any{"type": []any{"string", "null"}},
			},
		}

		translated, err := GeminiSchema(schema)
		require.NoError(t, err)

		value := translated["properties"].(map[string]any)["value"].(map[string]any)
		union, ok := value["anyOf"].([]any)
		require.True(t, ok)
		assert.Equal(t, []any{
			map[string]any{"type": "string"},
			map[string]any{"type": "null"},
		}, union)
	})

	t.Run("propagates cycle errors", func(t *testing.T) {
		schema := map[string]any{
			"$defs": map[string]any{
				"Loop": map[string]any{
					"properties": map[string]any{"next": map[string]any{"$ref": "#/$defs/Loop"}},
				},
			},
			"properties": map[string]any{"root": map[string]any{"$ref": "#/$defs/Loop"}},
		}

		_, err := GeminiSchema(schema)
		require.Error(t, err)
	})
}
