// File: internal/llm/schema.go
package llm

import (
	"fmt"
	"sort"
	"strings"
)

// This file implements the schema-dialect translations the provider adapters
// need. All transforms are pure functions over deep copies of the input
// document, so a schema can be translated for several providers from the
// same source without interference.

const defsRefPrefix = "#/$defs/"

// FlattenRefs inlines every "#/$defs/Name" reference recursively and drops
// the $defs block. Some providers reject schemas containing references.
// A cyclic or unresolvable reference is an unsupported-schema error rather
// than an infinite loop.
func FlattenRefs(schema map[string]any) (map[string]any, error) {
	doc := deepCopyMap(schema)
	defs, ok := doc["$defs"].(map[string]any)
	if !ok {
		return doc, nil
	}
	delete(doc, "$defs")

	flattened, err := inlineRefs(doc, defs, map[string]bool{})
	if err != nil {
		return nil, err
	}
	return flattened.(map[string]any), nil
}

// inlineRefs walks the schema tree replacing references with their
// definitions. The active set tracks definitions on the current resolution
// path to detect cycles.
func inlineRefs(node any, defs map[string]any, active map[string]bool) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"].(string); ok {
			if !strings.HasPrefix(ref, defsRefPrefix) {
				return nil, fmt.Errorf("unsupported $ref %q: only %q references can be inlined", ref, defsRefPrefix)
			}
			name := strings.TrimPrefix(ref, defsRefPrefix)
			if active[name] {
				return nil, fmt.Errorf("cyclic $ref %q: self-referential schemas are not supported", ref)
			}
			def, found := defs[name]
			if !found {
				return nil, fmt.Errorf("unresolved $ref %q", ref)
			}
			active[name] = true
			resolved, err := inlineRefs(deepCopyValue(def), defs, active)
			delete(active, name)
			return resolved, err
		}

		out := make(map[string]any, len(n))
		for key, value := range n {
			resolved, err := inlineRefs(value, defs, active)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil

	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			resolved, err := inlineRefs(item, defs, active)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil

	default:
		return node, nil
	}
}

// StrictSchema transforms a JSON schema to the strict-mode dialect some
// providers require:
//  1. every object declares "additionalProperties": false,
//  2. every property appears in "required",
//  3. true-optionality is expressed as a null-inclusive anyOf union,
//  4. oneOf and discriminator keywords are rewritten to plain anyOf,
//  5. $ref items carry no extra keywords (description/default/title).
//
// Type unions already expressed as arrays-of-types are rewritten into the
// same anyOf notation as freshly synthesized unions, so the output shape is
// deterministic regardless of input form.
func StrictSchema(schema map[string]any) map[string]any {
	return processStrictObject(deepCopyMap(schema)).(map[string]any)
}

// typeSpecificKeys are the keywords that belong inside the typed half of a
// nullable anyOf union; everything else is metadata that stays at the top.
var typeSpecificKeys = map[string]bool{
	"type":                 true,
	"items":                true,
	"properties":           true,
	"required":             true,
	"additionalProperties": true,
	"enum":                 true,
}

// stripRefExtras removes keywords that may not accompany a pure $ref.
func stripRefExtras(item map[string]any) map[string]any {
	if _, ok := item["$ref"]; !ok {
		return item
	}
	out := make(map[string]any, len(item))
	for key, value := range item {
		if key == "default" || key == "description" || key == "title" {
			continue
		}
		out[key] = value
	}
	return out
}

// processStrictProperty rewrites a single property schema for strict mode.
func processStrictProperty(prop map[string]any, isRequired bool) map[string]any {
	if _, ok := prop["$ref"]; ok {
		clean := stripRefExtras(prop)
		if !isRequired {
			return map[string]any{"anyOf": []any{clean, map[string]any{"type": "null"}}}
		}
		return clean
	}

	// oneOf is not universally supported; fold it into anyOf.
	if oneOf, ok := prop["oneOf"].([]any); ok {
		rewritten := make(map[string]any, len(prop))
		for key, value := range prop {
			if key == "oneOf" || key == "discriminator" {
				continue
			}
			rewritten[key] = value
		}
		rewritten["anyOf"] = oneOf
		prop = rewritten
	}

	if anyOf, ok := prop["anyOf"].([]any); ok {
		items := make([]any, 0, len(anyOf))
		hasNull := false
		for _, raw := range anyOf {
			item, ok := raw.(map[string]any)
			if !ok {
				items = append(items, raw)
				continue
			}
			if item["type"] == "null" {
				hasNull = true
				continue
			}
			if _, isRef := item["$ref"]; isRef {
				items = append(items, stripRefExtras(item))
			} else {
				items = append(items, processStrictObject(item))
			}
		}
		// A single trailing null represents both explicit nullability and
		// strict-mode optionality.
		if hasNull || !isRequired {
			items = append(items, map[string]any{"type": "null"})
		}

		result := make(map[string]any, len(prop))
		for key, value := range prop {
			if key == "oneOf" || key == "discriminator" {
				continue
			}
			if key == "default" && isRequired {
				continue
			}
			result[key] = value
		}
		result["anyOf"] = items
		return result
	}

	result := processStrictObject(prop).(map[string]any)

	if !isRequired {
		switch t := result["type"].(type) {
		case string:
			if t != "null" {
				result = nullableUnion(result, t)
			}
		case []any:
			if !containsNullType(t) {
				var typeValue any = t
				if len(t) == 1 {
					typeValue = t[0]
				}
				result = nullableUnionWithType(result, typeValue)
			}
		}
	}

	if isRequired {
		delete(result, "default")
	}
	return result
}

// nullableUnion splits result into metadata plus an anyOf of the typed
// schema and null. Providers in strict mode reject type arrays on complex
// schemas, so anyOf is the one notation used everywhere.
func nullableUnion(result map[string]any, typeValue string) map[string]any {
	return nullableUnionWithType(result, typeValue)
}

func nullableUnionWithType(result map[string]any, typeValue any) map[string]any {
	metadata := make(map[string]any)
	typed := make(map[string]any)
	for key, value := range result {
		if typeSpecificKeys[key] {
			typed[key] = value
		} else {
			metadata[key] = value
		}
	}
	typed["type"] = typeValue
	metadata["anyOf"] = []any{typed, map[string]any{"type": "null"}}
	return metadata
}

func containsNullType(types []any) bool {
	for _, t := range types {
		if t == "null" {
			return true
		}
	}
	return false
}

// processStrictObject rewrites an object schema (as opposed to a property)
// for strict mode.
func processStrictObject(node any) any {
	obj, ok := node.(map[string]any)
	if !ok {
		return node
	}
	if _, isRef := obj["$ref"]; isRef {
		return obj
	}

	result := make(map[string]any, len(obj))

	for key, value := range obj {
		switch {
		case key == "discriminator":
			continue

		case key == "$defs":
			if defs, ok := value.(map[string]any); ok {
				processed := make(map[string]any, len(defs))
				for name, def := range defs {
					processed[name] = processStrictObject(def)
				}
				result[key] = processed
			} else {
				result[key] = value
			}

		case key == "properties":
			props, ok := value.(map[string]any)
			if !ok {
				result[key] = value
				continue
			}
			required := requiredSet(obj)
			processed := make(map[string]any, len(props))
			for name, raw := range props {
				prop, ok := raw.(map[string]any)
				if !ok {
					processed[name] = raw
					continue
				}
				processed[name] = processStrictProperty(prop, required[name])
			}
			result[key] = processed

		case key == "items":
			result[key] = processStrictObject(value)

		case key == "oneOf":
			if list, ok := value.([]any); ok {
				result["anyOf"] = processStrictList(list)
			} else {
				result["anyOf"] = value
			}

		case key == "anyOf":
			if list, ok := value.([]any); ok {
				result[key] = processStrictList(list)
			} else {
				result[key] = value
			}

		default:
			switch v := value.(type) {
			case map[string]any:
				result[key] = processStrictObject(v)
			case []any:
				result[key] = processStrictList(v)
			default:
				result[key] = value
			}
		}
	}

	if props, ok := result["properties"].(map[string]any); ok {
		// Treat anything with properties as an object: everything becomes
		// required and closed, with optionality carried by the null unions
		// installed above.
		result["additionalProperties"] = false
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		required := make([]any, len(names))
		for i, name := range names {
			required[i] = name
		}
		result["required"] = required
		if _, hasType := result["type"]; !hasType {
			result["type"] = "object"
		}
		// Strict mode forbids defaults on required fields, and every field
		// is required now.
		for name, raw := range props {
			if prop, ok := raw.(map[string]any); ok {
				delete(prop, "default")
				props[name] = prop
			}
		}
	} else if result["type"] == "object" {
		// Free-form dicts collapse to a closed empty object.
		result["additionalProperties"] = false
		if _, ok := result["properties"]; !ok {
			result["properties"] = map[string]any{}
		}
		if _, ok := result["required"]; !ok {
			result["required"] = []any{}
		}
	}

	return result
}

func processStrictList(list []any) []any {
	out := make([]any, len(list))
	for i, item := range list {
		if m, ok := item.(map[string]any); ok {
			out[i] = processStrictObject(m)
		} else {
			out[i] = item
		}
	}
	return out
}

func requiredSet(obj map[string]any) map[string]bool {
	set := make(map[string]bool)
	switch required := obj["required"].(type) {
	case []any:
		for _, name := range required {
			if s, ok := name.(string); ok {
				set[s] = true
			}
		}
	case []string:
		for _, name := range required {
			set[name] = true
		}
	}
	return set
}

// GeminiSchema converts a JSON schema to the dialect Gemini's response_schema
// accepts: references flattened, type arrays rewritten as anyOf unions, and
// the unsupported additionalProperties keyword removed.
func GeminiSchema(schema map[string]any) (map[string]any, error) {
	flattened, err := FlattenRefs(schema)
	if err != nil {
		return nil, err
	}
	return processGeminiNode(flattened).(map[string]any), nil
}

func processGeminiNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		result := make(map[string]any, len(n))
		for key, value := range n {
			if key == "additionalProperties" {
				continue
			}
			if key == "type" {
				if types, ok := value.([]any); ok {
					union := make([]any, len(types))
					for i, t := range types {
						union[i] = map[string]any{"type": t}
					}
					result["anyOf"] = union
					continue
				}
			}
			result[key] = processGeminiNode(value)
		}
		return result
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			out[i] = processGeminiNode(item)
		}
		return out
	default:
		return node
	}
}

// deepCopyMap returns a structurally independent copy of a schema document.
func deepCopyMap(m map[string]any) map[string]any {
	return deepCopyValue(m).(map[string]any)
}

func deepCopyValue(v any) any {
	switch value := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, item := range value {
			out[k] = deepCopyValue(item)
		}
		return out
	case []any:
		out := make([]any, len(value))
		for i, item := range value {
			out[i] = deepCopyValue(item)
		}
		return out
	default:
		return v
	}
}
