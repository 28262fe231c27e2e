// Package jsonschema implements the JSON Schema Service (§4.2): generation
// of OpenAI "strict"-mode schemas via reflection, and validation of
// arbitrary JSON against a compiled schema.
package jsonschema

import (
	"encoding/json"
	"fmt"

	invopop "github.com/invopop/jsonschema"
)

// Generate reflects a Go value's type into a strict JSON Schema: every
// object gets additionalProperties:false and every discovered property
// promoted into required, recursively. invopop/jsonschema's default
// reflection only requires non-omitempty fields, which is looser than
// OpenAI's structured-output contract demands, so the result is
// post-processed before being marshaled.
func Generate(v any) (json.RawMessage, error) {
	r := &invopop.Reflector{
		FieldNameTag:               "json",
		DoNotReference:             true,
		AllowAdditionalProperties:  false,
	}
	schema := r.Reflect(v)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: marshal reflected schema: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("jsonschema: decode reflected schema: %w", err)
	}
	strictify(doc)

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("jsonschema: marshal strict schema: %w", err)
	}
	return out, nil
}

// strictify recursively forces additionalProperties:false and populates
// required with every key of properties, on this node and every nested
// object/array-of-object schema.
func strictify(node map[string]any) {
	if properties, ok := node["properties"].(map[string]any); ok {
		required := make([]string, 0, len(properties))
		for name, child := range properties {
			required = append(required, name)
			if childObj, ok := child.(map[string]any); ok {
				strictify(childObj)
			}
		}
		node["required"] = sortedStrings(required)
		node["additionalProperties"] = false
	}
	if items, ok := node["items"].(map[string]any); ok {
		strictify(items)
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if variants, ok := node[key].([]any); ok {
			for _, variant := range variants {
				if variantObj, ok := variant.(map[string]any); ok {
					strictify(variantObj)
				}
			}
		}
	}
	if defs, ok := node["$defs"].(map[string]any); ok {
		for _, def := range defs {
			if defObj, ok := def.(map[string]any); ok {
				strictify(defObj)
			}
		}
	}
}

func sortedStrings(in []string) []string {
	for i := 1; i < len(in); i++ {
		for j := i; j > 0 && in[j-1] > in[j]; j-- {
			in[j-1], in[j] = in[j], in[j-1]
		}
	}
	return in
}
