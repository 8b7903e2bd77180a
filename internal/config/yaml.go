package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSONBytes funnels both config formats through one strict JSON decode.
// YAML files are unmarshalled and re-encoded as JSON; anything without a
// .yaml/.yml extension is assumed to be JSON already and passes through.
func toJSONBytes(path string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("parse yaml: %w", err)
	}

	out, err := json.Marshal(stringifyKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("encode yaml as json: %w", err)
	}
	return out, "yaml", nil
}

// stringifyKeys rewrites map keys to strings. Nested YAML documents can
// decode to map[any]any, which json.Marshal refuses.
func stringifyKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, v := range x {
			out[fmt.Sprint(k)] = stringifyKeys(v)
		}
		return out
	case map[string]any:
		for k, v := range x {
			x[k] = stringifyKeys(v)
		}
		return x
	case []any:
		for i, v := range x {
			x[i] = stringifyKeys(v)
		}
		return x
	default:
		return in
	}
}
