package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// toJSON returns the config bytes as JSON. Files with a .yaml/.yml extension
// are decoded and re-marshaled; everything else is assumed to be JSON already.
// Funneling both formats through one strict JSON decode keeps unknown-field
// rejection in a single place.
func toJSON(path string, data []byte) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
	default:
		return data, nil
	}

	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("yaml unmarshal: %w", err)
	}
	j, err := json.Marshal(stringifyKeys(v))
	if err != nil {
		return nil, fmt.Errorf("yaml to json: %w", err)
	}
	return j, nil
}

// stringifyKeys rewrites map[any]any keys to strings; json.Marshal rejects
// non-string keys and older yaml decoders produce them.
func stringifyKeys(v any) any {
	switch x := v.(type) {
	case map[any]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[fmt.Sprint(k)] = stringifyKeys(e)
		}
		return out
	case map[string]any:
		for k, e := range x {
			x[k] = stringifyKeys(e)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = stringifyKeys(e)
		}
		return x
	}
	return v
}
