package orchestrator

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
)

// HashValue computes the content hash of a rendered config value:
// sha256 over the canonical (key-sorted) JSON encoding.
func HashValue(v any) string {
	canonical, err := json.Marshal(canonicalize(v))
	if err != nil {
		return ""
	}
	hash := sha256.Sum256(canonical)
	return fmt.Sprintf("sha256:%x", hash)
}

func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return canonicalizeMap(val)
	case []any:
		result := make([]any, len(val))
		for i, item := range val {
			result[i] = canonicalize(item)
		}
		return result
	default:
		return v
	}
}

func canonicalizeMap(m map[string]any) *orderedMap {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	om := &orderedMap{
		keys:   keys,
		values: make(map[string]any, len(m)),
	}
	for k, v := range m {
		om.values[k] = canonicalize(v)
	}
	return om
}

type orderedMap struct {
	keys   []string
	values map[string]any
}

func (om *orderedMap) MarshalJSON() ([]byte, error) {
	if len(om.keys) == 0 {
		return []byte("{}"), nil
	}

	result := "{"
	for i, key := range om.keys {
		if i > 0 {
			result += ","
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		valueJSON, err := json.Marshal(om.values[key])
		if err != nil {
			return nil, err
		}
		result += string(keyJSON) + ":" + string(valueJSON)
	}
	result += "}"
	return []byte(result), nil
}

// normalizeValue round-trips a value through JSON so hashes of in-memory
// rendered values and values read back from config files agree.
func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
