package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// loadJSONMap reads a JSON object file; a missing file is an empty object.
// Non-managed sibling keys pass through this map untouched: sift only ever
// replaces values at its own key paths before re-serializing.
func loadJSONMap(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var root any
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON config %s: %w", path, err)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected JSON object at root of %s", path)
	}
	return obj, nil
}

// writeJSONMap writes the object atomically: temp sibling plus rename.
func writeJSONMap(path string, root map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(root, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize JSON config: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move config file into place: %w", err)
	}
	return nil
}

// valueAt returns the value at keyPath + name, or nil when absent.
func valueAt(root map[string]any, keyPath []string, name string) any {
	current := root
	for _, segment := range keyPath {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return nil
		}
		current = next
	}
	return current[name]
}

// setValueAt places a value at keyPath + name, creating intermediate
// objects as needed. It fails rather than clobbering a non-object on the
// way down.
func setValueAt(root map[string]any, keyPath []string, name string, value any) error {
	current := root
	for _, segment := range keyPath {
		existing, ok := current[segment]
		if !ok {
			next := map[string]any{}
			current[segment] = next
			current = next
			continue
		}
		next, ok := existing.(map[string]any)
		if !ok {
			return fmt.Errorf("expected %q to be a JSON object", segment)
		}
		current = next
	}
	current[name] = value
	return nil
}

// removeValueAt deletes keyPath + name; empty intermediate objects are left
// in place to avoid disturbing user formatting expectations.
func removeValueAt(root map[string]any, keyPath []string, name string) {
	current := root
	for _, segment := range keyPath {
		next, ok := current[segment].(map[string]any)
		if !ok {
			return
		}
		current = next
	}
	delete(current, name)
}
