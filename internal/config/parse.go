package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

var knownTopLevel = map[string]bool{
	"link_mode": true,
	"mcp":       true,
	"skill":     true,
	"clients":   true,
	"registry":  true,
	"projects":  true,
}

// Parse decodes one sift.toml layer. Unknown top-level tables are errors;
// unknown fields inside known tables are warnings.
func Parse(data []byte) (*Document, []Diagnostic, error) {
	var doc Document
	meta, err := toml.Decode(string(data), &doc)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse sift.toml: %w", err)
	}

	var diags []Diagnostic
	for _, key := range meta.Undecoded() {
		parts := []string(key)
		if len(parts) == 0 {
			continue
		}
		if !knownTopLevel[parts[0]] {
			return nil, nil, fmt.Errorf("unknown table %q in sift.toml", parts[0])
		}
		diags = append(diags, warnf("unknown field %q in sift.toml", strings.Join(parts, ".")))
	}

	for name := range doc.Mcp {
		entry := doc.Mcp[name]
		entry.applyDefaults()
		doc.Mcp[name] = entry
	}
	for name := range doc.Skill {
		entry := doc.Skill[name]
		entry.applyDefaults()
		doc.Skill[name] = entry
	}

	return &doc, diags, nil
}

// Validate runs per-entry validation over a parsed layer.
func (d *Document) Validate(isGlobal bool) ([]Diagnostic, error) {
	var diags []Diagnostic

	for name, entry := range d.Mcp {
		entryDiags, err := entry.Validate(name)
		if err != nil {
			return nil, err
		}
		diags = append(diags, entryDiags...)
	}
	for name, entry := range d.Skill {
		entryDiags, err := entry.Validate(name)
		if err != nil {
			return nil, err
		}
		diags = append(diags, entryDiags...)
	}
	for name, entry := range d.Registry {
		if err := entry.Validate(name); err != nil {
			return nil, err
		}
	}
	if !isGlobal && len(d.Projects) > 0 {
		return nil, fmt.Errorf("[projects] tables are only valid in the global sift.toml")
	}

	return diags, nil
}

// LoadFile reads and parses one layer from disk. A missing file yields an
// empty document.
func LoadFile(path string, isGlobal bool) (*Document, []Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Document{}, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	doc, diags, err := Parse(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	validateDiags, err := doc.Validate(isGlobal)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, append(diags, validateDiags...), nil
}
