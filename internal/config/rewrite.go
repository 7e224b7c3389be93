package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// RewriteSkillSource updates one skill's source (and optionally version) in
// a project's sift.toml. sift.toml is sift-owned, so unlike client configs
// it is re-encoded rather than surgically patched.
func RewriteSkillSource(path, name, source, version string) error {
	doc, _, err := LoadFile(path, true)
	if err != nil {
		return err
	}
	entry, ok := doc.Skill[name]
	if !ok {
		return fmt.Errorf("skill %q is not declared in %s", name, path)
	}
	entry.Source = source
	if version != "" {
		entry.Version = version
	}
	doc.Skill[name] = entry
	return WriteDocument(path, doc)
}

// RemoveEntry deletes a resource declaration from a sift.toml layer.
func RemoveEntry(path string, kind Kind, name string) error {
	doc, _, err := LoadFile(path, true)
	if err != nil {
		return err
	}
	switch kind {
	case KindMcp:
		if _, ok := doc.Mcp[name]; !ok {
			return fmt.Errorf("mcp %q is not declared in %s", name, path)
		}
		delete(doc.Mcp, name)
	case KindSkill:
		if _, ok := doc.Skill[name]; !ok {
			return fmt.Errorf("skill %q is not declared in %s", name, path)
		}
		delete(doc.Skill, name)
	}
	return WriteDocument(path, doc)
}

// UpsertEntry writes a resource declaration into a sift.toml layer,
// creating the file when missing.
func UpsertEntry(path string, kind Kind, name string, mcp *McpEntry, skill *SkillEntry) error {
	doc, _, err := LoadFile(path, true)
	if err != nil {
		return err
	}
	switch kind {
	case KindMcp:
		if doc.Mcp == nil {
			doc.Mcp = make(map[string]McpEntry)
		}
		doc.Mcp[name] = *mcp
	case KindSkill:
		if doc.Skill == nil {
			doc.Skill = make(map[string]SkillEntry)
		}
		doc.Skill[name] = *skill
	}
	return WriteDocument(path, doc)
}

// WriteDocument re-encodes a sift.toml layer atomically.
func WriteDocument(path string, doc *Document) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode sift.toml: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sift.toml.*")
	if err != nil {
		return fmt.Errorf("failed to create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write sift.toml: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move sift.toml into place: %w", err)
	}
	return nil
}
