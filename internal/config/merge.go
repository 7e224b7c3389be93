package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// McpResource is an effective MCP server after layer merging.
type McpResource struct {
	Name            string
	Scope           Scope
	DeclaredVersion string
	Entry           McpEntry
}

// SkillResource is an effective skill after layer merging.
type SkillResource struct {
	Name            string
	Scope           Scope
	DeclaredVersion string
	Entry           SkillEntry
}

// DesiredState is the merged view of all configuration layers.
type DesiredState struct {
	LinkMode    string
	Mcp         map[string]McpResource
	Skills      map[string]SkillResource
	Clients     map[string]ClientEntry
	Registries  map[string]RegistryEntry
	Diagnostics []Diagnostic
}

// McpNames returns MCP resource names in stable order.
func (d *DesiredState) McpNames() []string {
	names := make([]string, 0, len(d.Mcp))
	for name := range d.Mcp {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SkillNames returns skill resource names in stable order.
func (d *DesiredState) SkillNames() []string {
	names := make([]string, 0, len(d.Skills))
	for name := range d.Skills {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Merge combines the global and project layers plus the project-local
// override block into a DesiredState. Merge order is Global -> Project ->
// ProjectLocal; env and headers merge per key, every other set field
// replaces the earlier layer's value wholesale. args replace, never union.
func Merge(global, project *Document, projectRoot string) (*DesiredState, error) {
	state := &DesiredState{
		Mcp:        make(map[string]McpResource),
		Skills:     make(map[string]SkillResource),
		Clients:    make(map[string]ClientEntry),
		Registries: make(map[string]RegistryEntry),
	}

	state.LinkMode = global.LinkMode
	if project.LinkMode != "" {
		state.LinkMode = project.LinkMode
	}

	for name, entry := range global.Mcp {
		state.Mcp[name] = McpResource{
			Name:            name,
			Scope:           ScopeGlobal,
			DeclaredVersion: entry.Version,
			Entry:           entry,
		}
	}
	for name, entry := range global.Skill {
		state.Skills[name] = SkillResource{
			Name:            name,
			Scope:           ScopeGlobal,
			DeclaredVersion: entry.Version,
			Entry:           entry,
		}
	}
	for id, entry := range global.Clients {
		state.Clients[id] = entry
	}
	for name, entry := range global.Registry {
		state.Registries[name] = entry
	}

	for name, overlay := range project.Mcp {
		if base, ok := state.Mcp[name]; ok {
			if err := checkSourceCompatible(KindMcp, name, base.Entry.Source, overlay.Source); err != nil {
				return nil, err
			}
			merged := mergeMcpEntry(base.Entry, overlay)
			state.Mcp[name] = McpResource{
				Name:            name,
				Scope:           ScopeProject,
				DeclaredVersion: merged.Version,
				Entry:           merged,
			}
			continue
		}
		state.Mcp[name] = McpResource{
			Name:            name,
			Scope:           ScopeProject,
			DeclaredVersion: overlay.Version,
			Entry:           overlay,
		}
	}
	for name, overlay := range project.Skill {
		if base, ok := state.Skills[name]; ok {
			if err := checkSourceCompatible(KindSkill, name, base.Entry.Source, overlay.Source); err != nil {
				return nil, err
			}
			merged := mergeSkillEntry(base.Entry, overlay)
			state.Skills[name] = SkillResource{
				Name:            name,
				Scope:           ScopeProject,
				DeclaredVersion: merged.Version,
				Entry:           merged,
			}
			continue
		}
		state.Skills[name] = SkillResource{
			Name:            name,
			Scope:           ScopeProject,
			DeclaredVersion: overlay.Version,
			Entry:           overlay,
		}
	}
	for id, entry := range project.Clients {
		state.Clients[id] = entry
	}
	for name, entry := range project.Registry {
		state.Registries[name] = entry
	}

	if override := global.projectOverrideFor(projectRoot); override != nil {
		applyProjectOverride(state, override)
	}

	return state, nil
}

// projectOverrideFor finds the [projects."<abs>"] block matching the root,
// exact match first, then prefix.
func (d *Document) projectOverrideFor(projectRoot string) *ProjectOverride {
	if projectRoot == "" {
		return nil
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	if override, ok := d.Projects[abs]; ok {
		return &override
	}
	for path, override := range d.Projects {
		if strings.HasPrefix(abs, strings.TrimSuffix(path, "/")+string(filepath.Separator)) {
			return &override
		}
	}
	return nil
}

func applyProjectOverride(state *DesiredState, override *ProjectOverride) {
	for name, o := range override.Mcp {
		base, ok := state.Mcp[name]
		if !ok {
			state.Diagnostics = append(state.Diagnostics,
				warnf("project-local override for unknown MCP server %q ignored", name))
			continue
		}
		entry := base.Entry
		if o.Runtime != "" {
			entry.Runtime = o.Runtime
		}
		if len(o.Args) > 0 {
			entry.Args = o.Args
		}
		if len(o.Env) > 0 {
			entry.Env = mergeStringMap(entry.Env, o.Env)
		}
		state.Mcp[name] = McpResource{
			Name:            name,
			Scope:           ScopeProjectLocal,
			DeclaredVersion: base.DeclaredVersion,
			Entry:           entry,
		}
	}
	for name, o := range override.Skill {
		base, ok := state.Skills[name]
		if !ok {
			state.Diagnostics = append(state.Diagnostics,
				warnf("project-local override for unknown skill %q ignored", name))
			continue
		}
		entry := base.Entry
		declared := base.DeclaredVersion
		if o.Version != "" {
			entry.Version = o.Version
			declared = o.Version
		}
		state.Skills[name] = SkillResource{
			Name:            name,
			Scope:           ScopeProjectLocal,
			DeclaredVersion: declared,
			Entry:           entry,
		}
	}
}

// checkSourceCompatible rejects the same (Kind, Name) declared at two layers
// with incompatible source kinds.
func checkSourceCompatible(kind Kind, name, baseSource, overlaySource string) error {
	if overlaySource == "" || baseSource == "" {
		return nil
	}
	if SourceKind(baseSource) != SourceKind(overlaySource) {
		return fmt.Errorf("%s.%s: scope conflict: declared with source %q at one layer and %q at another",
			kind, name, baseSource, overlaySource)
	}
	return nil
}

func mergeMcpEntry(base, overlay McpEntry) McpEntry {
	merged := base
	if overlay.Transport != "" {
		merged.Transport = overlay.Transport
	}
	if overlay.Source != "" {
		merged.Source = overlay.Source
	}
	if overlay.Runtime != "" {
		merged.Runtime = overlay.Runtime
	}
	if len(overlay.Args) > 0 {
		merged.Args = overlay.Args
	}
	if overlay.URL != "" {
		merged.URL = overlay.URL
	}
	if len(overlay.Targets) > 0 {
		merged.Targets = overlay.Targets
		merged.IgnoreTargets = nil
	}
	if len(overlay.IgnoreTargets) > 0 {
		merged.IgnoreTargets = overlay.IgnoreTargets
		merged.Targets = nil
	}
	if overlay.Version != "" {
		merged.Version = overlay.Version
	}
	merged.Headers = mergeStringMap(base.Headers, overlay.Headers)
	merged.Env = mergeStringMap(base.Env, overlay.Env)
	return merged
}

func mergeSkillEntry(base, overlay SkillEntry) SkillEntry {
	merged := base
	if overlay.Source != "" {
		merged.Source = overlay.Source
	}
	if overlay.Version != "" {
		merged.Version = overlay.Version
	}
	if len(overlay.Targets) > 0 {
		merged.Targets = overlay.Targets
		merged.IgnoreTargets = nil
	}
	if len(overlay.IgnoreTargets) > 0 {
		merged.IgnoreTargets = overlay.IgnoreTargets
		merged.Targets = nil
	}
	return merged
}

func mergeStringMap(base, overlay map[string]string) map[string]string {
	if len(base) == 0 && len(overlay) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// Load reads all layers for the working directory and merges them.
func Load(projectRoot string) (*DesiredState, error) {
	global, globalDiags, err := LoadFile(GlobalConfigPath(), true)
	if err != nil {
		return nil, err
	}
	project, projectDiags, err := LoadFile(ProjectConfigPath(projectRoot), false)
	if err != nil {
		return nil, err
	}

	state, err := Merge(global, project, projectRoot)
	if err != nil {
		return nil, err
	}
	state.Diagnostics = append(state.Diagnostics, globalDiags...)
	state.Diagnostics = append(state.Diagnostics, projectDiags...)
	return state, nil
}
