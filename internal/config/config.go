// Package config loads and merges the three sift.toml layers into the
// effective desired state.
package config

import (
	"fmt"
	"strings"
)

// Scope identifies which configuration layer a resource belongs to.
type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeProject      Scope = "project"
	ScopeProjectLocal Scope = "project-local"
)

// ParseScope converts a CLI string to a Scope.
func ParseScope(s string) (Scope, error) {
	switch s {
	case "global":
		return ScopeGlobal, nil
	case "project":
		return ScopeProject, nil
	case "project-local", "local":
		return ScopeProjectLocal, nil
	default:
		return "", fmt.Errorf("unknown scope %q (expected global, project or project-local)", s)
	}
}

// Kind distinguishes the two resource variants.
type Kind string

const (
	KindMcp   Kind = "mcp"
	KindSkill Kind = "skill"
)

// Transport values accepted for MCP servers.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Severity of a load-time diagnostic.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Diagnostic is a non-fatal finding produced while loading or merging.
type Diagnostic struct {
	Severity Severity
	Message  string
}

func warnf(format string, args ...any) Diagnostic {
	return Diagnostic{Severity: SeverityWarning, Message: fmt.Sprintf(format, args...)}
}

// Document is one parsed sift.toml layer.
type Document struct {
	LinkMode string                     `toml:"link_mode"`
	Mcp      map[string]McpEntry        `toml:"mcp"`
	Skill    map[string]SkillEntry      `toml:"skill"`
	Clients  map[string]ClientEntry     `toml:"clients"`
	Registry map[string]RegistryEntry   `toml:"registry"`
	Projects map[string]ProjectOverride `toml:"projects"`
}

// McpEntry is an [mcp.<name>] table.
type McpEntry struct {
	Transport     string            `toml:"transport"`
	Source        string            `toml:"source"`
	Runtime       string            `toml:"runtime"`
	Args          []string          `toml:"args"`
	URL           string            `toml:"url"`
	Headers       map[string]string `toml:"headers"`
	Targets       []string          `toml:"targets"`
	IgnoreTargets []string          `toml:"ignore_targets"`
	Env           map[string]string `toml:"env"`
	Version       string            `toml:"version"`
}

// SkillEntry is a [skill.<name>] table.
type SkillEntry struct {
	Source        string   `toml:"source"`
	Version       string   `toml:"version"`
	Targets       []string `toml:"targets"`
	IgnoreTargets []string `toml:"ignore_targets"`
}

// ClientEntry is a [clients.<id>] table.
type ClientEntry struct {
	Enabled    *bool  `toml:"enabled"`
	FsStrategy string `toml:"fs_strategy"`
}

// IsEnabled treats a missing enabled flag as true.
func (c ClientEntry) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// RegistryEntry is a [registry.<name>] table.
type RegistryEntry struct {
	Type   string `toml:"type"`
	URL    string `toml:"url"`
	Source string `toml:"source"`
}

// ProjectOverride is a [projects."<abs-path>"] table in the global layer.
type ProjectOverride struct {
	Mcp   map[string]McpOverride   `toml:"mcp"`
	Skill map[string]SkillOverride `toml:"skill"`
}

// McpOverride carries the fields a project-local layer may override.
type McpOverride struct {
	Runtime string            `toml:"runtime"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
}

// SkillOverride carries the fields a project-local layer may override.
type SkillOverride struct {
	Version string `toml:"version"`
}

// Source prefixes recognized in sift.toml.
const (
	SourceRegistry = "registry:"
	SourceGit      = "git:"
	SourceLocal    = "local:"
	SourceHTTP     = "http:"
	// SourceCommand marks a CLI-synthesized raw stdio command. It never
	// appears in a user-written sift.toml.
	SourceCommand = "cmd:"
)

// SourceKind returns the prefix of a source string, or "" when unrecognized.
func SourceKind(source string) string {
	for _, prefix := range []string{SourceRegistry, SourceGit, SourceLocal, SourceHTTP, SourceCommand} {
		if strings.HasPrefix(source, prefix) {
			return prefix
		}
	}
	return ""
}

func (e *McpEntry) applyDefaults() {
	if e.Transport == "" {
		e.Transport = TransportStdio
	}
	if e.Runtime == "" {
		e.Runtime = "node"
	}
}

func (e *SkillEntry) applyDefaults() {
	if e.Version == "" {
		e.Version = "latest"
	}
}

// Validate checks a single MCP entry. Returned diagnostics are warnings;
// an error is fatal for the layer.
func (e McpEntry) Validate(name string) ([]Diagnostic, error) {
	var diags []Diagnostic

	switch e.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return nil, fmt.Errorf("mcp.%s: invalid transport %q (expected stdio or http)", name, e.Transport)
	}

	if len(e.Targets) > 0 && len(e.IgnoreTargets) > 0 {
		return nil, fmt.Errorf("mcp.%s: targets and ignore_targets are mutually exclusive", name)
	}

	switch e.Transport {
	case TransportHTTP:
		if e.URL == "" && !strings.HasPrefix(e.Source, SourceHTTP) {
			return nil, fmt.Errorf("mcp.%s: http transport requires url", name)
		}
	case TransportStdio:
		if e.Source == "" {
			return nil, fmt.Errorf("mcp.%s: stdio transport requires source", name)
		}
		if SourceKind(e.Source) == "" {
			return nil, fmt.Errorf("mcp.%s: invalid source %q (expected registry:, git:, local: or http: prefix)", name, e.Source)
		}
		if len(e.Headers) > 0 {
			diags = append(diags, warnf("mcp.%s: headers are only used with http transport", name))
		}
	}

	return diags, nil
}

// Validate checks a single skill entry.
func (e SkillEntry) Validate(name string) ([]Diagnostic, error) {
	if e.Source == "" {
		return nil, fmt.Errorf("skill.%s: source is required", name)
	}
	kind := SourceKind(e.Source)
	if kind == "" || kind == SourceHTTP || kind == SourceCommand {
		return nil, fmt.Errorf("skill.%s: invalid source %q (expected registry:, git: or local: prefix)", name, e.Source)
	}
	if len(e.Targets) > 0 && len(e.IgnoreTargets) > 0 {
		return nil, fmt.Errorf("skill.%s: targets and ignore_targets are mutually exclusive", name)
	}
	return nil, nil
}

// Validate checks a registry entry.
func (e RegistryEntry) Validate(name string) error {
	switch e.Type {
	case "", "sift":
		if e.URL == "" {
			return fmt.Errorf("registry.%s: sift registry requires url", name)
		}
	case "claude-marketplace":
		if e.Source == "" {
			return fmt.Errorf("registry.%s: claude-marketplace registry requires source", name)
		}
		if !strings.HasPrefix(e.Source, "github:") && !strings.HasPrefix(e.Source, SourceGit) {
			return fmt.Errorf("registry.%s: marketplace source must be 'github:org/repo' or 'git:url'", name)
		}
	default:
		return fmt.Errorf("registry.%s: unknown registry type %q", name, e.Type)
	}
	return nil
}
