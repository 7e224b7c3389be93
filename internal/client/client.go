// Package client holds the plan-only adapters for the known AI coding
// clients. Adapters describe writes and deliveries; they never touch the
// filesystem themselves.
package client

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Lutra-Fs/sift/internal/config"
)

// PathRoot anchors a plan's relative path.
type PathRoot int

const (
	RootUser PathRoot = iota
	RootProject
)

// Context carries the directories plans are resolved against.
type Context struct {
	HomeDir     string
	ProjectRoot string
}

// Resolve joins a plan path onto its root, rejecting absolute paths and
// traversal.
func (c Context) Resolve(root PathRoot, relative string) (string, error) {
	if err := ensureRelative(relative); err != nil {
		return "", err
	}
	base := c.HomeDir
	if root == RootProject {
		base = c.ProjectRoot
	}
	return filepath.Join(base, filepath.FromSlash(relative)), nil
}

func ensureRelative(path string) error {
	if filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths are not allowed in install plans: %s", path)
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path traversal is not allowed in install plans: %s", path)
		}
	}
	return nil
}

// ScopeSupport lists the scopes a client accepts for one resource kind.
type ScopeSupport struct {
	Global  bool
	Project bool
	Local   bool
}

// Supports reports whether the scope is accepted.
func (s ScopeSupport) Supports(scope config.Scope) bool {
	switch scope {
	case config.ScopeGlobal:
		return s.Global
	case config.ScopeProject:
		return s.Project
	case config.ScopeProjectLocal:
		return s.Local
	default:
		return false
	}
}

// DeliveryMode says how a client consumes skills.
type DeliveryMode int

const (
	// DeliveryFilesystem clients scan a directory.
	DeliveryFilesystem DeliveryMode = iota
	// DeliveryConfigReference clients read explicit paths from config.
	DeliveryConfigReference
	// DeliveryNone clients do not support skills.
	DeliveryNone
)

// Capabilities is the record the orchestrator branches on. It never
// branches on client identity.
type Capabilities struct {
	Mcp                     ScopeSupport
	Skills                  ScopeSupport
	SkillDelivery           DeliveryMode
	SupportsSymlinkedSkills bool
	Transports              []string
	SupportsHeaders         bool
}

// SupportsTransport checks transport compatibility.
func (c Capabilities) SupportsTransport(transport string) bool {
	for _, t := range c.Transports {
		if t == transport {
			return true
		}
	}
	return false
}

// ManagedJsonPlan describes a write into a client's JSON config file.
type ManagedJsonPlan struct {
	Root         PathRoot
	RelativePath string
	KeyPath      []string
	Entries      map[string]any
}

// SkillDeliveryPlan describes where the client expects skills to live.
type SkillDeliveryPlan struct {
	Root          PathRoot
	RelativePath  string
	UseGitExclude bool
}

// Adapter is a pure describer for one client.
type Adapter interface {
	ID() string
	Capabilities() Capabilities
	PlanMcp(ctx Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error)
	PlanSkill(ctx Context, scope config.Scope) (*SkillDeliveryPlan, error)
}

// Server is one resolved MCP entry. Adapters render it into their own wire
// format inside PlanMcp; there is no client-agnostic JSON shape.
type Server struct {
	Name      string
	Transport string
	Command   string
	Args      []string
	Env       map[string]string
	URL       string
	Headers   map[string]string
}

// buildMcpEntries applies an adapter's renderer to every server.
func buildMcpEntries(servers []Server, render func(Server) map[string]any) map[string]any {
	entries := make(map[string]any, len(servers))
	for _, s := range servers {
		entries[s.Name] = render(s)
	}
	return entries
}

// Known returns the built-in adapter set.
func Known() []Adapter {
	return []Adapter{
		&ClaudeDesktop{},
		&ClaudeCode{},
		&VSCode{},
		&GeminiCLI{},
		&Codex{},
	}
}

// ByID finds a built-in adapter.
func ByID(id string) (Adapter, bool) {
	for _, a := range Known() {
		if a.ID() == id {
			return a, true
		}
	}
	return nil, false
}

// Eligible applies the targets allowlist / ignore_targets blocklist of a
// resource to an adapter.
func Eligible(a Adapter, targets, ignoreTargets []string) bool {
	if len(targets) > 0 {
		for _, t := range targets {
			if t == a.ID() {
				return true
			}
		}
		return false
	}
	for _, t := range ignoreTargets {
		if t == a.ID() {
			return false
		}
	}
	return true
}
