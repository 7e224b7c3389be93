package client

import (
	"fmt"

	"github.com/Lutra-Fs/sift/internal/config"
)

// ClaudeCode plans writes into ~/.claude.json (global and project-local)
// and the shared .mcp.json at the project root.
type ClaudeCode struct{}

func (*ClaudeCode) ID() string {
	return "claude-code"
}

func (*ClaudeCode) Capabilities() Capabilities {
	return Capabilities{
		Mcp:                     ScopeSupport{Global: true, Project: true, Local: true},
		Skills:                  ScopeSupport{Global: true, Project: true},
		SkillDelivery:           DeliveryFilesystem,
		SupportsSymlinkedSkills: false,
		Transports:              []string{config.TransportStdio, config.TransportHTTP},
		SupportsHeaders:         true,
	}
}

// renderClaudeCodeServer produces the .claude.json / .mcp.json entry shape:
// stdio entries are bare command records, http entries carry a type tag.
func renderClaudeCodeServer(s Server) map[string]any {
	if s.Transport == config.TransportHTTP {
		value := map[string]any{
			"type": "http",
			"url":  s.URL,
		}
		if len(s.Headers) > 0 {
			value["headers"] = toAnyMap(s.Headers)
		}
		return value
	}
	value := map[string]any{
		"command": s.Command,
	}
	if len(s.Args) > 0 {
		value["args"] = toAnySlice(s.Args)
	}
	if len(s.Env) > 0 {
		value["env"] = toAnyMap(s.Env)
	}
	return value
}

func (*ClaudeCode) PlanMcp(ctx Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error) {
	entries := buildMcpEntries(servers, renderClaudeCodeServer)
	switch scope {
	case config.ScopeGlobal:
		return &ManagedJsonPlan{
			Root:         RootUser,
			RelativePath: ".claude.json",
			KeyPath:      []string{"mcpServers"},
			Entries:      entries,
		}, nil
	case config.ScopeProject:
		return &ManagedJsonPlan{
			Root:         RootProject,
			RelativePath: ".mcp.json",
			KeyPath:      []string{"mcpServers"},
			Entries:      entries,
		}, nil
	case config.ScopeProjectLocal:
		// Local servers live under the per-project table of the user file.
		return &ManagedJsonPlan{
			Root:         RootUser,
			RelativePath: ".claude.json",
			KeyPath:      []string{"projects", ctx.ProjectRoot, "mcpServers"},
			Entries:      entries,
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}

func (*ClaudeCode) PlanSkill(_ Context, scope config.Scope) (*SkillDeliveryPlan, error) {
	switch scope {
	case config.ScopeGlobal:
		return &SkillDeliveryPlan{
			Root:         RootUser,
			RelativePath: ".claude/skills",
		}, nil
	case config.ScopeProject, config.ScopeProjectLocal:
		return &SkillDeliveryPlan{
			Root:         RootProject,
			RelativePath: ".claude/skills",
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}
