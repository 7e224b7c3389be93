package client

import (
	"fmt"

	"github.com/Lutra-Fs/sift/internal/config"
)

// VSCode plans writes into .vscode/mcp.json. Project-local installs share
// the same file as project installs; no .git/info/exclude entry is written
// for it.
type VSCode struct{}

func (*VSCode) ID() string {
	return "vscode"
}

func (*VSCode) Capabilities() Capabilities {
	return Capabilities{
		Mcp:                     ScopeSupport{Project: true, Local: true},
		Skills:                  ScopeSupport{Global: true, Project: true},
		SkillDelivery:           DeliveryFilesystem,
		SupportsSymlinkedSkills: true,
		Transports:              []string{config.TransportStdio, config.TransportHTTP},
		SupportsHeaders:         true,
	}
}

// renderVSCodeServer produces the .vscode/mcp.json entry shape: every
// entry is tagged with its transport type.
func renderVSCodeServer(s Server) map[string]any {
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
		"type":    "stdio",
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

func (*VSCode) PlanMcp(_ Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error) {
	switch scope {
	case config.ScopeProject, config.ScopeProjectLocal:
		return &ManagedJsonPlan{
			Root:         RootProject,
			RelativePath: ".vscode/mcp.json",
			KeyPath:      []string{"servers"},
			Entries:      buildMcpEntries(servers, renderVSCodeServer),
		}, nil
	case config.ScopeGlobal:
		return nil, fmt.Errorf("VS Code global MCP configuration is managed through VS Code profile settings")
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}

func (*VSCode) PlanSkill(_ Context, scope config.Scope) (*SkillDeliveryPlan, error) {
	switch scope {
	case config.ScopeGlobal:
		return &SkillDeliveryPlan{
			Root:         RootUser,
			RelativePath: ".copilot/skills",
		}, nil
	case config.ScopeProject, config.ScopeProjectLocal:
		return &SkillDeliveryPlan{
			Root:         RootProject,
			RelativePath: ".github/skills",
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}
