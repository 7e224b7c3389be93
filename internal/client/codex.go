package client

import (
	"fmt"

	"github.com/Lutra-Fs/sift/internal/config"
)

// Codex only supports global MCP configuration; skills land in
// ~/.codex/skills or the project's .codex/skills.
type Codex struct{}

func (*Codex) ID() string {
	return "codex"
}

func (*Codex) Capabilities() Capabilities {
	return Capabilities{
		Mcp:                     ScopeSupport{Global: true},
		Skills:                  ScopeSupport{Global: true, Project: true},
		SkillDelivery:           DeliveryFilesystem,
		SupportsSymlinkedSkills: false,
		Transports:              []string{config.TransportStdio},
		SupportsHeaders:         false,
	}
}

// renderCodexServer produces the codex mcp_servers entry shape; http
// entries carry headers under "http_headers".
func renderCodexServer(s Server) map[string]any {
	if s.Transport == config.TransportHTTP {
		value := map[string]any{
			"url": s.URL,
		}
		if len(s.Headers) > 0 {
			value["http_headers"] = toAnyMap(s.Headers)
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

func (*Codex) PlanMcp(_ Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error) {
	if scope != config.ScopeGlobal {
		return nil, fmt.Errorf("codex only supports global MCP configuration")
	}
	return &ManagedJsonPlan{
		Root:         RootUser,
		RelativePath: ".codex/config.json",
		KeyPath:      []string{"mcp_servers"},
		Entries:      buildMcpEntries(servers, renderCodexServer),
	}, nil
}

func (*Codex) PlanSkill(_ Context, scope config.Scope) (*SkillDeliveryPlan, error) {
	switch scope {
	case config.ScopeGlobal:
		return &SkillDeliveryPlan{
			Root:         RootUser,
			RelativePath: ".codex/skills",
		}, nil
	case config.ScopeProject, config.ScopeProjectLocal:
		return &SkillDeliveryPlan{
			Root:         RootProject,
			RelativePath: ".codex/skills",
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}
