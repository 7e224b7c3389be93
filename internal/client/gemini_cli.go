package client

import (
	"fmt"

	"github.com/Lutra-Fs/sift/internal/config"
)

// GeminiCLI plans writes into .gemini/settings.json at the user or project
// root. Gemini has no per-project private configuration.
type GeminiCLI struct{}

func (*GeminiCLI) ID() string {
	return "gemini-cli"
}

func (*GeminiCLI) Capabilities() Capabilities {
	return Capabilities{
		Mcp:                     ScopeSupport{Global: true, Project: true},
		Skills:                  ScopeSupport{Global: true, Project: true},
		SkillDelivery:           DeliveryFilesystem,
		SupportsSymlinkedSkills: false,
		Transports:              []string{config.TransportStdio, config.TransportHTTP},
		SupportsHeaders:         true,
	}
}

// renderGeminiServer produces the .gemini/settings.json entry shape.
// Gemini uses "httpUrl" for streamable HTTP transport.
func renderGeminiServer(s Server) map[string]any {
	if s.Transport == config.TransportHTTP {
		value := map[string]any{
			"httpUrl": s.URL,
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

func (*GeminiCLI) PlanMcp(_ Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error) {
	entries := buildMcpEntries(servers, renderGeminiServer)
	switch scope {
	case config.ScopeGlobal:
		return &ManagedJsonPlan{
			Root:         RootUser,
			RelativePath: ".gemini/settings.json",
			KeyPath:      []string{"mcpServers"},
			Entries:      entries,
		}, nil
	case config.ScopeProject:
		return &ManagedJsonPlan{
			Root:         RootProject,
			RelativePath: ".gemini/settings.json",
			KeyPath:      []string{"mcpServers"},
			Entries:      entries,
		}, nil
	case config.ScopeProjectLocal:
		return nil, fmt.Errorf("gemini-cli does not support local (per-project private) MCP configuration")
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}

func (*GeminiCLI) PlanSkill(_ Context, scope config.Scope) (*SkillDeliveryPlan, error) {
	switch scope {
	case config.ScopeGlobal:
		return &SkillDeliveryPlan{
			Root:         RootUser,
			RelativePath: ".gemini/skills",
		}, nil
	case config.ScopeProject, config.ScopeProjectLocal:
		return &SkillDeliveryPlan{
			Root:         RootProject,
			RelativePath: ".gemini/skills",
		}, nil
	default:
		return nil, fmt.Errorf("unknown scope %q", scope)
	}
}
