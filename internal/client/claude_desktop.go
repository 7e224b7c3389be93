package client

import (
	"fmt"
	"runtime"

	"github.com/Lutra-Fs/sift/internal/config"
)

// ClaudeDesktop manages the desktop app's claude_desktop_config.json.
// Desktop has no notion of projects, so only the global scope applies.
type ClaudeDesktop struct{}

func (*ClaudeDesktop) ID() string {
	return "claude-desktop"
}

func (*ClaudeDesktop) Capabilities() Capabilities {
	return Capabilities{
		Mcp:                     ScopeSupport{Global: true},
		Skills:                  ScopeSupport{},
		SkillDelivery:           DeliveryNone,
		SupportsSymlinkedSkills: false,
		Transports:              []string{config.TransportStdio},
		SupportsHeaders:         false,
	}
}

func (*ClaudeDesktop) configRelativePath() string {
	switch runtime.GOOS {
	case "darwin":
		return "Library/Application Support/Claude/claude_desktop_config.json"
	case "windows":
		return "AppData/Roaming/Claude/claude_desktop_config.json"
	default:
		return ".config/Claude/claude_desktop_config.json"
	}
}

// renderClaudeDesktopServer produces the claude_desktop_config.json entry
// shape; desktop only runs stdio servers.
func renderClaudeDesktopServer(s Server) map[string]any {
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

func (c *ClaudeDesktop) PlanMcp(_ Context, scope config.Scope, servers []Server) (*ManagedJsonPlan, error) {
	if scope != config.ScopeGlobal {
		return nil, fmt.Errorf("claude-desktop only supports global MCP configuration")
	}
	return &ManagedJsonPlan{
		Root:         RootUser,
		RelativePath: c.configRelativePath(),
		KeyPath:      []string{"mcpServers"},
		Entries:      buildMcpEntries(servers, renderClaudeDesktopServer),
	}, nil
}

func (*ClaudeDesktop) PlanSkill(_ Context, _ config.Scope) (*SkillDeliveryPlan, error) {
	return nil, fmt.Errorf("claude-desktop does not support skills")
}
