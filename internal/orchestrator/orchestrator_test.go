package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/Lutra-Fs/sift/internal/cache"
	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/resolver"
)

// stubResolver returns canned resolutions without touching the network.
type stubResolver struct {
	mcpVersion string
	skillCache string
	skillHash  string
}

func (s *stubResolver) ResolveMcp(_ context.Context, res config.McpResource) (*resolver.Resolved, error) {
	version := s.mcpVersion
	if res.DeclaredVersion != "" && res.DeclaredVersion != "latest" {
		version = res.DeclaredVersion
	}
	return &resolver.Resolved{
		Kind:            config.KindMcp,
		Name:            res.Name,
		Source:          res.Entry.Source,
		ResolvedVersion: version,
		NpmPackage:      "@example/" + res.Name,
	}, nil
}

func (s *stubResolver) ResolveSkill(_ context.Context, res config.SkillResource) (*resolver.Resolved, error) {
	return &resolver.Resolved{
		Kind:            config.KindSkill,
		Name:            res.Name,
		Source:          res.Entry.Source,
		ResolvedVersion: "1.0.0",
		CachePath:       s.skillCache,
		TreeHash:        s.skillHash,
	}, nil
}

type fixture struct {
	orch  *Orchestrator
	home  string
	proj  string
	store *lockfile.Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	home := t.TempDir()
	proj := t.TempDir()

	skillSrc := filepath.Join(t.TempDir(), "cache", "pdf")
	if err := os.MkdirAll(skillSrc, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(skillSrc, "SKILL.md"), []byte("# pdf"), 0o644); err != nil {
		t.Fatal(err)
	}
	hash, err := cache.HashTree(skillSrc)
	if err != nil {
		t.Fatal(err)
	}

	store, err := lockfile.Open(filepath.Join(proj, "sift.lock"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	return &fixture{
		orch: &Orchestrator{
			Clients:         client.Known(),
			Resolver:        &stubResolver{mcpVersion: "1.2.3", skillCache: skillSrc, skillHash: hash},
			Store:           store,
			ClientCtx:       client.Context{HomeDir: home, ProjectRoot: proj},
			LinkMode:        linker.ModeSymlink,
			RuntimeCacheDir: filepath.Join(home, ".local/share/sift/cache"),
		},
		home:  home,
		proj:  proj,
		store: store,
	}
}

func desiredWithMcp(name string, entry config.McpEntry, scope config.Scope) *config.DesiredState {
	entry.Transport = config.TransportStdio
	if entry.Runtime == "" {
		entry.Runtime = "node"
	}
	return &config.DesiredState{
		Mcp: map[string]config.McpResource{
			name: {Name: name, Scope: scope, Entry: entry},
		},
		Skills: map[string]config.SkillResource{},
	}
}

func readJSON(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil {
		t.Fatalf("parse %s: %v", path, err)
	}
	return root
}

// Scenario 1: fresh install of one MCP into Claude Desktop.
func TestInstallFreshMcp(t *testing.T) {
	f := newFixture(t)
	state := desiredWithMcp("echo", config.McpEntry{
		Source:  "registry:echo",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	report, err := f.orch.Install(context.Background(), state, Options{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if report.Partial() {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}

	configPath := filepath.Join(f.home, ".config/Claude/claude_desktop_config.json")
	root := readJSON(t, configPath)
	servers := root["mcpServers"].(map[string]any)
	echo := servers["echo"].(map[string]any)
	if echo["command"] != "npx" {
		t.Errorf("command = %v", echo["command"])
	}
	env := echo["env"].(map[string]any)
	if env["npm_config_cache"] == "" {
		t.Error("npm cache env must be set")
	}

	lf, err := f.store.Load()
	if err != nil {
		t.Fatal(err)
	}
	record, ok := lf.Config(lockfile.EntryID{
		ClientID: "claude-desktop", Scope: config.ScopeGlobal, Kind: config.KindMcp, Name: "echo",
	})
	if !ok {
		t.Fatal("lockfile row missing")
	}
	if record.ResolvedRef != "1.2.3" {
		t.Errorf("resolved ref = %q", record.ResolvedRef)
	}
	if record.ContentHash != HashValue(servers["echo"]) {
		t.Error("content hash must match the written value")
	}
}

// Scenario 2: user-modified entries are preserved until --force.
func TestInstallPreservesUserEdits(t *testing.T) {
	f := newFixture(t)
	state := desiredWithMcp("echo", config.McpEntry{
		Source:  "registry:echo",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatalf("first install: %v", err)
	}

	// User edits the args by hand.
	configPath := filepath.Join(f.home, ".config/Claude/claude_desktop_config.json")
	root := readJSON(t, configPath)
	echo := root["mcpServers"].(map[string]any)["echo"].(map[string]any)
	echo["args"] = []any{"--my-custom-flag"}
	data, _ := json.MarshalIndent(root, "", "  ")
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatal(err)
	}

	// Sibling key that sift must never touch.
	root2 := readJSON(t, configPath)
	root2["theme"] = "dark"
	data2, _ := json.MarshalIndent(root2, "", "  ")
	os.WriteFile(configPath, data2, 0o644)

	report, err := f.orch.Install(context.Background(), state, Options{})
	if err != nil {
		t.Fatalf("second install: %v", err)
	}
	if len(report.Warnings) == 0 || len(report.Skipped) == 0 {
		t.Fatalf("expected ownership conflict warning, got %+v", report)
	}

	after := readJSON(t, configPath)
	echoAfter := after["mcpServers"].(map[string]any)["echo"].(map[string]any)
	args, _ := echoAfter["args"].([]any)
	if len(args) != 1 || args[0] != "--my-custom-flag" {
		t.Errorf("user edit clobbered: %v", echoAfter)
	}

	// --force restores the sift-rendered value.
	report, err = f.orch.Install(context.Background(), state, Options{Force: true})
	if err != nil {
		t.Fatalf("forced install: %v", err)
	}
	if report.Partial() {
		t.Fatalf("forced install errors: %v", report.Errors)
	}
	final := readJSON(t, configPath)
	echoFinal := final["mcpServers"].(map[string]any)["echo"].(map[string]any)
	finalArgs, _ := echoFinal["args"].([]any)
	if len(finalArgs) == 0 || finalArgs[0] != "-y" {
		t.Errorf("forced install should restore the rendered value: %v", echoFinal)
	}
	if final["theme"] != "dark" {
		t.Error("non-managed sibling keys must be preserved")
	}
}

// Scenario 3: explicit targets fail fast, implicit targets warn-skip.
func TestInstallScopeFailFastVsWarnSkip(t *testing.T) {
	f := newFixture(t)

	explicit := desiredWithMcp("db", config.McpEntry{
		Source:  "registry:db",
		Targets: []string{"vscode", "gemini-cli"},
	}, config.ScopeProjectLocal)

	report, err := f.orch.Install(context.Background(), explicit, Options{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !report.Partial() {
		t.Fatal("explicit unsupported target must be a resource error")
	}
	if _, err := os.Stat(filepath.Join(f.proj, ".vscode", "mcp.json")); !os.IsNotExist(err) {
		t.Error("fail-fast must prevent all writes for the resource")
	}

	implicit := desiredWithMcp("db", config.McpEntry{
		Source: "registry:db",
	}, config.ScopeProjectLocal)
	report, err = f.orch.Install(context.Background(), implicit, Options{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if report.Partial() {
		t.Fatalf("implicit targets must not error: %v", report.Errors)
	}
	if len(report.Warnings) == 0 {
		t.Error("expected warn-skip for clients without local support")
	}
	root := readJSON(t, filepath.Join(f.proj, ".vscode", "mcp.json"))
	if _, ok := root["servers"].(map[string]any)["db"]; !ok {
		t.Error("vscode write should succeed")
	}
}

// Scenario 4: link-mode downgrade for a symlink-averse client.
func TestInstallSkillLinkModeDowngrade(t *testing.T) {
	f := newFixture(t)
	state := &config.DesiredState{
		Mcp: map[string]config.McpResource{},
		Skills: map[string]config.SkillResource{
			"pdf": {
				Name:  "pdf",
				Scope: config.ScopeProject,
				Entry: config.SkillEntry{Source: "registry:anthropic/pdf", Targets: []string{"claude-code"}},
			},
		},
	}

	report, err := f.orch.Install(context.Background(), state, Options{})
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if report.Partial() {
		t.Fatalf("errors: %v", report.Errors)
	}

	foundDowngrade := false
	for _, w := range report.Warnings {
		if w != "" {
			foundDowngrade = true
		}
	}
	if !foundDowngrade {
		t.Error("expected a downgrade warning")
	}

	lf, _ := f.store.Load()
	record, ok := lf.Skill(lockfile.SkillID{ClientID: "claude-code", Scope: config.ScopeProject, Name: "pdf"})
	if !ok {
		t.Fatal("managed skill row missing")
	}
	if record.LinkModeActual != string(linker.ModeHardlink) {
		t.Errorf("link_mode_actual = %q, want hardlink", record.LinkModeActual)
	}

	delivered := filepath.Join(f.proj, ".claude", "skills", "pdf")
	// The managed marker is delivery metadata, not skill content; drop it
	// before comparing trees.
	os.Remove(filepath.Join(delivered, linker.MarkerFilename))
	deliveredHash, err := cache.HashTree(delivered)
	if err != nil {
		t.Fatalf("hash delivered: %v", err)
	}
	if deliveredHash != record.TreeHash {
		t.Errorf("delivered tree %s != lockfile %s", deliveredHash, record.TreeHash)
	}
}

// Scenario 5: prune removes orphaned rows, artifacts and config keys.
func TestInstallPruneOrphans(t *testing.T) {
	f := newFixture(t)
	state := desiredWithMcp("old", config.McpEntry{
		Source:  "registry:old",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}

	// The resource disappears from the config.
	empty := &config.DesiredState{
		Mcp:    map[string]config.McpResource{},
		Skills: map[string]config.SkillResource{},
	}

	status, err := f.orch.Status(empty)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.OrphanConfigs) != 1 || status.OrphanConfigs[0].Name != "old" {
		t.Fatalf("expected one orphan, got %+v", status.OrphanConfigs)
	}

	report, err := f.orch.Install(context.Background(), empty, Options{Prune: true})
	if err != nil {
		t.Fatalf("prune install: %v", err)
	}
	if len(report.Removed) != 1 {
		t.Fatalf("expected one removal, got %+v", report)
	}

	root := readJSON(t, filepath.Join(f.home, ".config/Claude/claude_desktop_config.json"))
	if servers, ok := root["mcpServers"].(map[string]any); ok {
		if _, still := servers["old"]; still {
			t.Error("pruned key still present in client config")
		}
	}

	lf, _ := f.store.Load()
	if len(lf.ManagedConfigs) != 0 {
		t.Errorf("lockfile rows remain: %v", lf.ManagedConfigs)
	}
}

func TestUninstallRemovesManagedState(t *testing.T) {
	f := newFixture(t)
	state := desiredWithMcp("echo", config.McpEntry{
		Source:  "registry:echo",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatalf("install: %v", err)
	}

	report, err := f.orch.Uninstall(context.Background(), []string{"echo"}, Options{})
	if err != nil {
		t.Fatalf("Uninstall: %v", err)
	}
	if len(report.Removed) != 1 {
		t.Fatalf("removed = %v", report.Removed)
	}

	lf, _ := f.store.Load()
	if len(lf.ManagedConfigs) != 0 {
		t.Error("lockfile should be empty after uninstall")
	}
}

// Reproducibility over freshness: install freezes, only upgrade
// re-resolves.
func TestInstallFreezesUntilUpgrade(t *testing.T) {
	f := newFixture(t)
	stub := f.orch.Resolver.(*stubResolver)
	state := desiredWithMcp("echo", config.McpEntry{
		Source:  "registry:echo",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatal(err)
	}

	// A newer version appears upstream.
	stub.mcpVersion = "2.0.0"

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatal(err)
	}
	lf, _ := f.store.Load()
	id := lockfile.EntryID{ClientID: "claude-desktop", Scope: config.ScopeGlobal, Kind: config.KindMcp, Name: "echo"}
	record, _ := lf.Config(id)
	if record.ResolvedRef != "1.2.3" {
		t.Errorf("plain install must keep the frozen version, got %q", record.ResolvedRef)
	}

	if _, err := f.orch.Install(context.Background(), state, Options{Refreeze: true}); err != nil {
		t.Fatal(err)
	}
	lf, _ = f.store.Load()
	record, _ = lf.Config(id)
	if record.ResolvedRef != "2.0.0" {
		t.Errorf("upgrade must raise the resolved ref, got %q", record.ResolvedRef)
	}
}

func TestInstallDeterministicRerunIsStable(t *testing.T) {
	f := newFixture(t)
	state := desiredWithMcp("echo", config.McpEntry{
		Source:  "registry:echo",
		Targets: []string{"claude-desktop"},
	}, config.ScopeGlobal)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatal(err)
	}
	configPath := filepath.Join(f.home, ".config/Claude/claude_desktop_config.json")
	before := readJSON(t, configPath)

	if _, err := f.orch.Install(context.Background(), state, Options{}); err != nil {
		t.Fatal(err)
	}
	after := readJSON(t, configPath)
	if !reflect.DeepEqual(before, after) {
		t.Error("re-running install over unchanged state must be a no-op")
	}
}
