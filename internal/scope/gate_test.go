package scope

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
)

func geminiCaps() client.Capabilities {
	return (&client.GeminiCLI{}).Capabilities()
}

func TestResolveExplicitTargetsFailFast(t *testing.T) {
	_, err := Resolve(Request{
		Kind:            config.KindMcp,
		Scope:           config.ScopeProjectLocal,
		Transport:       config.TransportStdio,
		ExplicitTargets: true,
	}, "gemini-cli", geminiCaps(), RepoGit)

	var unsupported *UnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedError, got %v", err)
	}
	if unsupported.Client != "gemini-cli" || unsupported.Scope != config.ScopeProjectLocal {
		t.Errorf("error fields: %+v", unsupported)
	}
}

func TestResolveImplicitTargetsWarnSkip(t *testing.T) {
	decision, err := Resolve(Request{
		Kind:            config.KindMcp,
		Scope:           config.ScopeProjectLocal,
		Transport:       config.TransportStdio,
		ExplicitTargets: false,
	}, "gemini-cli", geminiCaps(), RepoGit)
	if err != nil {
		t.Fatalf("implicit targets must not error: %v", err)
	}
	if decision.Apply {
		t.Error("unsupported scope must not apply")
	}
	if decision.Warning == "" {
		t.Error("skip must carry a warning")
	}
}

func TestResolveTransportGate(t *testing.T) {
	caps := (&client.ClaudeDesktop{}).Capabilities()

	_, err := Resolve(Request{
		Kind:            config.KindMcp,
		Scope:           config.ScopeGlobal,
		Transport:       config.TransportHTTP,
		ExplicitTargets: true,
	}, "claude-desktop", caps, RepoNone)
	if err == nil {
		t.Fatal("stdio-only client must fail fast for explicit http targets")
	}

	decision, err := Resolve(Request{
		Kind:      config.KindMcp,
		Scope:     config.ScopeGlobal,
		Transport: config.TransportHTTP,
	}, "claude-desktop", caps, RepoNone)
	if err != nil || decision.Apply {
		t.Fatalf("implicit http target on stdio-only client must warn-skip: %+v %v", decision, err)
	}
}

func TestResolveSkillProjectLocalRequiresGit(t *testing.T) {
	caps := client.Capabilities{
		Skills: client.ScopeSupport{Global: true, Project: true, Local: true},
	}

	if _, err := Resolve(Request{
		Kind:  config.KindSkill,
		Scope: config.ScopeProjectLocal,
	}, "x", caps, RepoNone); err == nil {
		t.Fatal("project-local skills outside a git repo must error")
	}

	decision, err := Resolve(Request{
		Kind:  config.KindSkill,
		Scope: config.ScopeProjectLocal,
	}, "x", caps, RepoGit)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !decision.Apply || !decision.UseGitExclude {
		t.Errorf("expected apply with git exclude, got %+v", decision)
	}
}

func TestDowngradeLadder(t *testing.T) {
	noSymlinks := client.Capabilities{SupportsSymlinkedSkills: false}
	mode, info := Downgrade(linker.ModeSymlink, noSymlinks)
	if mode != linker.ModeHardlink || info == "" {
		t.Errorf("expected hardlink downgrade with message, got %v %q", mode, info)
	}

	symlinksOK := client.Capabilities{SupportsSymlinkedSkills: true}
	mode, info = Downgrade(linker.ModeSymlink, symlinksOK)
	if mode != linker.ModeSymlink || info != "" {
		t.Errorf("no downgrade expected, got %v %q", mode, info)
	}

	mode, info = Downgrade(linker.ModeCopy, noSymlinks)
	if mode != linker.ModeCopy || info != "" {
		t.Errorf("copy never downgrades, got %v %q", mode, info)
	}
}

func TestDetectRepo(t *testing.T) {
	dir := t.TempDir()
	if DetectRepo(dir) != RepoNone {
		t.Error("bare directory is not a repo")
	}
	if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}
	if DetectRepo(dir) != RepoGit {
		t.Error("directory with .git is a repo")
	}
}

func TestEnsureGitExcludeIdempotent(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := EnsureGitExclude(root, ".claude/skills/pdf"); err != nil {
		t.Fatalf("EnsureGitExclude: %v", err)
	}
	if err := EnsureGitExclude(root, ".claude/skills/pdf"); err != nil {
		t.Fatalf("second EnsureGitExclude: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(root, ".git", "info", "exclude"))
	if err != nil {
		t.Fatalf("read exclude: %v", err)
	}
	if strings.Count(string(data), ".claude/skills/pdf") != 1 {
		t.Errorf("entry duplicated: %q", data)
	}
	if !strings.HasSuffix(string(data), "\n") {
		t.Error("exclude file must end with newline")
	}
}

func TestEnsureGitExcludePreservesExisting(t *testing.T) {
	root := t.TempDir()
	infoDir := filepath.Join(root, ".git", "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(infoDir, "exclude"), []byte("# comment\n*.log"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := EnsureGitExclude(root, ".gemini/skills/x"); err != nil {
		t.Fatalf("EnsureGitExclude: %v", err)
	}
	data, _ := os.ReadFile(filepath.Join(infoDir, "exclude"))
	text := string(data)
	if !strings.Contains(text, "# comment\n*.log\n.gemini/skills/x\n") {
		t.Errorf("existing content mangled: %q", text)
	}
}

func TestEnsureGitExcludeRejectsNewlines(t *testing.T) {
	root := t.TempDir()
	os.MkdirAll(filepath.Join(root, ".git"), 0o755)
	if err := EnsureGitExclude(root, "evil\nentry"); err == nil {
		t.Error("expected newline rejection")
	}
}

func TestEnsureGitExcludeOutsideRepo(t *testing.T) {
	if err := EnsureGitExclude(t.TempDir(), "x"); err == nil {
		t.Error("expected error outside a git repository")
	}
}
