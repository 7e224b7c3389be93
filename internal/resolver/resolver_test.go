package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lutra-Fs/sift/internal/cache"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/registry"
)

type fakeGit struct {
	sha   string
	trees map[string]map[string]string // url -> relpath -> content
}

func (f *fakeGit) ResolveRef(ctx context.Context, url, ref string) (string, error) {
	return f.sha, nil
}

func (f *fakeGit) Checkout(ctx context.Context, spec GitSpec, sha, dest string) error {
	files, ok := f.trees[spec.URL]
	if !ok {
		files = map[string]string{"SKILL.md": "from " + spec.URL}
	}
	for rel, content := range files {
		path := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

type fakeDocker struct{ digest string }

func (f *fakeDocker) ResolveDigest(ctx context.Context, image string) (string, error) {
	return f.digest, nil
}

func newTestResolver(t *testing.T, adapters []registry.Adapter) *Resolver {
	t.Helper()
	r := New(adapters, cache.New(t.TempDir()))
	r.git = &fakeGit{sha: "0123456789abcdef0123456789abcdef01234567"}
	r.docker = &fakeDocker{digest: "sha256:f00d"}
	return r
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		in, want string
		warn     bool
	}{
		{"registry:echo", "registry:echo", false},
		{"local:./skills/pdf", "local:./skills/pdf", false},
		{"./skills/pdf", "local:./skills/pdf", true},
		{"/abs/skills/pdf", "local:/abs/skills/pdf", true},
		{"https://github.com/org/repo.git", "git:https://github.com/org/repo.git", true},
	}
	for _, c := range cases {
		got, warning := Normalize(c.in)
		if got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
		if (warning != "") != c.warn {
			t.Errorf("Normalize(%q) warning = %q", c.in, warning)
		}
	}
}

func TestParseGitSource(t *testing.T) {
	spec := parseGitSource("git:https://github.com/org/repo.git@v1.2#skills/pdf")
	if spec.URL != "https://github.com/org/repo.git" || spec.Ref != "v1.2" || spec.Subdir != "skills/pdf" {
		t.Errorf("unexpected spec: %+v", spec)
	}

	plain := parseGitSource("git:https://github.com/org/repo.git")
	if plain.URL != "https://github.com/org/repo.git" || plain.Ref != "" {
		t.Errorf("unexpected spec: %+v", plain)
	}
}

func TestParsePackageSpec(t *testing.T) {
	name, version := ParsePackageSpec("@scope/pkg@1.2.3")
	if name != "@scope/pkg" || version != "1.2.3" {
		t.Errorf("scoped spec: %q %q", name, version)
	}
	name, version = ParsePackageSpec("plain")
	if name != "plain" || version != "" {
		t.Errorf("plain spec: %q %q", name, version)
	}
}

func TestResolveMcpHTTPIsFloating(t *testing.T) {
	r := newTestResolver(t, nil)
	resolved, err := r.ResolveMcp(context.Background(), config.McpResource{
		Name: "api",
		Entry: config.McpEntry{
			Transport: config.TransportHTTP,
			URL:       "https://mcp.example.com",
		},
	})
	if err != nil {
		t.Fatalf("ResolveMcp: %v", err)
	}
	if !resolved.Floating || resolved.Ref() != "floating" {
		t.Errorf("http endpoints must stay floating: %+v", resolved)
	}
}

func TestResolveMcpDockerDigest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"mcp_servers": [{"name": "pg", "latest": "2.0", "versions": [{"version": "2.0", "image": "ghcr.io/x/pg:2.0", "runtime": "docker"}]}], "skills": []}`))
	}))
	defer srv.Close()

	r := newTestResolver(t, []registry.Adapter{registry.NewSiftAdapter("main", srv.URL)})
	resolved, err := r.ResolveMcp(context.Background(), config.McpResource{
		Name:  "pg",
		Entry: config.McpEntry{Transport: config.TransportStdio, Source: "registry:pg", Runtime: "docker"},
	})
	if err != nil {
		t.Fatalf("ResolveMcp: %v", err)
	}
	if resolved.ImageDigest != "sha256:f00d" {
		t.Errorf("image digest = %q", resolved.ImageDigest)
	}
	if resolved.Ref() != "sha256:f00d" {
		t.Errorf("Ref = %q", resolved.Ref())
	}
}

func TestResolveSkillLocal(t *testing.T) {
	src := t.TempDir()
	if err := os.WriteFile(filepath.Join(src, "SKILL.md"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	r := newTestResolver(t, nil)
	resolved, err := r.ResolveSkill(context.Background(), config.SkillResource{
		Name:  "mine",
		Entry: config.SkillEntry{Source: "local:" + src},
	})
	if err != nil {
		t.Fatalf("ResolveSkill: %v", err)
	}
	if resolved.TreeHash == "" || resolved.CachePath == "" {
		t.Errorf("local skill must be hashed and cached: %+v", resolved)
	}
	wantHash, _ := cache.HashTree(src)
	if resolved.TreeHash != wantHash {
		t.Errorf("tree hash mismatch: %s vs %s", resolved.TreeHash, wantHash)
	}
}

func TestResolveSkillGitPinsCommit(t *testing.T) {
	r := newTestResolver(t, nil)
	resolved, err := r.ResolveSkill(context.Background(), config.SkillResource{
		Name:  "gskill",
		Entry: config.SkillEntry{Source: "git:https://example.com/org/repo.git@main"},
	})
	if err != nil {
		t.Fatalf("ResolveSkill: %v", err)
	}
	if resolved.CommitSHA != "0123456789abcdef0123456789abcdef01234567" {
		t.Errorf("commit = %q", resolved.CommitSHA)
	}
	if resolved.TreeHash == "" || resolved.CachePath == "" {
		t.Errorf("git skill must land in cache: %+v", resolved)
	}
	data, err := os.ReadFile(filepath.Join(resolved.CachePath, "SKILL.md"))
	if err != nil || !strings.Contains(string(data), "example.com") {
		t.Errorf("cached tree wrong: %v %q", err, data)
	}
}

func TestResolveSkillVersionIgnoredOnMarketplace(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"plugins": [{"name": "pdf", "description": "d", "version": "3.0.0", "source": "https://example.com/org/skills.git"}]}`))
	}))
	defer srv.Close()

	r := newTestResolver(t, []registry.Adapter{
		registry.NewMarketplaceAdapter("claude", "git:"+srv.URL+"/marketplace.json"),
	})
	resolved, err := r.ResolveSkill(context.Background(), config.SkillResource{
		Name:            "pdf",
		DeclaredVersion: "1.0.0",
		Entry:           config.SkillEntry{Source: "registry:pdf", Version: "1.0.0"},
	})
	if err != nil {
		t.Fatalf("ResolveSkill: %v", err)
	}
	found := false
	for _, w := range resolved.Warnings {
		if strings.Contains(w, "ignoring") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected VersionIgnored warning, got %v", resolved.Warnings)
	}
	if resolved.ResolvedVersion != "3.0.0" {
		t.Errorf("resolved version = %q", resolved.ResolvedVersion)
	}
}

func TestSplitRegistrySourceQualifier(t *testing.T) {
	r := newTestResolver(t, []registry.Adapter{registry.NewSiftAdapter("alpha", "http://unused")})

	pkg, qualifier := r.splitRegistrySource("registry:alpha/pdf")
	if pkg != "pdf" || qualifier != "alpha" {
		t.Errorf("qualified: %q %q", pkg, qualifier)
	}

	// author/name where the author is not a configured registry
	pkg, qualifier = r.splitRegistrySource("registry:anthropic/pdf")
	if pkg != "anthropic/pdf" || qualifier != "" {
		t.Errorf("author form: %q %q", pkg, qualifier)
	}
}

func TestParseGitVersion(t *testing.T) {
	major, minor, ok := parseGitVersion("git version 2.39.5 (Apple Git-154)")
	if !ok || major != 2 || minor != 39 {
		t.Errorf("parseGitVersion: %d %d %v", major, minor, ok)
	}
}
