package config

import (
	"strings"
	"testing"
)

const sampleProject = `
link_mode = "symlink"

[mcp.echo]
source = "registry:echo"
runtime = "node"
targets = ["claude-desktop"]

[mcp.api]
transport = "http"
url = "https://api.example.com/mcp"

[mcp.api.headers]
Authorization = "Bearer ${TOKEN}"

[skill.pdf]
source = "registry:anthropic/pdf"
version = "^1.0"
`

func TestParseProjectConfig(t *testing.T) {
	doc, diags, err := Parse([]byte(sampleProject))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(diags) != 0 {
		t.Errorf("unexpected diagnostics: %v", diags)
	}

	echo, ok := doc.Mcp["echo"]
	if !ok {
		t.Fatal("expected mcp.echo")
	}
	if echo.Transport != TransportStdio {
		t.Errorf("expected default stdio transport, got %q", echo.Transport)
	}
	if echo.Runtime != "node" {
		t.Errorf("expected node runtime, got %q", echo.Runtime)
	}

	api := doc.Mcp["api"]
	if api.Transport != TransportHTTP {
		t.Errorf("expected http transport, got %q", api.Transport)
	}
	if api.Headers["Authorization"] != "Bearer ${TOKEN}" {
		t.Errorf("headers not parsed: %v", api.Headers)
	}

	pdf := doc.Skill["pdf"]
	if pdf.Version != "^1.0" {
		t.Errorf("expected version constraint preserved, got %q", pdf.Version)
	}
	if doc.LinkMode != "symlink" {
		t.Errorf("link_mode not parsed: %q", doc.LinkMode)
	}
}

func TestParseUnknownTopLevelTableIsError(t *testing.T) {
	_, _, err := Parse([]byte("[wormhole]\nspeed = 3\n"))
	if err == nil || !strings.Contains(err.Error(), "wormhole") {
		t.Fatalf("expected unknown-table error, got %v", err)
	}
}

func TestParseUnknownInnerFieldIsWarning(t *testing.T) {
	doc, diags, err := Parse([]byte("[mcp.echo]\nsource = \"registry:echo\"\nturbo = true\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(diags) != 1 || diags[0].Severity != SeverityWarning {
		t.Fatalf("expected one warning, got %v", diags)
	}
	if _, ok := doc.Mcp["echo"]; !ok {
		t.Error("entry should still be parsed")
	}
}

func TestValidateRejectsBothTargetFilters(t *testing.T) {
	doc, _, err := Parse([]byte(`
[mcp.echo]
source = "registry:echo"
targets = ["vscode"]
ignore_targets = ["codex"]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := doc.Validate(false); err == nil {
		t.Fatal("expected mutually-exclusive targets error")
	}
}

func TestValidateRejectsBadTransport(t *testing.T) {
	entry := McpEntry{Transport: "sse", Source: "registry:x"}
	if _, err := entry.Validate("x"); err == nil {
		t.Fatal("expected invalid transport error")
	}
}

func TestValidateHTTPRequiresURL(t *testing.T) {
	entry := McpEntry{Transport: TransportHTTP}
	if _, err := entry.Validate("api"); err == nil {
		t.Fatal("expected missing url error")
	}
}

func TestValidateRejectsProjectsOutsideGlobal(t *testing.T) {
	doc, _, err := Parse([]byte(`
[projects."/home/u/proj"]
mcp.echo.env.X = "1"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := doc.Validate(false); err == nil {
		t.Fatal("expected projects-only-in-global error")
	}
	if _, err := doc.Validate(true); err != nil {
		t.Fatalf("projects should be valid in global layer: %v", err)
	}
}

func TestSourceKind(t *testing.T) {
	cases := map[string]string{
		"registry:echo":          SourceRegistry,
		"git:https://x.git@main": SourceGit,
		"local:./skills/pdf":     SourceLocal,
		"http:https://x/mcp":     SourceHTTP,
		"cmd:python server.py":   SourceCommand,
		"ftp://nope":             "",
	}
	for source, want := range cases {
		if got := SourceKind(source); got != want {
			t.Errorf("SourceKind(%q) = %q, want %q", source, got, want)
		}
	}
}
