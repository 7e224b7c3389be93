package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func npmServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "echo-mcp") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{
  "name": "@example/echo-mcp",
  "dist-tags": {"latest": "1.2.3", "next": "2.0.0-rc.1"},
  "versions": {"1.0.0": {}, "1.2.3": {}, "2.0.0-rc.1": {}}
}`))
	}))
}

func TestResolveVersionLatest(t *testing.T) {
	srv := npmServer(t)
	defer srv.Close()

	c := NewNPMClient(srv.URL)
	version, err := c.ResolveVersion(context.Background(), "@example/echo-mcp", "latest")
	if err != nil {
		t.Fatalf("ResolveVersion: %v", err)
	}
	if version != "1.2.3" {
		t.Errorf("version = %q", version)
	}
}

func TestResolveVersionDistTag(t *testing.T) {
	srv := npmServer(t)
	defer srv.Close()

	c := NewNPMClient(srv.URL)
	version, err := c.ResolveVersion(context.Background(), "@example/echo-mcp", "next")
	if err != nil {
		t.Fatalf("ResolveVersion: %v", err)
	}
	if version != "2.0.0-rc.1" {
		t.Errorf("version = %q", version)
	}
}

func TestResolveVersionExact(t *testing.T) {
	srv := npmServer(t)
	defer srv.Close()

	c := NewNPMClient(srv.URL)
	version, err := c.ResolveVersion(context.Background(), "@example/echo-mcp", "1.0.0")
	if err != nil {
		t.Fatalf("ResolveVersion: %v", err)
	}
	if version != "1.0.0" {
		t.Errorf("version = %q", version)
	}

	if _, err := c.ResolveVersion(context.Background(), "@example/echo-mcp", "9.9.9"); err == nil {
		t.Error("expected error for unknown version")
	}
}

func TestResolveVersionRejectsRanges(t *testing.T) {
	c := NewNPMClient("http://unused")
	_, err := c.ResolveVersion(context.Background(), "pkg", "^1.0")
	if err == nil || !strings.Contains(err.Error(), "semver ranges") {
		t.Fatalf("expected range rejection, got %v", err)
	}
}

func TestFetchPackageMetadataNotFound(t *testing.T) {
	srv := npmServer(t)
	defer srv.Close()

	c := NewNPMClient(srv.URL)
	if _, err := c.FetchPackageMetadata(context.Background(), "missing"); err == nil {
		t.Error("expected not-found error")
	}
}
