package cache

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func tarball(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{
			Name: "package/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("tar write: %v", err)
		}
	}
	tw.Close()
	gz.Close()
	return buf.Bytes()
}

func TestEnsureTarballFetchExtractRename(t *testing.T) {
	archive := tarball(t, map[string]string{
		"SKILL.md":      "# pdf",
		"prompts/p.txt": "extract text",
	})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	dest := c.EntryPath("main", "anthropic", "pdf", "1.0.0")

	hash, err := c.EnsureTarball(context.Background(), srv.URL, dest, "")
	if err != nil {
		t.Fatalf("EnsureTarball: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "SKILL.md"))
	if err != nil {
		t.Fatalf("extracted file missing: %v", err)
	}
	if string(data) != "# pdf" {
		t.Errorf("unexpected content: %q", data)
	}

	// A second call is a cache hit and verifies against the recorded hash.
	again, err := c.EnsureTarball(context.Background(), srv.URL, dest, hash)
	if err != nil {
		t.Fatalf("cache hit verify: %v", err)
	}
	if again != hash {
		t.Errorf("hash changed across hit: %s vs %s", again, hash)
	}
}

func TestEnsureTarballIntegrityMismatch(t *testing.T) {
	archive := tarball(t, map[string]string{"SKILL.md": "# pdf"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	c := New(t.TempDir())
	dest := c.EntryPath("main", "anthropic", "pdf", "1.0.0")

	_, err := c.EnsureTarball(context.Background(), srv.URL, dest, "sha256:deadbeef")
	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity, got %v", err)
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Error("mismatched tree must not be committed to the cache")
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	c := New(t.TempDir())
	dir := c.EntryPath("main", "anthropic", "pdf", "1.0.0")
	writeFile(t, filepath.Join(dir, "SKILL.md"), "# pdf")

	hash, err := c.Verify(dir, "")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}

	writeFile(t, filepath.Join(dir, "SKILL.md"), "# tampered")
	if _, err := c.Verify(dir, hash); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("expected ErrIntegrity after edit, got %v", err)
	}
}

func TestEnsureLocalSnapshotsByHash(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "SKILL.md"), "local skill")

	c := New(t.TempDir())
	dest, hash, err := c.EnsureLocal(src)
	if err != nil {
		t.Fatalf("EnsureLocal: %v", err)
	}

	snapHash, err := HashTree(dest)
	if err != nil {
		t.Fatalf("HashTree: %v", err)
	}
	if snapHash != hash {
		t.Errorf("snapshot hash %s != source hash %s", snapHash, hash)
	}

	// Idempotent.
	dest2, hash2, err := c.EnsureLocal(src)
	if err != nil {
		t.Fatalf("EnsureLocal again: %v", err)
	}
	if dest2 != dest || hash2 != hash {
		t.Error("EnsureLocal should be idempotent for unchanged input")
	}
}

func TestEntryPathSanitizesSegments(t *testing.T) {
	c := New("/data/skills")
	p := c.EntryPath("https://reg.example.com", "a/b", "skill", "1.0")
	for _, part := range []string{"..", ":"} {
		if bytes.Contains([]byte(p), []byte(part)) {
			t.Errorf("unsanitized %q in %s", part, p)
		}
	}
}
