package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Lutra-Fs/sift/internal/config"
)

const siftHTTPTimeout = 30 * time.Second

// SiftAdapter speaks the native sift registry index format. The index is a
// single document at <url>/index.json (or index.yaml) listing skills and
// MCP servers with full version history.
type SiftAdapter struct {
	name    string
	baseURL string
	client  *http.Client

	mu    sync.Mutex
	index *indexDocument
}

// NewSiftAdapter constructs an adapter for a configured registry URL.
func NewSiftAdapter(name, baseURL string) *SiftAdapter {
	return &SiftAdapter{
		name:    name,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: siftHTTPTimeout},
	}
}

func (a *SiftAdapter) Name() string {
	return a.name
}

func (a *SiftAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsVersionPinning: true}
}

// indexDocument is the native registry wire format.
type indexDocument struct {
	Skills     []indexPackage `json:"skills" yaml:"skills"`
	McpServers []indexPackage `json:"mcp_servers" yaml:"mcp_servers"`
}

type indexPackage struct {
	Name        string         `json:"name" yaml:"name"`
	Author      string         `json:"author" yaml:"author"`
	Description string         `json:"description" yaml:"description"`
	Latest      string         `json:"latest" yaml:"latest"`
	Versions    []indexVersion `json:"versions" yaml:"versions"`
}

type indexVersion struct {
	Version  string `json:"version" yaml:"version"`
	TreeHash string `json:"tree_hash" yaml:"tree_hash"`
	Tarball  string `json:"tarball" yaml:"tarball"`
	Git      string `json:"git" yaml:"git"`
	Ref      string `json:"ref" yaml:"ref"`
	Npm      string `json:"npm" yaml:"npm"`
	Image    string `json:"image" yaml:"image"`
	Runtime  string `json:"runtime" yaml:"runtime"`
}

func (a *SiftAdapter) Lookup(ctx context.Context, kind config.Kind, name string) (*PackageManifest, error) {
	index, err := a.fetchIndex(ctx)
	if err != nil {
		return nil, err
	}

	packages := index.Skills
	if kind == config.KindMcp {
		packages = index.McpServers
	}

	for _, pkg := range packages {
		if pkg.Name != name && qualifiedName(pkg) != name {
			continue
		}
		manifest := &PackageManifest{
			Name:        pkg.Name,
			Author:      pkg.Author,
			Description: pkg.Description,
			Kind:        kind,
			Registry:    a.name,
			Latest:      pkg.Latest,
		}
		for _, v := range pkg.Versions {
			manifest.Versions = append(manifest.Versions, VersionInfo{
				Version:    v.Version,
				TreeHash:   v.TreeHash,
				TarballURL: v.Tarball,
				GitURL:     v.Git,
				GitRef:     v.Ref,
				NpmPackage: v.Npm,
				Image:      v.Image,
				Runtime:    v.Runtime,
			})
		}
		return manifest, nil
	}

	return nil, fmt.Errorf("%w: %s in %s", ErrNotFound, name, a.name)
}

func qualifiedName(pkg indexPackage) string {
	if pkg.Author == "" {
		return pkg.Name
	}
	return pkg.Author + "/" + pkg.Name
}

func (a *SiftAdapter) fetchIndex(ctx context.Context) (*indexDocument, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index != nil {
		return a.index, nil
	}

	// Prefer JSON; fall back to a YAML index for registries served from
	// plain object storage.
	for _, candidate := range []string{"/index.json", "/index.yaml"} {
		index, err := a.fetchIndexDocument(ctx, a.baseURL+candidate)
		if err == nil {
			a.index = index
			return index, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("registry %s: no index document at %s", a.name, a.baseURL)
}

func (a *SiftAdapter) fetchIndexDocument(ctx context.Context, url string) (*indexDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("registry %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry index: %w", err)
	}

	var index indexDocument
	if strings.HasSuffix(url, ".yaml") {
		if err := yaml.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("failed to parse YAML index: %w", err)
		}
	} else {
		if err := json.Unmarshal(body, &index); err != nil {
			return nil, fmt.Errorf("failed to parse JSON index: %w", err)
		}
	}
	return &index, nil
}
