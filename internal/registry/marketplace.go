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

	"github.com/Lutra-Fs/sift/internal/config"
)

const marketplaceHTTPTimeout = 30 * time.Second

// MarketplaceAdapter lifts a Claude marketplace.json document into the
// common package record. Marketplaces expose only the current state, so the
// adapter does not support version pinning.
type MarketplaceAdapter struct {
	name   string
	source string // "github:org/repo" or "git:<url>"
	client *http.Client

	mu       sync.Mutex
	manifest *marketplaceManifest
}

// NewMarketplaceAdapter constructs an adapter for a marketplace source.
func NewMarketplaceAdapter(name, source string) *MarketplaceAdapter {
	return &MarketplaceAdapter{
		name:   name,
		source: source,
		client: &http.Client{Timeout: marketplaceHTTPTimeout},
	}
}

func (a *MarketplaceAdapter) Name() string {
	return a.name
}

func (a *MarketplaceAdapter) Capabilities() Capabilities {
	return Capabilities{SupportsVersionPinning: false}
}

// marketplaceManifest mirrors the documented marketplace.json structure.
type marketplaceManifest struct {
	Marketplace marketplaceInfo     `json:"marketplace"`
	Plugins     []marketplacePlugin `json:"plugins"`
}

type marketplaceInfo struct {
	Name       string `json:"name"`
	PluginRoot string `json:"plugin_root"`
}

type marketplacePlugin struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Version     string          `json:"version"`
	Source      json.RawMessage `json:"source"`
	Author      *struct {
		Name string `json:"name"`
	} `json:"author"`
}

// sourceString handles both the bare-string and object forms of a plugin
// source field.
func (p *marketplacePlugin) sourceString(marketplaceSource string) (string, error) {
	var asString string
	if err := json.Unmarshal(p.Source, &asString); err == nil {
		if strings.HasPrefix(asString, "./") || strings.HasPrefix(asString, "../") {
			// Relative to the marketplace repository.
			return marketplaceGitURL(marketplaceSource) + "#" + strings.TrimPrefix(asString, "./"), nil
		}
		return asString, nil
	}

	var asObject struct {
		Source string `json:"source"`
		Repo   string `json:"repo"`
		URL    string `json:"url"`
	}
	if err := json.Unmarshal(p.Source, &asObject); err != nil {
		return "", fmt.Errorf("plugin %s: unsupported source field", p.Name)
	}
	switch asObject.Source {
	case "github":
		if asObject.Repo == "" {
			return "", fmt.Errorf("plugin %s: github source requires repo", p.Name)
		}
		return "https://github.com/" + asObject.Repo + ".git", nil
	case "url":
		if asObject.URL == "" {
			return "", fmt.Errorf("plugin %s: url source requires url", p.Name)
		}
		return asObject.URL, nil
	default:
		return "", fmt.Errorf("plugin %s: unknown source type %q", p.Name, asObject.Source)
	}
}

func (a *MarketplaceAdapter) Lookup(ctx context.Context, kind config.Kind, name string) (*PackageManifest, error) {
	if kind != config.KindSkill {
		return nil, fmt.Errorf("%w: marketplace %s only serves skills", ErrNotFound, a.name)
	}

	manifest, err := a.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	for _, plugin := range manifest.Plugins {
		if plugin.Name != name {
			continue
		}
		gitSource, err := plugin.sourceString(a.source)
		if err != nil {
			return nil, err
		}
		version := plugin.Version
		if version == "" {
			version = "latest"
		}
		author := ""
		if plugin.Author != nil {
			author = plugin.Author.Name
		}
		return &PackageManifest{
			Name:        plugin.Name,
			Author:      author,
			Description: plugin.Description,
			Kind:        config.KindSkill,
			Registry:    a.name,
			Latest:      version,
			Versions: []VersionInfo{{
				Version: version,
				GitURL:  gitSource,
			}},
		}, nil
	}

	return nil, fmt.Errorf("%w: %s in marketplace %s", ErrNotFound, name, a.name)
}

func (a *MarketplaceAdapter) fetchManifest(ctx context.Context) (*marketplaceManifest, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.manifest != nil {
		return a.manifest, nil
	}

	url, err := marketplaceManifestURL(a.source)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketplace request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketplace %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read marketplace.json: %w", err)
	}

	var manifest marketplaceManifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse marketplace.json: %w", err)
	}
	a.manifest = &manifest
	return &manifest, nil
}

// marketplaceManifestURL turns "github:org/repo" into the raw content URL
// of .claude-plugin/marketplace.json on the default branch.
func marketplaceManifestURL(source string) (string, error) {
	if repo, ok := strings.CutPrefix(source, "github:"); ok {
		return fmt.Sprintf("https://raw.githubusercontent.com/%s/HEAD/.claude-plugin/marketplace.json", repo), nil
	}
	if url, ok := strings.CutPrefix(source, "git:"); ok {
		// Direct URL to a marketplace.json or a repository root.
		if strings.HasSuffix(url, "marketplace.json") {
			return url, nil
		}
		return strings.TrimSuffix(url, "/") + "/.claude-plugin/marketplace.json", nil
	}
	return "", fmt.Errorf("unsupported marketplace source %q", source)
}

func marketplaceGitURL(source string) string {
	if repo, ok := strings.CutPrefix(source, "github:"); ok {
		return "https://github.com/" + repo + ".git"
	}
	return strings.TrimPrefix(source, "git:")
}
