package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultNPMRegistry URL
	DefaultNPMRegistry = "https://registry.npmjs.org"

	npmHTTPTimeout = 30 * time.Second
)

// NPMClient registry accessor
type NPMClient struct {
	Registry   string
	HTTPClient *http.Client
}

// NewNPMClient constructor
func NewNPMClient(registry string) *NPMClient {
	if registry == "" {
		registry = DefaultNPMRegistry
	}
	return &NPMClient{
		Registry: strings.TrimSuffix(registry, "/"),
		HTTPClient: &http.Client{
			Timeout: npmHTTPTimeout,
		},
	}
}

// NPMPackageMetadata details
type NPMPackageMetadata struct {
	Name        string                     `json:"name"`
	DistTags    map[string]string          `json:"dist-tags"` // e.g., {"latest": "1.2.3"}
	Versions    map[string]json.RawMessage `json:"versions"`
	Description string                     `json:"description"`
}

// FetchPackageMetadata
func (c *NPMClient) FetchPackageMetadata(ctx context.Context, packageName string) (*NPMPackageMetadata, error) {
	// For scoped packages, encode the scope: @scope/pkg -> @scope%2fpkg
	encodedName := url.PathEscape(packageName)
	requestURL := fmt.Sprintf("%s/%s", c.Registry, encodedName)

	req, err := http.NewRequestWithContext(ctx, "GET", requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("npm registry request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("package %q not found in registry", packageName)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("npm registry returned status %d: %s", resp.StatusCode, string(body))
	}

	var metadata NPMPackageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("failed to parse npm metadata: %w", err)
	}

	return &metadata, nil
}

// ResolveVersion tags
func (c *NPMClient) ResolveVersion(ctx context.Context, packageName, versionSpec string) (string, error) {
	if versionSpec == "" || versionSpec == "latest" {
		metadata, err := c.FetchPackageMetadata(ctx, packageName)
		if err != nil {
			return "", err
		}

		latest, ok := metadata.DistTags["latest"]
		if !ok {
			return "", fmt.Errorf("package %q has no 'latest' tag", packageName)
		}
		return latest, nil
	}

	// Check if it's a dist-tag (e.g., "next", "beta") or exact version
	if !strings.ContainsAny(versionSpec, "^~>=<") {
		metadata, err := c.FetchPackageMetadata(ctx, packageName)
		if err != nil {
			return "", err
		}

		if version, ok := metadata.DistTags[versionSpec]; ok {
			return version, nil
		}

		if _, ok := metadata.Versions[versionSpec]; ok {
			return versionSpec, nil
		}

		return "", fmt.Errorf("version %q not found for package %q", versionSpec, packageName)
	}

	// For semver ranges, we'd need a semver library
	return "", fmt.Errorf("semver ranges not supported yet, please specify exact version (e.g., 1.2.3)")
}

// ParsePackageSpec splits "name@version", keeping scoped names intact.
func ParsePackageSpec(spec string) (name string, version string) {
	if strings.HasPrefix(spec, "@") {
		restIdx := strings.Index(spec[1:], "@")
		if restIdx == -1 {
			return spec, ""
		}
		atIdx := restIdx + 1
		return spec[:atIdx], spec[atIdx+1:]
	}

	atIdx := strings.LastIndex(spec, "@")
	if atIdx == -1 {
		return spec, ""
	}
	return spec[:atIdx], spec[atIdx+1:]
}
