// Package registry fetches package manifests from heterogeneous registries
// and normalizes them into a common record for the resolver.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Lutra-Fs/sift/internal/config"
)

// ErrNotFound is returned when a registry does not carry the package.
var ErrNotFound = errors.New("package not found in registry")

// Capabilities declared by an adapter.
type Capabilities struct {
	// SupportsVersionPinning is false for registries that only expose the
	// latest state; name@version against such a registry resolves to
	// latest with a VersionIgnored warning.
	SupportsVersionPinning bool
}

// PackageManifest is the common shape all adapters produce.
type PackageManifest struct {
	Name        string
	Author      string
	Description string
	Kind        config.Kind
	Registry    string
	Latest      string
	Versions    []VersionInfo
}

// VersionInfo describes one installable version of a package.
type VersionInfo struct {
	Version    string
	TreeHash   string // skills: expected tree hash of the extracted tree
	TarballURL string // skills delivered as http tarballs
	GitURL     string // skills delivered from git
	GitRef     string
	NpmPackage string // MCP servers run via node/bun
	Image      string // MCP servers run via docker
	Runtime    string
}

// Find returns the named version, or nil.
func (m *PackageManifest) Find(version string) *VersionInfo {
	for i := range m.Versions {
		if m.Versions[i].Version == version {
			return &m.Versions[i]
		}
	}
	return nil
}

// LatestVersion returns the manifest's latest version record.
func (m *PackageManifest) LatestVersion() (*VersionInfo, error) {
	if m.Latest != "" {
		if v := m.Find(m.Latest); v != nil {
			return v, nil
		}
	}
	if len(m.Versions) == 0 {
		return nil, fmt.Errorf("package %q has no versions", m.Name)
	}
	return &m.Versions[len(m.Versions)-1], nil
}

// Adapter is a single registry capability: given a package name, produce a
// manifest.
type Adapter interface {
	Name() string
	Capabilities() Capabilities
	Lookup(ctx context.Context, kind config.Kind, name string) (*PackageManifest, error)
}

// AmbiguousRegistryError is raised when more than one configured registry
// carries the same (Kind, Name) and the user did not qualify the request.
type AmbiguousRegistryError struct {
	Kind       config.Kind
	Package    string
	Registries []string
}

func (e *AmbiguousRegistryError) Error() string {
	return fmt.Sprintf("package %s/%s found in multiple registries (%s); qualify with --registry or registry:<name>/<pkg>",
		e.Kind, e.Package, strings.Join(e.Registries, ", "))
}

// Select resolves a package across configured adapters. qualifier restricts
// the search to one registry by name; empty means search all and fail on
// ambiguity.
func Select(ctx context.Context, adapters []Adapter, kind config.Kind, pkg, qualifier string) (Adapter, *PackageManifest, error) {
	if qualifier != "" {
		for _, a := range adapters {
			if a.Name() != qualifier {
				continue
			}
			manifest, err := a.Lookup(ctx, kind, pkg)
			if err != nil {
				return nil, nil, err
			}
			return a, manifest, nil
		}
		return nil, nil, fmt.Errorf("registry %q is not configured", qualifier)
	}

	type hit struct {
		adapter  Adapter
		manifest *PackageManifest
	}
	var hits []hit
	for _, a := range adapters {
		manifest, err := a.Lookup(ctx, kind, pkg)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		hits = append(hits, hit{a, manifest})
	}

	switch len(hits) {
	case 0:
		return nil, nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, pkg)
	case 1:
		return hits[0].adapter, hits[0].manifest, nil
	default:
		names := make([]string, len(hits))
		for i, h := range hits {
			names[i] = h.adapter.Name()
		}
		sort.Strings(names)
		return nil, nil, &AmbiguousRegistryError{Kind: kind, Package: pkg, Registries: names}
	}
}

// FromConfig builds the adapter set from [registry.*] entries.
func FromConfig(entries map[string]config.RegistryEntry) []Adapter {
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)

	adapters := make([]Adapter, 0, len(names))
	for _, name := range names {
		entry := entries[name]
		switch entry.Type {
		case "", "sift":
			adapters = append(adapters, NewSiftAdapter(name, entry.URL))
		case "claude-marketplace":
			adapters = append(adapters, NewMarketplaceAdapter(name, entry.Source))
		}
	}
	return adapters
}
