// Package resolver turns declared sources into concrete, lockable artifact
// references.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/Lutra-Fs/sift/internal/cache"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/registry"
)

// Resolved is the resolver's output for one resource.
type Resolved struct {
	Kind            config.Kind
	Name            string
	Source          string // canonical source string
	DeclaredVersion string
	ResolvedVersion string // semver for npm, tag for skills
	CommitSHA       string // git sources
	TreeHash        string // skills and local trees
	ImageDigest     string // docker MCP servers
	ImagePinned     string // full image reference pinned by digest
	NpmPackage      string // package behind node/bun/uv runtimes
	CachePath       string // populated for delivered skills
	Floating        bool   // http MCP endpoints are never locked
	Warnings        []string
}

// Ref is the lockable reference string recorded in sift.lock.
func (r *Resolved) Ref() string {
	switch {
	case r.Floating:
		return "floating"
	case r.ImageDigest != "":
		return r.ImageDigest
	case r.CommitSHA != "":
		return r.CommitSHA
	case r.TreeHash != "":
		return r.TreeHash
	case r.ResolvedVersion != "":
		return r.ResolvedVersion
	default:
		return "unmanaged"
	}
}

const (
	maxRetries     = 3
	initialBackoff = 500 * time.Millisecond
)

// Resolver maps declared sources to Resolved records.
type Resolver struct {
	registries []registry.Adapter
	cache      *cache.Cache
	npm        *NPMClient
	git        GitResolver
	docker     DockerResolver
}

// New builds a resolver over the configured registries and cache.
func New(registries []registry.Adapter, skillCache *cache.Cache) *Resolver {
	return &Resolver{
		registries: registries,
		cache:      skillCache,
		npm:        NewNPMClient(""),
		git:        execGitResolver{},
		docker:     craneDockerResolver{},
	}
}

// retry wraps transient network work with jittered exponential backoff.
// Resolution-level failures (not found, ambiguity) are permanent.
func retry[T any](ctx context.Context, op func() (T, error)) (T, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = initialBackoff
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !isTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(maxRetries))
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var permanent interface{ Timeout() bool }
	if errors.As(err, &permanent) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{"connection refused", "connection reset", "status 5", "EOF", "no such host"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// ResolveMcp resolves an MCP server declaration.
func (r *Resolver) ResolveMcp(ctx context.Context, res config.McpResource) (*Resolved, error) {
	entry := res.Entry
	resolved := &Resolved{
		Kind:            config.KindMcp,
		Name:            res.Name,
		Source:          entry.Source,
		DeclaredVersion: res.DeclaredVersion,
	}

	if entry.Transport == config.TransportHTTP {
		resolved.Floating = true
		resolved.Source = config.SourceHTTP + entry.URL
		return resolved, nil
	}

	source, warning := Normalize(entry.Source)
	if warning != "" {
		resolved.Warnings = append(resolved.Warnings, warning)
	}
	resolved.Source = source

	switch config.SourceKind(source) {
	case config.SourceCommand:
		// Raw command: nothing to resolve.
		return resolved, nil

	case config.SourceLocal:
		path, hash, err := r.resolveLocal(source)
		if err != nil {
			return nil, err
		}
		resolved.Source = config.SourceLocal + path
		resolved.TreeHash = hash
		return resolved, nil

	case config.SourceGit:
		spec := parseGitSource(source)
		sha, err := retry(ctx, func() (string, error) {
			return r.git.ResolveRef(ctx, spec.URL, spec.Ref)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve git ref for %s: %w", res.Name, err)
		}
		resolved.CommitSHA = sha
		return resolved, nil

	case config.SourceRegistry:
		return r.resolveRegistryMcp(ctx, res, resolved)

	default:
		return nil, fmt.Errorf("mcp.%s: unsupported source %q", res.Name, entry.Source)
	}
}

func (r *Resolver) resolveRegistryMcp(ctx context.Context, res config.McpResource, resolved *Resolved) (*Resolved, error) {
	pkg, qualifier := r.splitRegistrySource(resolved.Source)

	adapter, manifest, err := registry.Select(ctx, r.registries, config.KindMcp, pkg, qualifier)
	if err != nil {
		return nil, err
	}

	version, warnings, err := pickVersion(adapter, manifest, res.DeclaredVersion)
	if err != nil {
		return nil, err
	}
	resolved.Warnings = append(resolved.Warnings, warnings...)

	switch res.Entry.Runtime {
	case "docker":
		image := version.Image
		if image == "" {
			return nil, fmt.Errorf("mcp.%s: registry record has no image for docker runtime", res.Name)
		}
		digest, err := retry(ctx, func() (string, error) {
			return r.docker.ResolveDigest(ctx, image)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve image digest for %s: %w", res.Name, err)
		}
		resolved.ResolvedVersion = version.Version
		resolved.ImageDigest = digest
		resolved.ImagePinned = pinImage(image, digest)
	default:
		// node / bun / uv run a package; snapshot the version string.
		npmPkg := version.NpmPackage
		if npmPkg == "" {
			npmPkg = pkg
		}
		semver, err := retry(ctx, func() (string, error) {
			return r.npm.ResolveVersion(ctx, npmPkg, version.Version)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve npm version for %s: %w", res.Name, err)
		}
		resolved.ResolvedVersion = semver
		resolved.NpmPackage = npmPkg
	}
	return resolved, nil
}

// ResolveSkill resolves a skill declaration and ensures its tree is in the
// cache.
func (r *Resolver) ResolveSkill(ctx context.Context, res config.SkillResource) (*Resolved, error) {
	entry := res.Entry
	resolved := &Resolved{
		Kind:            config.KindSkill,
		Name:            res.Name,
		Source:          entry.Source,
		DeclaredVersion: res.DeclaredVersion,
	}

	source, warning := Normalize(entry.Source)
	if warning != "" {
		resolved.Warnings = append(resolved.Warnings, warning)
	}
	resolved.Source = source

	switch config.SourceKind(source) {
	case config.SourceLocal:
		path, hash, err := r.resolveLocal(source)
		if err != nil {
			return nil, err
		}
		cachePath, _, err := r.cache.EnsureLocal(path)
		if err != nil {
			return nil, err
		}
		resolved.Source = config.SourceLocal + path
		resolved.TreeHash = hash
		resolved.CachePath = cachePath
		resolved.ResolvedVersion = "local"
		return resolved, nil

	case config.SourceGit:
		return r.resolveGitSkill(ctx, res.Name, source, resolved)

	case config.SourceRegistry:
		return r.resolveRegistrySkill(ctx, res, resolved)

	default:
		return nil, fmt.Errorf("skill.%s: unsupported source %q", res.Name, entry.Source)
	}
}

func (r *Resolver) resolveGitSkill(ctx context.Context, name, source string, resolved *Resolved) (*Resolved, error) {
	spec := parseGitSource(source)
	sha, err := retry(ctx, func() (string, error) {
		return r.git.ResolveRef(ctx, spec.URL, spec.Ref)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to resolve git ref for %s: %w", name, err)
	}

	dest := r.cache.EntryPath("git", gitAuthor(spec.URL), name, sha[:12])
	cachePath, hash, err := r.ensureGitTree(ctx, spec, sha, dest)
	if err != nil {
		return nil, err
	}

	resolved.CommitSHA = sha
	resolved.TreeHash = hash
	resolved.CachePath = cachePath
	resolved.ResolvedVersion = sha[:12]
	return resolved, nil
}

func (r *Resolver) ensureGitTree(ctx context.Context, spec GitSpec, sha, dest string) (string, string, error) {
	if _, err := os.Stat(dest); err == nil {
		hash, err := cache.HashTree(dest)
		if err != nil {
			return "", "", err
		}
		return dest, hash, nil
	}

	tmp, err := os.MkdirTemp("", "sift-git-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create checkout directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := r.git.Checkout(ctx, spec, sha, tmp); err != nil {
		return "", "", err
	}

	src := tmp
	if spec.Subdir != "" {
		src = filepath.Join(tmp, filepath.FromSlash(spec.Subdir))
		if _, err := os.Stat(src); err != nil {
			return "", "", fmt.Errorf("subdirectory %q not found in repository", spec.Subdir)
		}
	}

	snapPath, hash, err := snapshotInto(src, dest)
	if err != nil {
		return "", "", err
	}
	return snapPath, hash, nil
}

func (r *Resolver) resolveRegistrySkill(ctx context.Context, res config.SkillResource, resolved *Resolved) (*Resolved, error) {
	pkg, qualifier := r.splitRegistrySource(resolved.Source)

	adapter, manifest, err := registry.Select(ctx, r.registries, config.KindSkill, pkg, qualifier)
	if err != nil {
		return nil, err
	}

	version, warnings, err := pickVersion(adapter, manifest, res.DeclaredVersion)
	if err != nil {
		return nil, err
	}
	resolved.Warnings = append(resolved.Warnings, warnings...)
	resolved.ResolvedVersion = version.Version

	switch {
	case version.TarballURL != "":
		dest := r.cache.EntryPath(adapter.Name(), manifest.Author, manifest.Name, version.Version)
		hash, err := r.cache.EnsureTarball(ctx, version.TarballURL, dest, version.TreeHash)
		if err != nil {
			return nil, err
		}
		resolved.TreeHash = hash
		resolved.CachePath = dest
		return resolved, nil

	case version.GitURL != "":
		spec := parseGitSource(config.SourceGit + version.GitURL)
		if version.GitRef != "" {
			spec.Ref = version.GitRef
		}
		sha, err := retry(ctx, func() (string, error) {
			return r.git.ResolveRef(ctx, spec.URL, spec.Ref)
		})
		if err != nil {
			return nil, fmt.Errorf("failed to resolve git ref for %s: %w", res.Name, err)
		}
		dest := r.cache.EntryPath(adapter.Name(), manifest.Author, manifest.Name, version.Version+"-"+sha[:12])
		cachePath, hash, err := r.ensureGitTree(ctx, spec, sha, dest)
		if err != nil {
			return nil, err
		}
		if version.TreeHash != "" && hash != version.TreeHash {
			return nil, fmt.Errorf("%w: registry records %s, checkout has %s",
				cache.ErrIntegrity, cache.ShortHash(version.TreeHash), cache.ShortHash(hash))
		}
		resolved.CommitSHA = sha
		resolved.TreeHash = hash
		resolved.CachePath = cachePath
		return resolved, nil

	default:
		return nil, fmt.Errorf("skill.%s: registry record carries neither tarball nor git source", res.Name)
	}
}

func (r *Resolver) resolveLocal(source string) (string, string, error) {
	raw := strings.TrimPrefix(source, config.SourceLocal)
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", "", fmt.Errorf("failed to canonicalize path %q: %w", raw, err)
	}
	abs, err = filepath.EvalSymlinks(abs)
	if err != nil {
		return "", "", fmt.Errorf("local source %q does not exist: %w", raw, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", "", fmt.Errorf("failed to stat %q: %w", abs, err)
	}
	var hash string
	if info.IsDir() {
		hash, err = cache.HashTree(abs)
	} else {
		hash, err = cache.HashFile(abs)
	}
	if err != nil {
		return "", "", fmt.Errorf("failed to hash local source %q: %w", abs, err)
	}
	return abs, hash, nil
}

// pickVersion applies the version policy: explicit version against a
// pinning registry must exist; against a latest-only registry it is ignored
// with a warning; otherwise latest at install time.
func pickVersion(adapter registry.Adapter, manifest *registry.PackageManifest, declared string) (*registry.VersionInfo, []string, error) {
	if declared != "" && declared != "latest" {
		if !adapter.Capabilities().SupportsVersionPinning {
			latest, err := manifest.LatestVersion()
			if err != nil {
				return nil, nil, err
			}
			warning := fmt.Sprintf("registry %s does not keep historical versions; ignoring %q and using %s",
				adapter.Name(), declared, latest.Version)
			return latest, []string{warning}, nil
		}
		v := manifest.Find(declared)
		if v == nil {
			return nil, nil, fmt.Errorf("version %q of %s not found in registry %s", declared, manifest.Name, adapter.Name())
		}
		return v, nil, nil
	}
	latest, err := manifest.LatestVersion()
	if err != nil {
		return nil, nil, err
	}
	return latest, nil, nil
}

// Normalize rewrites bare paths and URLs to their canonical local:/git:
// form. The second return is a normalization warning, empty when the source
// was already canonical.
func Normalize(source string) (string, string) {
	if config.SourceKind(source) != "" {
		return source, ""
	}
	if strings.HasPrefix(source, "https://") || strings.HasPrefix(source, "ssh://") || strings.HasSuffix(source, ".git") {
		return config.SourceGit + source, fmt.Sprintf("source %q normalized to %q", source, config.SourceGit+source)
	}
	if u, err := url.Parse(source); err == nil && u.Scheme != "" && u.Host != "" {
		return config.SourceGit + source, fmt.Sprintf("source %q normalized to %q", source, config.SourceGit+source)
	}
	return config.SourceLocal + source, fmt.Sprintf("source %q normalized to %q", source, config.SourceLocal+source)
}

// splitRegistrySource parses "registry:<pkg>" and the qualified
// "registry:<name>/<pkg>" form. The first path segment is a qualifier only
// when it names a configured registry; otherwise it is an author segment
// and stays part of the package name.
func (r *Resolver) splitRegistrySource(source string) (pkg, qualifier string) {
	body := strings.TrimPrefix(source, config.SourceRegistry)
	head, rest, found := strings.Cut(body, "/")
	if !found {
		return body, ""
	}
	for _, adapter := range r.registries {
		if adapter.Name() == head {
			return rest, head
		}
	}
	return body, ""
}

func snapshotInto(src, dest string) (string, string, error) {
	hash, err := cache.HashTree(src)
	if err != nil {
		return "", "", err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".sift-stage-*")
	if err != nil {
		return "", "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := copyDir(src, tmp); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			return dest, hash, nil
		}
		return "", "", fmt.Errorf("failed to move checkout into cache: %w", err)
	}
	return dest, hash, nil
}

// pinImage replaces any tag with the resolved digest.
func pinImage(image, digest string) string {
	base := image
	if idx := strings.LastIndex(base, "@"); idx != -1 {
		base = base[:idx]
	}
	if colon := strings.LastIndex(base, ":"); colon > strings.LastIndex(base, "/") {
		base = base[:colon]
	}
	return base + "@" + digest
}

func gitAuthor(gitURL string) string {
	trimmed := strings.TrimSuffix(gitURL, ".git")
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 2 {
		return parts[len(parts)-2]
	}
	return "_"
}
