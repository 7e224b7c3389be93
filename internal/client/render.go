package client

import (
	"fmt"
	"strings"

	"github.com/Lutra-Fs/sift/internal/config"
)

// RenderRef carries the resolved coordinates a rendered entry pins.
type RenderRef struct {
	NpmPackage  string
	Version     string // resolved npm/bun version
	ImageDigest string // full image reference pinned by digest
}

// ResolveServer turns a merged MCP entry plus its resolution into the
// client-independent Server record adapters render from. Runtime isolation
// conventions: bunx gets --cache-dir, npx gets npm_config_cache.
func ResolveServer(name string, entry config.McpEntry, ref RenderRef, runtimeCacheDir string) (Server, error) {
	if entry.Transport == config.TransportHTTP {
		return Server{
			Name:      name,
			Transport: config.TransportHTTP,
			URL:       entry.URL,
			Headers:   entry.Headers,
		}, nil
	}

	command, args, env, err := resolveCommand(entry, ref, runtimeCacheDir)
	if err != nil {
		return Server{}, err
	}
	for k, v := range entry.Env {
		env[k] = v
	}

	return Server{
		Name:      name,
		Transport: config.TransportStdio,
		Command:   command,
		Args:      args,
		Env:       env,
	}, nil
}

func resolveCommand(entry config.McpEntry, ref RenderRef, cacheDir string) (string, []string, map[string]string, error) {
	env := make(map[string]string)

	if strings.HasPrefix(entry.Source, config.SourceCommand) {
		raw := strings.TrimPrefix(entry.Source, config.SourceCommand)
		fields := strings.Fields(raw)
		if len(fields) == 0 {
			return "", nil, nil, fmt.Errorf("empty raw command")
		}
		return fields[0], append(fields[1:], entry.Args...), env, nil
	}

	if strings.HasPrefix(entry.Source, config.SourceLocal) {
		path := strings.TrimPrefix(entry.Source, config.SourceLocal)
		return commandForLocal(entry.Runtime, path, entry.Args, env)
	}

	switch entry.Runtime {
	case "node":
		spec := packageSpec(ref)
		env["npm_config_cache"] = cacheDir
		return "npx", append([]string{"-y", spec}, entry.Args...), env, nil
	case "bun":
		spec := packageSpec(ref)
		return "bunx", append([]string{"--cache-dir", cacheDir, spec}, entry.Args...), env, nil
	case "uv":
		spec := packageSpec(ref)
		return "uvx", append([]string{spec}, entry.Args...), env, nil
	case "docker":
		image := ref.ImageDigest
		if image == "" {
			return "", nil, nil, fmt.Errorf("docker runtime requires a resolved image digest")
		}
		args := []string{"run", "--rm", "-i"}
		for k := range entry.Env {
			args = append(args, "-e", k)
		}
		args = append(args, image)
		return "docker", append(args, entry.Args...), env, nil
	default:
		return "", nil, nil, fmt.Errorf("unsupported runtime %q", entry.Runtime)
	}
}

func commandForLocal(runtime, path string, extra []string, env map[string]string) (string, []string, map[string]string, error) {
	switch runtime {
	case "node":
		return "node", append([]string{path}, extra...), env, nil
	case "bun":
		return "bun", append([]string{"run", path}, extra...), env, nil
	case "uv":
		return "uv", append([]string{"run", path}, extra...), env, nil
	default:
		return path, extra, env, nil
	}
}

func packageSpec(ref RenderRef) string {
	if ref.Version == "" {
		return ref.NpmPackage
	}
	return ref.NpmPackage + "@" + ref.Version
}

func toAnyMap(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func toAnySlice(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
