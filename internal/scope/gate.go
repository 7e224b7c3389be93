// Package scope decides, per (resource, scope, client), whether an install
// applies, errors, or is skipped with a warning, and downgrades skill link
// modes to what the client allows.
package scope

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
)

// RepoStatus says whether the project root is a git working tree.
type RepoStatus int

const (
	RepoNone RepoStatus = iota
	RepoGit
)

// DetectRepo probes for a .git directory at the project root.
func DetectRepo(projectRoot string) RepoStatus {
	if projectRoot == "" {
		return RepoNone
	}
	if _, err := os.Stat(filepath.Join(projectRoot, ".git")); err == nil {
		return RepoGit
	}
	return RepoNone
}

// UnsupportedError is the fail-fast outcome for explicitly targeted clients.
type UnsupportedError struct {
	Client string
	Scope  config.Scope
	Reason string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("client %s does not support %s: %s", e.Client, e.Scope, e.Reason)
}

// Request is one (resource, scope, client) combination to gate.
type Request struct {
	Kind            config.Kind
	Scope           config.Scope
	Transport       string // MCP only
	HasHeaders      bool   // MCP over http only
	ExplicitTargets bool   // resource names clients via targets = [...]
}

// Decision is the gate's outcome when the install is not an error.
type Decision struct {
	Apply         bool
	Warning       string
	UseGitExclude bool
}

// Resolve applies the scope and capability rules. Explicit targets fail
// fast on unsupported combinations; implicit targets skip with a warning.
// The repo check for project-local skills errors in both cases: the
// .git/info/exclude contract cannot be honored outside a working tree.
func Resolve(req Request, clientID string, caps client.Capabilities, repo RepoStatus) (Decision, error) {
	support := caps.Skills
	if req.Kind == config.KindMcp {
		support = caps.Mcp
	}

	if !support.Supports(req.Scope) {
		reason := fmt.Sprintf("%s %s scope", req.Kind, req.Scope)
		if req.ExplicitTargets {
			return Decision{}, &UnsupportedError{Client: clientID, Scope: req.Scope, Reason: reason}
		}
		return Decision{
			Warning: fmt.Sprintf("skipping %s: no support for %s", clientID, reason),
		}, nil
	}

	if req.Kind == config.KindMcp && req.Transport != "" && !caps.SupportsTransport(req.Transport) {
		reason := fmt.Sprintf("transport %s", req.Transport)
		if req.ExplicitTargets {
			return Decision{}, &UnsupportedError{Client: clientID, Scope: req.Scope, Reason: reason}
		}
		return Decision{
			Warning: fmt.Sprintf("skipping %s: no support for %s", clientID, reason),
		}, nil
	}

	decision := Decision{Apply: true}

	if req.Kind == config.KindMcp && req.HasHeaders && !caps.SupportsHeaders {
		decision.Warning = fmt.Sprintf("%s ignores custom headers", clientID)
	}

	if req.Kind == config.KindSkill && req.Scope == config.ScopeProjectLocal {
		if repo != RepoGit {
			return Decision{}, fmt.Errorf("project-local skills require a git working tree")
		}
		decision.UseGitExclude = true
	}

	return decision, nil
}

// Downgrade walks the ladder Symlink > Hardlink > Copy until the client
// allows the mode. The second return is an informational message, empty
// when no downgrade happened.
func Downgrade(requested linker.Mode, caps client.Capabilities) (linker.Mode, string) {
	if requested == linker.ModeSymlink && !caps.SupportsSymlinkedSkills {
		return linker.ModeHardlink, "symlink delivery not recognized by client, downgrading to hardlink"
	}
	return requested, ""
}
