package resolver

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/Lutra-Fs/sift/internal/config"
)

// GitSpec is a parsed git source: URL, optional ref, optional subdirectory
// (the "url#subdir" spelling used by marketplace plugins).
type GitSpec struct {
	URL    string
	Ref    string
	Subdir string
}

// parseGitSource parses "git:<url>[@ref][#subdir]".
func parseGitSource(source string) GitSpec {
	body := strings.TrimPrefix(source, config.SourceGit)

	var spec GitSpec
	if url, subdir, found := strings.Cut(body, "#"); found {
		spec.Subdir = subdir
		body = url
	}

	// The ref separator is the last '@' after the scheme; "git@host:" SSH
	// spellings keep their leading user.
	if idx := strings.LastIndex(body, "@"); idx > strings.Index(body, "://")+3 && idx > 0 {
		candidate := body[idx+1:]
		if candidate != "" && !strings.Contains(candidate, "/") {
			spec.Ref = candidate
			body = body[:idx]
		}
	}
	spec.URL = body
	return spec
}

// GitResolver resolves refs and materializes checkouts. Swappable for
// tests.
type GitResolver interface {
	ResolveRef(ctx context.Context, url, ref string) (string, error)
	Checkout(ctx context.Context, spec GitSpec, sha, dest string) error
}

// DockerResolver resolves an image reference to a digest.
type DockerResolver interface {
	ResolveDigest(ctx context.Context, image string) (string, error)
}

// minSparseCheckoutVersion is the first git release with usable
// sparse-checkout support.
var minSparseCheckoutVersion = [2]int{2, 25}

type execGitResolver struct{}

var shaPattern = regexp.MustCompile(`^[0-9a-f]{40}`)

// ResolveRef runs git ls-remote and returns the commit SHA for the ref
// (HEAD when empty).
func (execGitResolver) ResolveRef(ctx context.Context, url, ref string) (string, error) {
	target := ref
	if target == "" {
		target = "HEAD"
	}

	out, err := exec.CommandContext(ctx, "git", "ls-remote", url, target).Output()
	if err != nil {
		return "", fmt.Errorf("git ls-remote %s failed: %w", url, err)
	}

	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 1 && shaPattern.MatchString(fields[0]) {
			return fields[0], nil
		}
	}

	// The ref may already be a full SHA that ls-remote does not list.
	if shaPattern.MatchString(target) {
		return target, nil
	}
	return "", fmt.Errorf("ref %q not found in %s", target, url)
}

// Checkout makes a blobless clone without a worktree and checks out the
// pinned SHA. When the spec
// names a subdirectory, sparse checkout limits the worktree to it.
func (g execGitResolver) Checkout(ctx context.Context, spec GitSpec, sha, dest string) error {
	args := []string{"clone", "--filter=blob:none", "--no-checkout", spec.URL, dest}
	if out, err := exec.CommandContext(ctx, "git", args...).CombinedOutput(); err != nil {
		return fmt.Errorf("git clone %s failed: %w: %s", spec.URL, err, out)
	}

	if spec.Subdir != "" {
		if err := g.ensureSparseSupport(ctx); err != nil {
			return err
		}
		if out, err := gitIn(ctx, dest, "sparse-checkout", "set", spec.Subdir); err != nil {
			return fmt.Errorf("git sparse-checkout failed: %w: %s", err, out)
		}
	}

	if out, err := gitIn(ctx, dest, "checkout", "--detach", sha); err != nil {
		return fmt.Errorf("git checkout %s failed: %w: %s", sha, err, out)
	}
	return nil
}

func gitIn(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// ensureSparseSupport verifies git >= 2.25.
func (execGitResolver) ensureSparseSupport(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "git", "--version").Output()
	if err != nil {
		return fmt.Errorf("failed to probe git version: %w", err)
	}
	major, minor, ok := parseGitVersion(string(out))
	if !ok {
		return nil // unparseable version strings are let through
	}
	if major > minSparseCheckoutVersion[0] ||
		(major == minSparseCheckoutVersion[0] && minor >= minSparseCheckoutVersion[1]) {
		return nil
	}
	return fmt.Errorf("sparse checkout requires git >= %d.%d, found %d.%d",
		minSparseCheckoutVersion[0], minSparseCheckoutVersion[1], major, minor)
}

var gitVersionPattern = regexp.MustCompile(`git version (\d+)\.(\d+)`)

func parseGitVersion(out string) (major, minor int, ok bool) {
	match := gitVersionPattern.FindStringSubmatch(out)
	if match == nil {
		return 0, 0, false
	}
	major, _ = strconv.Atoi(match[1])
	minor, _ = strconv.Atoi(match[2])
	return major, minor, true
}

// copyDir copies a tree excluding VCS metadata.
func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" || d.Name() == ".hg" || d.Name() == ".svn" {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		return copyFileTo(path, filepath.Join(dst, rel), info.Mode().Perm())
	})
}

func copyFileTo(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dst, err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy to %s: %w", dst, err)
	}
	return out.Close()
}
