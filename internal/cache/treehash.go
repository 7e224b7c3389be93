// Package cache provides content-addressed local storage of fetched skills
// with deterministic tree-hash verification.
package cache

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// vcsMetadataDirs are excluded from tree hashing so a git checkout and an
// extracted tarball of the same tree hash identically.
var vcsMetadataDirs = map[string]bool{
	".git": true,
	".hg":  true,
	".svn": true,
}

// HashTree computes a deterministic hash of a directory: sha256 over the
// canonical listing of (relative_path, mode, content_hash) triples, sorted
// lexicographically by path. The result is stable across machines.
func HashTree(root string) (string, error) {
	type listed struct {
		rel  string
		line string
	}
	var entries []listed

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if vcsMetadataDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", path, err)
		}
		if !info.Mode().IsRegular() {
			if info.Mode()&fs.ModeSymlink != 0 {
				// Hash the link target, not the pointed-to content.
				target, err := os.Readlink(path)
				if err != nil {
					return fmt.Errorf("failed to read symlink %s: %w", path, err)
				}
				sum := sha256.Sum256([]byte(target))
				entries = append(entries, listed{
					rel:  rel,
					line: fmt.Sprintf("%s\x00symlink\x00%x\n", rel, sum),
				})
				return nil
			}
			return fmt.Errorf("unsupported filesystem entry: %s", path)
		}

		contentHash, err := hashFile(path)
		if err != nil {
			return err
		}
		entries = append(entries, listed{
			rel:  rel,
			line: fmt.Sprintf("%s\x00%04o\x00%s\n", rel, normalizeMode(info.Mode()), contentHash),
		})
		return nil
	})
	if err != nil {
		return "", err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	hasher := sha256.New()
	for _, e := range entries {
		hasher.Write([]byte(e.line))
	}
	return fmt.Sprintf("sha256:%x", hasher.Sum(nil)), nil
}

// normalizeMode reduces the file mode to the executable bit so hashes agree
// across umask and platform differences.
func normalizeMode(mode fs.FileMode) uint32 {
	if mode&0o100 != 0 {
		return 0o755
	}
	return 0o644
}

// HashFile hashes a single file in the same format as HashTree, for local
// sources that point at a file rather than a directory.
func HashFile(path string) (string, error) {
	sum, err := hashFile(path)
	if err != nil {
		return "", err
	}
	return "sha256:" + sum, nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", hasher.Sum(nil)), nil
}

// ShortHash trims a "sha256:" prefixed hash for display.
func ShortHash(hash string) string {
	trimmed := strings.TrimPrefix(hash, "sha256:")
	if len(trimmed) > 12 {
		return trimmed[:12]
	}
	return trimmed
}
