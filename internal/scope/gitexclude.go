package scope

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnsureGitExclude idempotently appends an entry to .git/info/exclude.
// Lines already present (after trimming) are not duplicated.
func EnsureGitExclude(projectRoot, entry string) error {
	if strings.ContainsAny(entry, "\n\r") {
		return fmt.Errorf("git exclude entry contains newline")
	}

	gitDir := filepath.Join(projectRoot, ".git")
	if _, err := os.Stat(gitDir); err != nil {
		return fmt.Errorf("not a git repository: %s", projectRoot)
	}

	infoDir := filepath.Join(gitDir, "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return fmt.Errorf("failed to create git info dir: %w", err)
	}

	excludePath := filepath.Join(infoDir, "exclude")
	existing := ""
	if data, err := os.ReadFile(excludePath); err == nil {
		existing = string(data)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", excludePath, err)
	}

	for _, line := range strings.Split(existing, "\n") {
		if strings.TrimSpace(line) == entry {
			return nil
		}
	}

	next := existing
	if next != "" && !strings.HasSuffix(next, "\n") {
		next += "\n"
	}
	next += entry + "\n"

	if err := os.WriteFile(excludePath, []byte(next), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", excludePath, err)
	}
	return nil
}
