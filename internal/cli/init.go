package cli

import (
	"fmt"
	"os"
	"path/filepath"
)

const initTemplate = `# sift.toml — declarative MCP server and skill configuration.
#
# [mcp.<name>]
# source    = "registry:<pkg>" | "git:<url>[@ref]" | "local:<path>"
# runtime   = "node" | "bun" | "uv" | "docker"
# transport = "stdio" | "http"
# version   = "1.2.3"                  # declared constraint, default latest
# targets   = ["claude-code", "vscode"]
# [mcp.<name>.env]
# KEY = "value-or-${VAR}"
#
# [skill.<name>]
# source  = "registry:<author>/<pkg>"
# version = "1.0.0"
# targets = ["claude-code"]
`

func initProject() error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to determine working directory: %w", err)
	}
	path := filepath.Join(cwd, "sift.toml")
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	}
	if err := os.WriteFile(path, []byte(initTemplate), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("%s created %s\n", paint(colorGreen, "✓"), path)
	return nil
}
