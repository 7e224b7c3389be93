package config

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// ConfigDir returns the directory holding the global sift.toml.
// SIFT_CONFIG_HOME overrides the XDG default.
func ConfigDir() string {
	if dir := os.Getenv("SIFT_CONFIG_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(xdg.ConfigHome, "sift")
}

// DataDir returns the directory holding caches and global lock state.
// SIFT_HOME overrides the XDG default.
func DataDir() string {
	if dir := os.Getenv("SIFT_HOME"); dir != "" {
		return dir
	}
	return filepath.Join(xdg.DataHome, "sift")
}

// GlobalConfigPath is the path to the global sift.toml.
func GlobalConfigPath() string {
	return filepath.Join(ConfigDir(), "sift.toml")
}

// ProjectConfigPath is the path to a project's sift.toml.
func ProjectConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, "sift.toml")
}

// SkillCacheRoot is where fetched skill trees live.
func SkillCacheRoot() string {
	return filepath.Join(DataDir(), "skills")
}

// RuntimeCacheDir is handed to npx/bunx so managed servers do not pollute
// the user's package caches.
func RuntimeCacheDir() string {
	return filepath.Join(DataDir(), "cache")
}

// GlobalLockfilePath is where global-scoped installs record their state.
func GlobalLockfilePath() string {
	return filepath.Join(DataDir(), "sift.lock")
}

// ProjectLockfilePath is where project-scoped installs record their state.
func ProjectLockfilePath(projectRoot string) string {
	return filepath.Join(projectRoot, "sift.lock")
}
