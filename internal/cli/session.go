package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/Lutra-Fs/sift/internal/cache"
	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/orchestrator"
	"github.com/Lutra-Fs/sift/internal/registry"
	"github.com/Lutra-Fs/sift/internal/resolver"
)

// session is the wiring shared by every mutating command: merged config,
// locked lockfile store, and an orchestrator over both.
type session struct {
	ctx         context.Context
	cleanup     func()
	projectRoot string
	home        string
	state       *config.DesiredState
	store       *lockfile.Store
	orch        *orchestrator.Orchestrator
}

// openSession loads configuration and acquires the lockfile lock. The
// project lockfile serves any invocation with a project sift.toml; pure
// global invocations use the lockfile in the sift data directory.
func openSession(scopeFlag string) (*session, error) {
	ctx, cleanup := commandContext()

	cwd, err := os.Getwd()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to determine working directory: %w", err)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to determine home directory: %w", err)
	}

	state, err := config.Load(cwd)
	if err != nil {
		cleanup()
		return nil, err
	}
	for _, diag := range state.Diagnostics {
		fmt.Fprintln(os.Stderr, paint(colorYellow, "warning: "+diag.Message))
	}

	lockPath := config.ProjectLockfilePath(cwd)
	if scopeFlag == "global" {
		lockPath = config.GlobalLockfilePath()
	} else if _, statErr := os.Stat(config.ProjectConfigPath(cwd)); os.IsNotExist(statErr) && len(state.Mcp)+len(state.Skills) > 0 {
		onlyGlobal := true
		for _, res := range state.Mcp {
			if res.Scope != config.ScopeGlobal {
				onlyGlobal = false
			}
		}
		for _, res := range state.Skills {
			if res.Scope != config.ScopeGlobal {
				onlyGlobal = false
			}
		}
		if onlyGlobal {
			lockPath = config.GlobalLockfilePath()
		}
	}

	store, err := lockfile.Open(lockPath)
	if err != nil {
		cleanup()
		return nil, err
	}

	linkMode, err := linker.ParseMode(state.LinkMode)
	if err != nil {
		store.Close()
		cleanup()
		return nil, err
	}

	skillCache := cache.Default()
	return &session{
		ctx:         ctx,
		cleanup:     cleanup,
		projectRoot: cwd,
		home:        home,
		state:       state,
		store:       store,
		orch: &orchestrator.Orchestrator{
			Clients:         client.Known(),
			Resolver:        resolver.New(registry.FromConfig(state.Registries), skillCache),
			Store:           store,
			ClientCtx:       client.Context{HomeDir: home, ProjectRoot: cwd},
			LinkMode:        linkMode,
			RuntimeCacheDir: config.RuntimeCacheDir(),
		},
	}, nil
}

func (s *session) close() {
	s.store.Close()
	s.cleanup()
}

// finish prints a report and converts partial failures into exit code 4.
func (s *session) finish(report *orchestrator.Report) error {
	for _, warning := range report.Warnings {
		fmt.Fprintln(os.Stderr, paint(colorYellow, "warning: "+warning))
	}
	for _, applied := range report.Applied {
		fmt.Printf("%s %s\n", paint(colorGreen, "✓"), applied)
	}
	for _, removed := range report.Removed {
		fmt.Printf("%s %s removed\n", paint(colorGreen, "✓"), removed)
	}
	for _, resErr := range report.Errors {
		fmt.Fprintln(os.Stderr, paint(colorRed, "✗ "+resErr.Error()))
	}
	if report.Partial() {
		return &partialError{failures: len(report.Errors)}
	}
	return nil
}
