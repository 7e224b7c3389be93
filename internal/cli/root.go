package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/observability"
	"github.com/Lutra-Fs/sift/internal/version"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitBadUsage = 2
	exitLockHeld = 3
	exitPartial  = 4
)

// colors
const (
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorReset  = "\033[0m"
)

func paint(color, text string) string {
	if os.Getenv("NO_COLOR") != "" {
		return text
	}
	return color + text + colorReset
}

// usageError maps to exit code 2.
type usageError struct{ err error }

func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

func usagef(format string, args ...any) error {
	return &usageError{err: fmt.Errorf(format, args...)}
}

// partialError maps to exit code 4.
type partialError struct{ failures int }

func (p *partialError) Error() string {
	return fmt.Sprintf("%d resource(s) failed", p.failures)
}

var (
	logLevelFlag  string
	logOutputFlag string
	otelFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "sift",
	Short: "Configuration and dependency manager for MCP servers and Agent Skills",
	Long: `sift: a static manager for MCP servers and Agent Skills.
Declares resources in sift.toml, resolves and freezes them, writes each
client's native configuration, and records everything in sift.lock.`,
	Version:       version.BuildVersion(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logOutputFlag, "log-output", "", "Write JSONL logs to stderr or a file path")
	rootCmd.PersistentFlags().BoolVar(&otelFlag, "otel", false, "Enable OpenTelemetry tracing")

	rootCmd.AddCommand(GetInitCmd())
	rootCmd.AddCommand(GetInstallCmd())
	rootCmd.AddCommand(GetUninstallCmd())
	rootCmd.AddCommand(GetUpgradeCmd())
	rootCmd.AddCommand(GetApplyCmd())
	rootCmd.AddCommand(GetStatusCmd())
	rootCmd.AddCommand(GetListCmd())
	rootCmd.AddCommand(GetDoctorCmd())
	rootCmd.AddCommand(GetMcpCmd())
	rootCmd.AddCommand(GetSkillCmd())
	rootCmd.AddCommand(GetRegistryCmd())

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &usageError{err: err}
	})
}

// commandContext wires op ID, logging and optional tracing into the
// context every command runs under. Logging is off unless --log-output is
// given.
func commandContext() (context.Context, func()) {
	ctx := observability.WithOpID(context.Background())

	logger := observability.Discard()
	if logOutputFlag != "" {
		opened, err := observability.NewLogger(logLevelFlag, logOutputFlag)
		if err != nil {
			fmt.Fprintln(os.Stderr, paint(colorYellow, "warning: "+err.Error()))
		} else {
			logger = opened
		}
	}
	ctx = observability.WithLogger(ctx, logger)

	cleanup := func() { logger.Close() }

	if otelFlag {
		tracer, err := observability.StartTracing(ctx, observability.TraceConfig{})
		if err == nil {
			ctx = observability.WithTracer(ctx, tracer)
			prev := cleanup
			cleanup = func() {
				tracer.Shutdown(context.Background())
				prev()
			}
		}
	}

	return ctx, cleanup
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return exitOK
	}

	fmt.Fprintln(os.Stderr, paint(colorRed, "error: "+err.Error()))

	var usage *usageError
	if errors.As(err, &usage) {
		return exitBadUsage
	}
	if errors.Is(err, lockfile.ErrLockHeld) {
		return exitLockHeld
	}
	var partial *partialError
	if errors.As(err, &partial) {
		return exitPartial
	}
	return exitError
}
