package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/orchestrator"
)

var uninstallCmd = &cobra.Command{
	Use:     "uninstall <name>...",
	Aliases: []string{"rm"},
	Short:   "Remove resources from sift.toml and every client it configured",
	RunE:    runUninstall,
}

var uninstallForceFlag bool

func init() {
	uninstallCmd.Flags().BoolVarP(&uninstallForceFlag, "force", "f", false, "Remove even user-modified managed entries")
}

// GetUninstallCmd export
func GetUninstallCmd() *cobra.Command {
	return uninstallCmd
}

func runUninstall(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return usagef("uninstall requires at least one resource name")
	}

	s, err := openSession("")
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.orch.Uninstall(s.ctx, args, orchestrator.Options{Force: uninstallForceFlag})
	if err != nil {
		return err
	}

	// Drop the declarations from the owning layer.
	for _, name := range args {
		kind := config.KindMcp
		if _, isSkill := s.state.Skills[name]; isSkill {
			kind = config.KindSkill
		} else if _, isMcp := s.state.Mcp[name]; !isMcp {
			continue
		}

		var scope config.Scope
		if kind == config.KindSkill {
			scope = s.state.Skills[name].Scope
		} else {
			scope = s.state.Mcp[name].Scope
		}
		path := config.ProjectConfigPath(s.projectRoot)
		if scope == config.ScopeGlobal {
			path = config.GlobalConfigPath()
		}
		if err := config.RemoveEntry(path, kind, name); err != nil {
			fmt.Fprintln(os.Stderr, paint(colorYellow, "warning: "+err.Error()))
		}
	}

	return s.finish(report)
}
