package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/orchestrator"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report managed, user-modified and orphaned state",
	RunE:  runStatus,
}

var statusScopeFlag string

func init() {
	statusCmd.Flags().StringVar(&statusScopeFlag, "scope", "", "Limit to one scope")
}

// GetStatusCmd export
func GetStatusCmd() *cobra.Command {
	return statusCmd
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(statusScopeFlag)
	if err != nil {
		return err
	}
	defer s.close()

	report, err := s.orch.Status(s.state)
	if err != nil {
		return err
	}

	fmt.Printf("%d managed entries\n", report.Managed)

	for _, id := range report.Modified {
		fmt.Printf("%s %s User-Modified\n", paint(colorYellow, "~"), id)
	}
	for _, id := range report.OrphanConfigs {
		fmt.Printf("%s %s Orphaned\n", paint(colorYellow, "-"), id)
	}
	for _, id := range report.OrphanSkills {
		fmt.Printf("%s %s Orphaned\n", paint(colorYellow, "-"), id)
	}
	if len(report.OrphanConfigs)+len(report.OrphanSkills) > 0 {
		fmt.Println("run 'sift install --prune' to remove orphans")
	}
	return nil
}

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Reconcile every client configuration with sift.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession("")
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.orch.Install(s.ctx, s.state, orchestrator.Options{Prune: true})
		if err != nil {
			return err
		}
		return s.finish(report)
	},
}

// GetApplyCmd export
func GetApplyCmd() *cobra.Command {
	return applyCmd
}

var upgradeCmd = &cobra.Command{
	Use:   "upgrade [name]...",
	Short: "Re-resolve declared versions and raise locked references",
	Long: `install freezes whatever it resolved; upgrade is the only command
that re-resolves. With no arguments every declared resource is re-resolved.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession("")
		if err != nil {
			return err
		}
		defer s.close()

		report, err := s.orch.Install(s.ctx, s.state, orchestrator.Options{
			Refreeze: true,
			Names:    args,
		})
		if err != nil {
			return err
		}
		return s.finish(report)
	},
}

// GetUpgradeCmd export
func GetUpgradeCmd() *cobra.Command {
	return upgradeCmd
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List declared resources",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession("")
		if err != nil {
			return err
		}
		defer s.close()

		for _, name := range s.state.McpNames() {
			res := s.state.Mcp[name]
			fmt.Printf("mcp    %-20s %-14s %s\n", name, res.Scope, res.Entry.Source)
		}
		for _, name := range s.state.SkillNames() {
			res := s.state.Skills[name]
			fmt.Printf("skill  %-20s %-14s %s\n", name, res.Scope, res.Entry.Source)
		}
		return nil
	},
}

// GetListCmd export
func GetListCmd() *cobra.Command {
	return listCmd
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create an empty sift.toml in the current directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		return initProject()
	},
}

// GetInitCmd export
func GetInitCmd() *cobra.Command {
	return initCmd
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Print the environment sift operates in",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("config dir:  %s\n", config.ConfigDir())
		fmt.Printf("data dir:    %s\n", config.DataDir())
		fmt.Printf("skill cache: %s\n", config.SkillCacheRoot())
		return nil
	},
}

// GetDoctorCmd export
func GetDoctorCmd() *cobra.Command {
	return doctorCmd
}
