package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/orchestrator"
)

var skillCmd = &cobra.Command{
	Use:   "skill",
	Short: "Manage Agent Skills",
}

// GetSkillCmd export
func GetSkillCmd() *cobra.Command {
	return skillCmd
}

func init() {
	skillCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List declared skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession("")
			if err != nil {
				return err
			}
			defer s.close()
			for _, name := range s.state.SkillNames() {
				res := s.state.Skills[name]
				fmt.Printf("%-20s %-14s %s\n", name, res.Scope, res.Entry.Source)
			}
			return nil
		},
	})

	skillCmd.AddCommand(&cobra.Command{
		Use:   "add <name[@version]>",
		Short: "Declare and install a skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("skill add requires exactly one name")
			}
			installSkillFlag = true
			return runInstall(installCmd, args)
		},
	})

	skillCmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a skill",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("skill remove requires exactly one name")
			}
			return runUninstall(uninstallCmd, args)
		},
	})

	skillCmd.AddCommand(&cobra.Command{
		Use:   "eject <name>",
		Short: "Copy a managed skill into ./skills/<name> for local editing",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("skill eject requires exactly one name")
			}
			s, err := openSession("")
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.orch.Eject(s.ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("%s ejected %s to ./skills/%s\n", paint(colorGreen, "✓"), args[0], args[0])
			return nil
		},
	})

	skillCmd.AddCommand(&cobra.Command{
		Use:   "un-eject <name>",
		Short: "Return an ejected skill to managed delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("skill un-eject requires exactly one name")
			}
			s, err := openSession("")
			if err != nil {
				return err
			}
			defer s.close()
			if err := s.orch.UnEject(s.ctx, args[0]); err != nil {
				return err
			}
			// Reload the reverted config and re-deliver from cache.
			state, err := config.Load(s.projectRoot)
			if err != nil {
				return err
			}
			report, err := s.orch.Install(s.ctx, state, orchestrator.Options{Names: args})
			if err != nil {
				return err
			}
			if err := s.finish(report); err != nil {
				return err
			}
			fmt.Printf("%s un-ejected %s\n", paint(colorGreen, "✓"), args[0])
			return nil
		},
	})
}
