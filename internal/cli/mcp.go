package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Manage MCP servers",
}

// GetMcpCmd export
func GetMcpCmd() *cobra.Command {
	return mcpCmd
}

func init() {
	mcpCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List declared MCP servers",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession("")
			if err != nil {
				return err
			}
			defer s.close()
			for _, name := range s.state.McpNames() {
				res := s.state.Mcp[name]
				source := res.Entry.Source
				if res.Entry.Transport == "http" {
					source = res.Entry.URL
				}
				fmt.Printf("%-20s %-8s %-14s %s\n", name, res.Entry.Transport, res.Scope, source)
			}
			return nil
		},
	})

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "add <name[@version]> [-- command...]",
		Short: "Declare and install an MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return usagef("mcp add requires a name")
			}
			installSkillFlag = false
			return runInstall(cmd, args)
		},
	})

	mcpCmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) != 1 {
				return usagef("mcp remove requires exactly one name")
			}
			return runUninstall(uninstallCmd, args)
		},
	})
}
