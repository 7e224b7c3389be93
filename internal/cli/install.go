package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/orchestrator"
	"github.com/Lutra-Fs/sift/internal/resolver"
)

var installCmd = &cobra.Command{
	Use:     "install [resource[@version]] [-- command...]",
	Aliases: []string{"add"},
	Short:   "Resolve declared resources and write client configurations",
	Long: `Resolves every resource declared in sift.toml (or the one named on the
command line), freezes what it resolved, writes each eligible client's
native configuration and records the outcome in sift.lock.

Examples:
  sift install
  sift install echo --scope global
  sift install local-tool --transport stdio -- python server.py
  sift install remote-api --transport http --url https://mcp.example.com`,
	RunE: runInstall,
}

var (
	installScopeFlag     string
	installRegistryFlag  string
	installSourceFlag    string
	installTransportFlag string
	installURLFlag       string
	installRuntimeFlag   string
	installEnvFlag       []string
	installHeaderFlag    []string
	installTargetFlag    []string
	installSkillFlag     bool
	installForceFlag     bool
	installPruneFlag     bool
)

func init() {
	flags := installCmd.Flags()
	flags.StringVar(&installScopeFlag, "scope", "", "Limit to one scope (global, project, project-local)")
	flags.StringVar(&installRegistryFlag, "registry", "", "Qualify the registry for registry: sources")
	flags.StringVar(&installSourceFlag, "source", "", "Source for the named resource")
	flags.StringVar(&installTransportFlag, "transport", "", "Transport for explicit MCP installs (stdio or http)")
	flags.StringVar(&installURLFlag, "url", "", "Endpoint URL for explicit http installs")
	flags.StringVar(&installRuntimeFlag, "runtime", "", "Runtime for the named MCP server")
	flags.StringArrayVar(&installEnvFlag, "env", nil, "KEY=VALUE environment entries")
	flags.StringArrayVar(&installHeaderFlag, "header", nil, "KEY=VALUE http headers")
	flags.StringArrayVar(&installTargetFlag, "target", nil, "Restrict to specific clients")
	flags.BoolVar(&installSkillFlag, "skill", false, "Treat the named resource as a skill")
	flags.BoolVarP(&installForceFlag, "force", "f", false, "Overwrite user-modified managed entries")
	flags.BoolVar(&installPruneFlag, "prune", false, "Remove orphaned managed state")
}

// GetInstallCmd export
func GetInstallCmd() *cobra.Command {
	return installCmd
}

func runInstall(cmd *cobra.Command, args []string) error {
	named, command := splitDashDash(cmd, args)
	if len(named) > 1 {
		return usagef("install accepts at most one resource name")
	}

	var scope config.Scope
	if installScopeFlag != "" {
		parsed, err := config.ParseScope(installScopeFlag)
		if err != nil {
			return usagef("%v", err)
		}
		scope = parsed
	}

	s, err := openSession(installScopeFlag)
	if err != nil {
		return err
	}
	defer s.close()

	opts := orchestrator.Options{
		Force: installForceFlag,
		Prune: installPruneFlag,
		Scope: scope,
	}

	if len(named) == 1 {
		name, request, err := buildCLIRequest(named[0], command, scope)
		if err != nil {
			return err
		}
		s.state.ApplyCLI(*request)
		for _, diag := range s.state.Diagnostics {
			fmt.Fprintln(cmd.ErrOrStderr(), paint(colorYellow, "warning: "+diag.Message))
		}
		opts.Names = []string{name}
		opts.Scope = "" // the virtual layer already carries the scope
		persistCLIRequest(s, name, request)
	}

	report, err := s.orch.Install(s.ctx, s.state, opts)
	if err != nil {
		return err
	}
	return s.finish(report)
}

// splitDashDash separates "sift install name -- cmd args" into the named
// resources and the raw command.
func splitDashDash(cmd *cobra.Command, args []string) (named, command []string) {
	if idx := cmd.ArgsLenAtDash(); idx >= 0 {
		return args[:idx], args[idx:]
	}
	return args, nil
}

// buildCLIRequest turns flags and the name[@version] argument into the
// virtual top-precedence config layer.
func buildCLIRequest(spec string, command []string, scope config.Scope) (string, *config.CLIRequest, error) {
	name, declared := resolver.ParsePackageSpec(spec)
	if name == "" {
		return "", nil, usagef("empty resource name")
	}

	kind := config.KindMcp
	if installSkillFlag {
		kind = config.KindSkill
	}

	env, err := parseKeyValues(installEnvFlag)
	if err != nil {
		return "", nil, usagef("--env: %v", err)
	}
	headers, err := parseKeyValues(installHeaderFlag)
	if err != nil {
		return "", nil, usagef("--header: %v", err)
	}

	source := installSourceFlag
	if source == "" && kind == config.KindMcp && len(command) == 0 && installURLFlag == "" {
		source = config.SourceRegistry + name
	}
	if source == "" && kind == config.KindSkill {
		source = config.SourceRegistry + name
	}
	if installRegistryFlag != "" && strings.HasPrefix(source, config.SourceRegistry) {
		source = config.SourceRegistry + installRegistryFlag + "/" + strings.TrimPrefix(source, config.SourceRegistry)
	}

	return name, &config.CLIRequest{
		Name:        name,
		Kind:        kind,
		Scope:       scope,
		Transport:   installTransportFlag,
		Command:     command,
		URL:         installURLFlag,
		Source:      source,
		Registry:    installRegistryFlag,
		Runtime:     installRuntimeFlag,
		VersionSpec: declared,
		Env:         env,
		Headers:     headers,
		Targets:     installTargetFlag,
	}, nil
}

// persistCLIRequest writes the installed resource back into the owning
// sift.toml so the next `sift install` reproduces it.
func persistCLIRequest(s *session, name string, req *config.CLIRequest) {
	path := config.ProjectConfigPath(s.projectRoot)
	if req.Scope == config.ScopeGlobal {
		path = config.GlobalConfigPath()
	}

	var err error
	if req.Kind == config.KindSkill {
		entry := s.state.Skills[name].Entry
		err = config.UpsertEntry(path, config.KindSkill, name, nil, &entry)
	} else {
		entry := s.state.Mcp[name].Entry
		err = config.UpsertEntry(path, config.KindMcp, name, &entry, nil)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, paint(colorYellow, "warning: could not write "+path+": "+err.Error()))
	}
}

func parseKeyValues(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
