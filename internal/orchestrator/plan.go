package orchestrator

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/linker"
	"github.com/Lutra-Fs/sift/internal/resolver"
	"github.com/Lutra-Fs/sift/internal/scope"
)

// upsertManagedJson describes one write into a client's JSON config.
type upsertManagedJson struct {
	ID          lockfile.EntryID
	ConfigFile  string
	KeyPath     []string
	Value       any
	ResolvedRef string
	Fingerprint string
}

// ensureSkillDelivery describes one skill materialization.
type ensureSkillDelivery struct {
	ID              lockfile.SkillID
	Mode            linker.Mode
	AllowSymlink    bool
	CachePath       string
	TreeHash        string
	ResolvedVersion string
	Dest            string
	GitExcludeEntry string // relative path to exclude; empty = none
}

// removeManaged describes the removal of a lockfile-tracked artifact.
type removeManaged struct {
	ConfigID *lockfile.EntryID
	SkillID  *lockfile.SkillID
}

// ExecutionPlan is the ordered outcome of Phase A.
type ExecutionPlan struct {
	Upserts  []upsertManagedJson
	Skills   []ensureSkillDelivery
	Removals []removeManaged
}

// selected reports whether a resource passes the command's scope and name
// selectors.
func selected(opts Options, resScope config.Scope, name string) bool {
	if opts.Scope != "" && opts.Scope != resScope {
		return false
	}
	if len(opts.Names) == 0 {
		return true
	}
	for _, n := range opts.Names {
		if n == name {
			return true
		}
	}
	return false
}

// frozenRefs maps kind/name to the version the lockfile froze at install
// time. Only versions are reused; digests and commit SHAs re-resolve from
// the pinned version string.
func (o *Orchestrator) frozenRefs(opts Options) map[string]string {
	frozen := map[string]string{}
	if opts.Refreeze {
		return frozen
	}
	lf, err := o.Store.Load()
	if err != nil {
		return frozen
	}
	for key, record := range lf.ManagedConfigs {
		id, err := lockfile.ParseEntryID(key)
		if err != nil || id.Kind != config.KindMcp {
			continue
		}
		if isVersionRef(record.ResolvedRef) {
			frozen[string(config.KindMcp)+"/"+id.Name] = record.ResolvedRef
		}
	}
	for key, record := range lf.ManagedSkills {
		id, err := lockfile.ParseSkillID(key)
		if err != nil || record.ResolvedVersion == "" || record.ResolvedVersion == "local" {
			continue
		}
		frozen[string(config.KindSkill)+"/"+id.Name] = record.ResolvedVersion
	}
	return frozen
}

func isVersionRef(ref string) bool {
	switch {
	case ref == "", ref == "floating", ref == "unmanaged":
		return false
	case strings.HasPrefix(ref, "sha256:"):
		return false
	default:
		return true
	}
}

// pinDeclared applies the freeze: install reuses the locked version unless
// the user declared an explicit constraint; upgrade clears the freeze.
func pinDeclared(declared string, frozen map[string]string, key string) string {
	if declared != "" && declared != "latest" {
		return declared
	}
	if ref, ok := frozen[key]; ok {
		return ref
	}
	return declared
}

// resolveSelected fans resolution out over a bounded pool. Per-resource
// failures land in the report; the pool itself only fails on cancellation.
func (o *Orchestrator) resolveSelected(ctx context.Context, state *config.DesiredState, opts Options, report *Report) (map[string]*resolver.Resolved, error) {
	results := make(map[string]*resolver.Resolved)
	var mu sync.Mutex

	frozen := o.frozenRefs(opts)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency())

	for _, name := range state.McpNames() {
		res := state.Mcp[name]
		if !selected(opts, res.Scope, name) {
			continue
		}
		res.DeclaredVersion = pinDeclared(res.DeclaredVersion, frozen, string(config.KindMcp)+"/"+name)
		g.Go(func() error {
			resolved, err := o.Resolver.ResolveMcp(gctx, res)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, ResourceError{Kind: config.KindMcp, Name: res.Name, Err: err})
				return nil
			}
			results[string(config.KindMcp)+"/"+res.Name] = resolved
			report.Warnings = append(report.Warnings, resolved.Warnings...)
			return nil
		})
	}
	for _, name := range state.SkillNames() {
		res := state.Skills[name]
		if !selected(opts, res.Scope, name) {
			continue
		}
		res.DeclaredVersion = pinDeclared(res.DeclaredVersion, frozen, string(config.KindSkill)+"/"+name)
		g.Go(func() error {
			resolved, err := o.Resolver.ResolveSkill(gctx, res)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, ResourceError{Kind: config.KindSkill, Name: res.Name, Err: err})
				return nil
			}
			results[string(config.KindSkill)+"/"+res.Name] = resolved
			report.Warnings = append(report.Warnings, resolved.Warnings...)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// buildPlan is Phase A: gate every (resource, client) pair and emit
// operations.
func (o *Orchestrator) buildPlan(ctx context.Context, state *config.DesiredState, opts Options, resolved map[string]*resolver.Resolved, report *Report) (*ExecutionPlan, error) {
	plan := &ExecutionPlan{}
	repo := scope.DetectRepo(o.ClientCtx.ProjectRoot)

	for _, name := range state.McpNames() {
		res := state.Mcp[name]
		r, ok := resolved[string(config.KindMcp)+"/"+name]
		if !ok {
			continue
		}
		if err := o.planMcpResource(res, r, repo, state, plan, report); err != nil {
			report.Errors = append(report.Errors, ResourceError{Kind: config.KindMcp, Name: name, Err: err})
		}
	}
	for _, name := range state.SkillNames() {
		res := state.Skills[name]
		r, ok := resolved[string(config.KindSkill)+"/"+name]
		if !ok {
			continue
		}
		if err := o.planSkillResource(res, r, repo, state, plan, report); err != nil {
			report.Errors = append(report.Errors, ResourceError{Kind: config.KindSkill, Name: name, Err: err})
		}
	}

	if opts.Prune {
		o.planPrune(state, plan)
	}
	return plan, ctx.Err()
}

func (o *Orchestrator) enabledClients(state *config.DesiredState) []client.Adapter {
	var out []client.Adapter
	for _, a := range o.Clients {
		if entry, ok := state.Clients[a.ID()]; ok && !entry.IsEnabled() {
			continue
		}
		out = append(out, a)
	}
	return out
}

func (o *Orchestrator) planMcpResource(res config.McpResource, r *resolver.Resolved, repo scope.RepoStatus, state *config.DesiredState, plan *ExecutionPlan, report *Report) error {
	entry := res.Entry
	explicit := len(entry.Targets) > 0

	server, err := client.ResolveServer(res.Name, entry, client.RenderRef{
		NpmPackage:  r.NpmPackage,
		Version:     r.ResolvedVersion,
		ImageDigest: r.ImagePinned,
	}, o.RuntimeCacheDir)
	if err != nil {
		return err
	}

	// Operations are staged per resource: a fail-fast gate on any client
	// discards the whole resource, so no partial writes are planned.
	var staged []upsertManagedJson

	for _, adapter := range o.enabledClients(state) {
		if !client.Eligible(adapter, entry.Targets, entry.IgnoreTargets) {
			continue
		}
		decision, err := scope.Resolve(scope.Request{
			Kind:            config.KindMcp,
			Scope:           res.Scope,
			Transport:       entry.Transport,
			HasHeaders:      len(entry.Headers) > 0,
			ExplicitTargets: explicit,
		}, adapter.ID(), adapter.Capabilities(), repo)
		if err != nil {
			return err
		}
		if decision.Warning != "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("mcp.%s: %s", res.Name, decision.Warning))
		}
		if !decision.Apply {
			report.Skipped = append(report.Skipped, fmt.Sprintf("mcp.%s -> %s", res.Name, adapter.ID()))
			continue
		}

		jsonPlan, err := adapter.PlanMcp(o.ClientCtx, res.Scope, []client.Server{server})
		if err != nil {
			return err
		}
		configFile, err := o.ClientCtx.Resolve(jsonPlan.Root, jsonPlan.RelativePath)
		if err != nil {
			return err
		}
		value := normalizeValue(jsonPlan.Entries[res.Name])
		staged = append(staged, upsertManagedJson{
			ID: lockfile.EntryID{
				ClientID: adapter.ID(),
				Scope:    res.Scope,
				Kind:     config.KindMcp,
				Name:     res.Name,
			},
			ConfigFile:  configFile,
			KeyPath:     jsonPlan.KeyPath,
			Value:       value,
			ResolvedRef: r.Ref(),
			Fingerprint: HashValue(value),
		})
	}

	plan.Upserts = append(plan.Upserts, staged...)
	return nil
}

func (o *Orchestrator) planSkillResource(res config.SkillResource, r *resolver.Resolved, repo scope.RepoStatus, state *config.DesiredState, plan *ExecutionPlan, report *Report) error {
	entry := res.Entry
	explicit := len(entry.Targets) > 0

	if r.CachePath == "" {
		return fmt.Errorf("skill %s resolved without a cache path", res.Name)
	}

	var staged []ensureSkillDelivery

	for _, adapter := range o.enabledClients(state) {
		caps := adapter.Capabilities()
		if caps.SkillDelivery == client.DeliveryNone {
			continue
		}
		if !client.Eligible(adapter, entry.Targets, entry.IgnoreTargets) {
			continue
		}
		decision, err := scope.Resolve(scope.Request{
			Kind:            config.KindSkill,
			Scope:           res.Scope,
			ExplicitTargets: explicit,
		}, adapter.ID(), caps, repo)
		if err != nil {
			return err
		}
		if decision.Warning != "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skill.%s: %s", res.Name, decision.Warning))
		}
		if !decision.Apply {
			report.Skipped = append(report.Skipped, fmt.Sprintf("skill.%s -> %s", res.Name, adapter.ID()))
			continue
		}

		deliveryPlan, err := adapter.PlanSkill(o.ClientCtx, res.Scope)
		if err != nil {
			return err
		}
		destRoot, err := o.ClientCtx.Resolve(deliveryPlan.Root, deliveryPlan.RelativePath)
		if err != nil {
			return err
		}

		requested := o.LinkMode
		if clientEntry, ok := state.Clients[adapter.ID()]; ok && clientEntry.FsStrategy != "" {
			if parsed, err := linker.ParseMode(clientEntry.FsStrategy); err == nil {
				requested = parsed
			}
		}
		mode, downgrade := scope.Downgrade(requested, caps)
		if downgrade != "" {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skill.%s (%s): %s", res.Name, adapter.ID(), downgrade))
		}

		excludeEntry := ""
		if decision.UseGitExclude || deliveryPlan.UseGitExclude {
			excludeEntry = filepath.ToSlash(filepath.Join(deliveryPlan.RelativePath, res.Name))
		}

		staged = append(staged, ensureSkillDelivery{
			ID: lockfile.SkillID{
				ClientID: adapter.ID(),
				Scope:    res.Scope,
				Name:     res.Name,
			},
			Mode:            mode,
			AllowSymlink:    caps.SupportsSymlinkedSkills,
			CachePath:       r.CachePath,
			TreeHash:        r.TreeHash,
			ResolvedVersion: r.ResolvedVersion,
			Dest:            filepath.Join(destRoot, res.Name),
			GitExcludeEntry: excludeEntry,
		})
	}

	plan.Skills = append(plan.Skills, staged...)
	return nil
}

// planPrune schedules RemoveManaged operations for orphaned lockfile rows.
func (o *Orchestrator) planPrune(state *config.DesiredState, plan *ExecutionPlan) {
	lf, err := o.Store.Load()
	if err != nil {
		return
	}
	configs, skills := lf.Orphans(func(kind config.Kind, name string) bool {
		if kind == config.KindMcp {
			_, ok := state.Mcp[name]
			return ok
		}
		_, ok := state.Skills[name]
		return ok
	})
	for i := range configs {
		plan.Removals = append(plan.Removals, removeManaged{ConfigID: &configs[i]})
	}
	for i := range skills {
		plan.Removals = append(plan.Removals, removeManaged{SkillID: &skills[i]})
	}
	sort.Slice(plan.Removals, func(i, j int) bool {
		return removalKey(plan.Removals[i]) < removalKey(plan.Removals[j])
	})
}

func removalKey(r removeManaged) string {
	if r.ConfigID != nil {
		return "config/" + r.ConfigID.String()
	}
	return "skill/" + r.SkillID.String()
}
