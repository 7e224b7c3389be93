// Package orchestrator is the single execution point of the install
// pipeline: it diffs desired state against the lockfile, gates per-client
// plans, performs every filesystem write, and commits outcomes to the
// lockfile.
package orchestrator

import (
	"context"
	"fmt"
	"sort"

	"github.com/Lutra-Fs/sift/internal/client"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/observability"
	"github.com/Lutra-Fs/sift/internal/resolver"
	"github.com/Lutra-Fs/sift/internal/scope"
)

const defaultConcurrency = 8

// ResolverAPI is the slice of the resolver the orchestrator consumes.
type ResolverAPI interface {
	ResolveMcp(ctx context.Context, res config.McpResource) (*resolver.Resolved, error)
	ResolveSkill(ctx context.Context, res config.SkillResource) (*resolver.Resolved, error)
}

// Orchestrator wires the components together. All fields are injected; the
// orchestrator holds no ambient singletons.
type Orchestrator struct {
	Clients         []client.Adapter
	Resolver        ResolverAPI
	Store           *lockfile.Store
	ClientCtx       client.Context
	LinkMode        linker.Mode
	RuntimeCacheDir string
	Concurrency     int
}

func (o *Orchestrator) concurrency() int {
	if o.Concurrency > 0 {
		return o.Concurrency
	}
	return defaultConcurrency
}

// Options select and modulate one command run.
type Options struct {
	Force bool
	Prune bool
	// Refreeze drops the locked versions and resolves fresh. Only
	// `sift upgrade` sets it; plain installs reproduce the lockfile.
	Refreeze bool
	Scope    config.Scope // empty = all scopes
	Names    []string     // empty = all resources
}

// ResourceError is a failure local to one resource.
type ResourceError struct {
	Kind config.Kind
	Name string
	Err  error
}

func (e ResourceError) Error() string {
	return fmt.Sprintf("%s.%s: %v", e.Kind, e.Name, e.Err)
}

// Report aggregates a command's outcomes.
type Report struct {
	Applied  []string
	Skipped  []string
	Removed  []string
	Warnings []string
	Errors   []ResourceError
}

// Partial reports whether any resource failed.
func (r *Report) Partial() bool {
	return len(r.Errors) > 0
}

// executed tracks what Phase C actually did, for the lockfile commit.
type executed struct {
	upserts        []upsertManagedJson
	skills         []deliveredSkill
	removedConfigs []lockfile.EntryID
	removedSkills  []lockfile.SkillID
}

type deliveredSkill struct {
	op     ensureSkillDelivery
	actual linker.Mode
}

// Install runs the four phases: plan, ownership check, execute, commit.
func (o *Orchestrator) Install(ctx context.Context, state *config.DesiredState, opts Options) (*Report, error) {
	report := &Report{}
	log := observability.LoggerFrom(ctx)

	ctx, endSpan := observability.StartSpan(ctx, "sift.install")
	defer endSpan()

	// Phase A: resolve and plan.
	planCtx, endPlan := observability.StartSpan(ctx, "sift.install.plan")
	resolved, err := o.resolveSelected(planCtx, state, opts, report)
	if err != nil {
		endPlan()
		return report, err
	}
	plan, err := o.buildPlan(planCtx, state, opts, resolved, report)
	endPlan()
	if err != nil {
		return report, err
	}

	// Phase B: ownership.
	lf, err := o.Store.Load()
	if err != nil {
		return report, err
	}
	approved := o.checkOwnership(plan, lf, opts, report)

	// Phase C: execute. Strictly serial so the commit point is
	// well-defined.
	execCtx, endExec := observability.StartSpan(ctx, "sift.install.execute")
	done := o.execute(execCtx, approved, opts, report)
	endExec()

	// Phase D: commit. A lockfile write failure aborts the command.
	if err := o.commit(lf, done); err != nil {
		return report, fmt.Errorf("failed to commit lockfile: %w", err)
	}

	log.Event(ctx, "install.commit", map[string]any{
		"applied": len(report.Applied),
		"skipped": len(report.Skipped),
		"errors":  len(report.Errors),
	})
	return report, nil
}

// checkOwnership is Phase B: keep only writes that are safe under the
// "do no harm" protocol.
func (o *Orchestrator) checkOwnership(plan *ExecutionPlan, lf *lockfile.Lockfile, opts Options, report *Report) *ExecutionPlan {
	approved := &ExecutionPlan{
		Skills:   plan.Skills,
		Removals: plan.Removals,
	}

	files := map[string]map[string]any{}
	for _, op := range plan.Upserts {
		root, ok := files[op.ConfigFile]
		if !ok {
			loaded, err := loadJSONMap(op.ConfigFile)
			if err != nil {
				report.Errors = append(report.Errors, ResourceError{Kind: op.ID.Kind, Name: op.ID.Name, Err: err})
				continue
			}
			root = loaded
			files[op.ConfigFile] = loaded
		}

		current := valueAt(root, op.KeyPath, op.ID.Name)
		if current == nil {
			approved.Upserts = append(approved.Upserts, op)
			continue
		}

		record, managed := lf.Config(op.ID)
		currentHash := HashValue(current)
		if managed && currentHash == record.ContentHash {
			approved.Upserts = append(approved.Upserts, op)
			continue
		}
		if opts.Force {
			approved.Upserts = append(approved.Upserts, op)
			continue
		}

		warning := fmt.Sprintf("%s.%s in %s was modified outside sift; skipping (use --force to overwrite)",
			op.ID.Kind, op.ID.Name, op.ConfigFile)
		if managed {
			var recorded any
			if record.ContentHash == op.Fingerprint {
				recorded = op.Value
			}
			for _, line := range describeDrift(recorded, current) {
				warning += "\n    " + line
			}
		}
		report.Warnings = append(report.Warnings, warning)
		report.Skipped = append(report.Skipped, op.ID.String())
	}

	return approved
}

// execute is Phase C: all filesystem writes, serially.
func (o *Orchestrator) execute(ctx context.Context, plan *ExecutionPlan, opts Options, report *Report) *executed {
	done := &executed{}
	lf, lfErr := o.Store.Load()
	if lfErr != nil {
		lf = lockfile.New()
	}

	// Group JSON mutations (upserts and config removals) per file so each
	// file is written exactly once, in stable order.
	type fileMutation struct {
		upserts []upsertManagedJson
		removes []lockfile.EntryID
	}
	mutations := map[string]*fileMutation{}

	for _, op := range plan.Upserts {
		m := mutations[op.ConfigFile]
		if m == nil {
			m = &fileMutation{}
			mutations[op.ConfigFile] = m
		}
		m.upserts = append(m.upserts, op)
	}
	for _, removal := range plan.Removals {
		if removal.ConfigID == nil {
			continue
		}
		id := *removal.ConfigID
		record, ok := lf.Config(id)
		if !ok {
			continue
		}
		m := mutations[record.ConfigFile]
		if m == nil {
			m = &fileMutation{}
			mutations[record.ConfigFile] = m
		}
		m.removes = append(m.removes, id)
	}

	paths := make([]string, 0, len(mutations))
	for path := range mutations {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if ctx.Err() != nil {
			return done
		}
		m := mutations[path]

		root, err := loadJSONMap(path)
		if err != nil {
			for _, op := range m.upserts {
				report.Errors = append(report.Errors, ResourceError{Kind: op.ID.Kind, Name: op.ID.Name, Err: err})
			}
			continue
		}

		var applied []upsertManagedJson
		for _, op := range m.upserts {
			if err := setValueAt(root, op.KeyPath, op.ID.Name, op.Value); err != nil {
				report.Errors = append(report.Errors, ResourceError{Kind: op.ID.Kind, Name: op.ID.Name, Err: err})
				continue
			}
			applied = append(applied, op)
		}

		var removed []lockfile.EntryID
		for _, id := range m.removes {
			record, _ := lf.Config(id)
			current := valueAt(root, record.KeyPath, id.Name)
			if current != nil && HashValue(current) != record.ContentHash && !opts.Force {
				report.Warnings = append(report.Warnings,
					fmt.Sprintf("%s.%s in %s was modified outside sift; not removing (use --force)", id.Kind, id.Name, path))
				continue
			}
			removeValueAt(root, record.KeyPath, id.Name)
			removed = append(removed, id)
		}

		if len(applied) == 0 && len(removed) == 0 {
			continue
		}
		if err := writeJSONMap(path, root); err != nil {
			for _, op := range applied {
				report.Errors = append(report.Errors, ResourceError{Kind: op.ID.Kind, Name: op.ID.Name, Err: err})
			}
			continue
		}

		for _, op := range applied {
			done.upserts = append(done.upserts, op)
			report.Applied = append(report.Applied, op.ID.String())
		}
		for _, id := range removed {
			done.removedConfigs = append(done.removedConfigs, id)
			report.Removed = append(report.Removed, id.String())
		}
	}

	// Skill deliveries.
	for _, op := range plan.Skills {
		if ctx.Err() != nil {
			return done
		}
		if op.GitExcludeEntry != "" {
			if err := scope.EnsureGitExclude(o.ClientCtx.ProjectRoot, op.GitExcludeEntry); err != nil {
				report.Errors = append(report.Errors, ResourceError{Kind: config.KindSkill, Name: op.ID.Name, Err: err})
				continue
			}
		}
		linkReport, err := linker.Deliver(op.CachePath, op.Dest, linker.Options{
			Mode:         op.Mode,
			Force:        opts.Force,
			AllowSymlink: op.AllowSymlink,
		})
		if err != nil {
			report.Errors = append(report.Errors, ResourceError{Kind: config.KindSkill, Name: op.ID.Name, Err: err})
			continue
		}
		for _, downgrade := range linkReport.Downgrades {
			report.Warnings = append(report.Warnings, fmt.Sprintf("skill.%s (%s): %s", op.ID.Name, op.ID.ClientID, downgrade))
		}
		done.skills = append(done.skills, deliveredSkill{op: op, actual: linkReport.Mode})
		report.Applied = append(report.Applied, op.ID.String())
	}

	// Skill removals.
	for _, removal := range plan.Removals {
		if removal.SkillID == nil {
			continue
		}
		if ctx.Err() != nil {
			return done
		}
		id := *removal.SkillID
		record, ok := lf.Skill(id)
		if !ok {
			continue
		}
		if err := linker.RemoveDelivery(record.DeliveredPath); err != nil {
			report.Errors = append(report.Errors, ResourceError{Kind: config.KindSkill, Name: id.Name, Err: err})
			continue
		}
		done.removedSkills = append(done.removedSkills, id)
		report.Removed = append(report.Removed, id.String())
	}

	return done
}

// commit is Phase D: fold the executed operations into the lockfile and
// write it atomically.
func (o *Orchestrator) commit(lf *lockfile.Lockfile, done *executed) error {
	for _, op := range done.upserts {
		lf.SetConfig(op.ID, lockfile.ManagedRecord{
			ContentHash:             HashValue(op.Value),
			ResolvedRef:             op.ResolvedRef,
			LastRenderedFingerprint: op.Fingerprint,
			ConfigFile:              op.ConfigFile,
			KeyPath:                 op.KeyPath,
		})
	}
	for _, delivered := range done.skills {
		lf.SetSkill(delivered.op.ID, lockfile.SkillRecord{
			LinkModeActual:  string(delivered.actual),
			CachePath:       delivered.op.CachePath,
			TreeHash:        delivered.op.TreeHash,
			DeliveredPath:   delivered.op.Dest,
			ResolvedVersion: delivered.op.ResolvedVersion,
		})
	}
	for _, id := range done.removedConfigs {
		lf.RemoveConfig(id)
	}
	for _, id := range done.removedSkills {
		lf.RemoveSkill(id)
	}
	return o.Store.Save(lf)
}

// Uninstall removes every lockfile-tracked artifact belonging to the named
// resources.
func (o *Orchestrator) Uninstall(ctx context.Context, names []string, opts Options) (*Report, error) {
	report := &Report{}

	lf, err := o.Store.Load()
	if err != nil {
		return report, err
	}

	nameSet := map[string]bool{}
	for _, n := range names {
		nameSet[n] = true
	}

	plan := &ExecutionPlan{}
	for key := range lf.ManagedConfigs {
		id, err := lockfile.ParseEntryID(key)
		if err != nil {
			continue
		}
		if nameSet[id.Name] {
			idCopy := id
			plan.Removals = append(plan.Removals, removeManaged{ConfigID: &idCopy})
		}
	}
	for key := range lf.ManagedSkills {
		id, err := lockfile.ParseSkillID(key)
		if err != nil {
			continue
		}
		if nameSet[id.Name] {
			idCopy := id
			plan.Removals = append(plan.Removals, removeManaged{SkillID: &idCopy})
		}
	}
	sort.Slice(plan.Removals, func(i, j int) bool {
		return removalKey(plan.Removals[i]) < removalKey(plan.Removals[j])
	})

	done := o.execute(ctx, plan, opts, report)
	if err := o.commit(lf, done); err != nil {
		return report, fmt.Errorf("failed to commit lockfile: %w", err)
	}
	return report, nil
}

// Status compares the lockfile against the desired state without touching
// anything.
type StatusReport struct {
	OrphanConfigs []lockfile.EntryID
	OrphanSkills  []lockfile.SkillID
	Modified      []lockfile.EntryID
	Managed       int
}

// Status is the read-only view behind `sift status`.
func (o *Orchestrator) Status(state *config.DesiredState) (*StatusReport, error) {
	lf, err := o.Store.Load()
	if err != nil {
		return nil, err
	}

	report := &StatusReport{Managed: len(lf.ManagedConfigs) + len(lf.ManagedSkills)}
	report.OrphanConfigs, report.OrphanSkills = lf.Orphans(func(kind config.Kind, name string) bool {
		if kind == config.KindMcp {
			_, ok := state.Mcp[name]
			return ok
		}
		_, ok := state.Skills[name]
		return ok
	})

	for key, record := range lf.ManagedConfigs {
		id, err := lockfile.ParseEntryID(key)
		if err != nil {
			continue
		}
		root, err := loadJSONMap(record.ConfigFile)
		if err != nil {
			continue
		}
		current := valueAt(root, record.KeyPath, id.Name)
		if current == nil {
			continue
		}
		if HashValue(current) != record.ContentHash {
			report.Modified = append(report.Modified, id)
		}
	}
	sort.Slice(report.Modified, func(i, j int) bool {
		return report.Modified[i].String() < report.Modified[j].String()
	})
	return report, nil
}
