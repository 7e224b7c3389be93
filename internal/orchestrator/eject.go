package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lutra-Fs/sift/internal/cache"
	"github.com/Lutra-Fs/sift/internal/config"
	"github.com/Lutra-Fs/sift/internal/linker"
	"github.com/Lutra-Fs/sift/internal/lockfile"
	"github.com/Lutra-Fs/sift/internal/observability"
)

// gitIsClean is swappable for tests.
var gitIsClean = func(projectRoot, relPath string) (bool, error) {
	cmd := exec.Command("git", "status", "--porcelain", "--", relPath)
	cmd.Dir = projectRoot
	out, err := cmd.Output()
	if err != nil {
		return false, fmt.Errorf("failed to check git status: %w", err)
	}
	return len(strings.TrimSpace(string(out))) == 0, nil
}

// ejectedBackupDir is where un-eject parks the local tree.
func ejectedBackupDir(projectRoot, name string) string {
	stamp := time.Now().UTC().Format("20060102-150405")
	return filepath.Join(projectRoot, ".sift", "ejected-backups", name, stamp)
}

// Eject takes a managed skill out of sift's delivery flow: the cached tree
// is copied to ./skills/<name>, sift.toml is rewritten to the local source,
// and the managed-skill rows are dropped.
func (o *Orchestrator) Eject(ctx context.Context, name string) error {
	lf, err := o.Store.Load()
	if err != nil {
		return err
	}

	var rows []lockfile.SkillID
	var record lockfile.SkillRecord
	for key, r := range lf.ManagedSkills {
		id, err := lockfile.ParseSkillID(key)
		if err != nil || id.Name != name {
			continue
		}
		rows = append(rows, id)
		record = r
	}
	if len(rows) == 0 {
		return fmt.Errorf("skill %q is not managed by sift", name)
	}

	configPath := config.ProjectConfigPath(o.ClientCtx.ProjectRoot)
	doc, _, err := config.LoadFile(configPath, false)
	if err != nil {
		return err
	}
	entry, declared := doc.Skill[name]
	if !declared {
		return fmt.Errorf("skill %q is not declared in %s", name, configPath)
	}

	// Materialize the tree where the user can edit it.
	dest := filepath.Join(o.ClientCtx.ProjectRoot, "skills", name)
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("destination %s already exists", dest)
	}
	if _, err := linker.Deliver(record.CachePath, dest, linker.Options{Mode: linker.ModeCopy}); err != nil {
		return fmt.Errorf("failed to copy skill tree: %w", err)
	}
	// The marker marks managed deliveries; an ejected tree belongs to the
	// user.
	os.Remove(filepath.Join(dest, linker.MarkerFilename))

	// Remove the deliveries and their rows.
	for _, id := range rows {
		r, _ := lf.Skill(id)
		if err := linker.RemoveDelivery(r.DeliveredPath); err != nil {
			return fmt.Errorf("failed to remove delivery for %s: %w", id.ClientID, err)
		}
		lf.RemoveSkill(id)
	}

	if lf.EjectedSkills == nil {
		lf.EjectedSkills = make(map[string]lockfile.EjectedRecord)
	}
	lf.EjectedSkills[name] = lockfile.EjectedRecord{
		OriginalSource:  entry.Source,
		OriginalVersion: entry.Version,
		CachePath:       record.CachePath,
		TreeHash:        record.TreeHash,
	}

	if err := config.RewriteSkillSource(configPath, name, "local:./skills/"+name, ""); err != nil {
		return err
	}
	if err := o.Store.Save(lf); err != nil {
		return fmt.Errorf("failed to commit lockfile: %w", err)
	}

	observability.LoggerFrom(ctx).Info("orchestrator", "ejected skill", "name", name, "dest", dest)
	return nil
}

// UnEject reverses Eject for a git-clean, unchanged local tree: it backs
// the tree up, restores the original sift.toml source, and verifies the
// cache entry. It does not deliver the skill; a following install does.
func (o *Orchestrator) UnEject(ctx context.Context, name string) error {
	lf, err := o.Store.Load()
	if err != nil {
		return err
	}

	ejected, ok := lf.EjectedSkills[name]
	if !ok {
		return fmt.Errorf("skill %q was not ejected by sift", name)
	}

	rel := filepath.Join("skills", name)
	local := filepath.Join(o.ClientCtx.ProjectRoot, rel)
	if _, err := os.Stat(local); err != nil {
		return fmt.Errorf("ejected tree %s is missing: %w", local, err)
	}

	clean, err := gitIsClean(o.ClientCtx.ProjectRoot, rel)
	if err != nil {
		return err
	}
	if !clean {
		return fmt.Errorf("%s has uncommitted changes; commit or discard them before un-ejecting", rel)
	}

	backup := ejectedBackupDir(o.ClientCtx.ProjectRoot, name)
	if err := os.MkdirAll(filepath.Dir(backup), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.Rename(local, backup); err != nil {
		return fmt.Errorf("failed to move ejected tree to backup: %w", err)
	}

	configPath := config.ProjectConfigPath(o.ClientCtx.ProjectRoot)
	if err := config.RewriteSkillSource(configPath, name, ejected.OriginalSource, ejected.OriginalVersion); err != nil {
		return err
	}

	// Verify the cache still matches the lockfile before re-delivering.
	if _, err := cache.New(filepath.Dir(ejected.CachePath)).Verify(ejected.CachePath, ejected.TreeHash); err != nil {
		return err
	}

	delete(lf.EjectedSkills, name)
	if err := o.Store.Save(lf); err != nil {
		return fmt.Errorf("failed to commit lockfile: %w", err)
	}

	observability.LoggerFrom(ctx).Info("orchestrator", "un-ejected skill", "name", name, "backup", backup)
	return nil
}
