// Package lockfile owns sift.lock: the single record of what sift manages.
package lockfile

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Lutra-Fs/sift/internal/config"
)

// FormatVersion of the lockfile document.
const FormatVersion = 1

// EntryID identifies one managed config key.
type EntryID struct {
	ClientID string
	Scope    config.Scope
	Kind     config.Kind
	Name     string
}

func (e EntryID) String() string {
	return strings.Join([]string{e.ClientID, string(e.Scope), string(e.Kind), e.Name}, "/")
}

// ParseEntryID inverts EntryID.String.
func ParseEntryID(s string) (EntryID, error) {
	parts := strings.SplitN(s, "/", 4)
	if len(parts) != 4 {
		return EntryID{}, fmt.Errorf("malformed entry id %q", s)
	}
	return EntryID{
		ClientID: parts[0],
		Scope:    config.Scope(parts[1]),
		Kind:     config.Kind(parts[2]),
		Name:     parts[3],
	}, nil
}

// SkillID identifies one delivered skill.
type SkillID struct {
	ClientID string
	Scope    config.Scope
	Name     string
}

func (s SkillID) String() string {
	return strings.Join([]string{s.ClientID, string(s.Scope), s.Name}, "/")
}

// ParseSkillID inverts SkillID.String.
func ParseSkillID(s string) (SkillID, error) {
	parts := strings.SplitN(s, "/", 3)
	if len(parts) != 3 {
		return SkillID{}, fmt.Errorf("malformed skill id %q", s)
	}
	return SkillID{
		ClientID: parts[0],
		Scope:    config.Scope(parts[1]),
		Name:     parts[2],
	}, nil
}

// ManagedRecord is the lockfile's view of one managed config key.
type ManagedRecord struct {
	ContentHash             string   `json:"content_hash"`
	ResolvedRef             string   `json:"resolved_ref"`
	LastRenderedFingerprint string   `json:"last_rendered_fingerprint"`
	ConfigFile              string   `json:"config_file"`
	KeyPath                 []string `json:"key_path"`
}

// SkillRecord is the lockfile's view of one delivered skill.
type SkillRecord struct {
	LinkModeActual  string `json:"link_mode_actual"`
	CachePath       string `json:"cache_path"`
	TreeHash        string `json:"tree_hash"`
	DeliveredPath   string `json:"delivered_path"`
	ResolvedVersion string `json:"resolved_version,omitempty"`
}

// EjectedRecord remembers what an ejected skill looked like so un-eject can
// revert it.
type EjectedRecord struct {
	OriginalSource  string `json:"original_source"`
	OriginalVersion string `json:"original_version,omitempty"`
	CachePath       string `json:"cache_path"`
	TreeHash        string `json:"tree_hash"`
}

// Lockfile is the persisted document.
type Lockfile struct {
	Version        int                      `json:"version"`
	GeneratedAt    time.Time                `json:"generated_at"`
	ManagedConfigs map[string]ManagedRecord `json:"managed_configs"`
	ManagedSkills  map[string]SkillRecord   `json:"managed_skills"`
	CacheIndex     map[string]string        `json:"cache_index"`
	EjectedSkills  map[string]EjectedRecord `json:"ejected_skills,omitempty"`
}

// New creates an empty lockfile.
func New() *Lockfile {
	return &Lockfile{
		Version:        FormatVersion,
		GeneratedAt:    time.Now().UTC(),
		ManagedConfigs: make(map[string]ManagedRecord),
		ManagedSkills:  make(map[string]SkillRecord),
		CacheIndex:     make(map[string]string),
	}
}

// Validate checks the format version.
func (l *Lockfile) Validate() error {
	if l.Version != FormatVersion {
		return fmt.Errorf("unsupported lockfile version %d", l.Version)
	}
	return nil
}

// SetConfig records a managed config key.
func (l *Lockfile) SetConfig(id EntryID, record ManagedRecord) {
	if l.ManagedConfigs == nil {
		l.ManagedConfigs = make(map[string]ManagedRecord)
	}
	l.ManagedConfigs[id.String()] = record
}

// Config returns the record for a managed key.
func (l *Lockfile) Config(id EntryID) (ManagedRecord, bool) {
	record, ok := l.ManagedConfigs[id.String()]
	return record, ok
}

// RemoveConfig drops a managed key.
func (l *Lockfile) RemoveConfig(id EntryID) {
	delete(l.ManagedConfigs, id.String())
}

// SetSkill records a delivered skill and indexes its cache entry.
func (l *Lockfile) SetSkill(id SkillID, record SkillRecord) {
	if l.ManagedSkills == nil {
		l.ManagedSkills = make(map[string]SkillRecord)
	}
	l.ManagedSkills[id.String()] = record
	if record.TreeHash != "" && record.CachePath != "" {
		if l.CacheIndex == nil {
			l.CacheIndex = make(map[string]string)
		}
		l.CacheIndex[record.TreeHash] = record.CachePath
	}
}

// Skill returns the record for a delivered skill.
func (l *Lockfile) Skill(id SkillID) (SkillRecord, bool) {
	record, ok := l.ManagedSkills[id.String()]
	return record, ok
}

// RemoveSkill drops a delivered skill and garbage-collects the cache index
// when no other row references the tree.
func (l *Lockfile) RemoveSkill(id SkillID) {
	record, ok := l.ManagedSkills[id.String()]
	if !ok {
		return
	}
	delete(l.ManagedSkills, id.String())
	for _, other := range l.ManagedSkills {
		if other.TreeHash == record.TreeHash {
			return
		}
	}
	delete(l.CacheIndex, record.TreeHash)
}

// Orphans returns lockfile rows with no corresponding declaration in the
// desired state. The callbacks answer "is (kind, name) still declared".
func (l *Lockfile) Orphans(declared func(kind config.Kind, name string) bool) (configs []EntryID, skills []SkillID) {
	for key := range l.ManagedConfigs {
		id, err := ParseEntryID(key)
		if err != nil {
			continue
		}
		if !declared(id.Kind, id.Name) {
			configs = append(configs, id)
		}
	}
	for key := range l.ManagedSkills {
		id, err := ParseSkillID(key)
		if err != nil {
			continue
		}
		if !declared(config.KindSkill, id.Name) {
			skills = append(skills, id)
		}
	}
	sort.Slice(configs, func(i, j int) bool { return configs[i].String() < configs[j].String() })
	sort.Slice(skills, func(i, j int) bool { return skills[i].String() < skills[j].String() })
	return configs, skills
}

// Load reads a lockfile from disk. A missing file yields a fresh document.
func Load(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(), nil
		}
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}

	var lf Lockfile
	if err := json.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile: %w", err)
	}
	if err := lf.Validate(); err != nil {
		return nil, err
	}
	if lf.ManagedConfigs == nil {
		lf.ManagedConfigs = make(map[string]ManagedRecord)
	}
	if lf.ManagedSkills == nil {
		lf.ManagedSkills = make(map[string]SkillRecord)
	}
	if lf.CacheIndex == nil {
		lf.CacheIndex = make(map[string]string)
	}
	return &lf, nil
}

// Save writes the lockfile atomically: temp sibling, fsync, rename.
func Save(path string, lf *Lockfile) error {
	lf.Version = FormatVersion
	lf.GeneratedAt = time.Now().UTC()

	data, err := json.MarshalIndent(lf, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lockfile: %w", err)
	}
	// Ensure file ends with newline for clean git diffs
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".sift.lock.*")
	if err != nil {
		return fmt.Errorf("failed to create temp lockfile: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close lockfile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to move lockfile into place: %w", err)
	}
	return nil
}
