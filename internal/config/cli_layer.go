package config

import (
	"strings"
)

// CLIRequest is an explicit install passed on the command line. It forms a
// virtual layer above ProjectLocal with the highest precedence.
type CLIRequest struct {
	Name        string
	Kind        Kind
	Scope       Scope
	Transport   string
	Command     []string // everything after "--" for explicit stdio
	URL         string   // --url for explicit http
	Source      string   // --source
	Registry    string   // --registry
	Runtime     string   // --runtime
	VersionSpec string   // from name@version
	Env         map[string]string
	Headers     map[string]string
	Targets     []string
}

// explicit reports whether the request bypasses registry resolution
// entirely: a raw stdio command or a raw http URL.
func (r CLIRequest) explicit() bool {
	return len(r.Command) > 0 || (r.Transport == TransportHTTP && r.URL != "")
}

// ApplyCLI overlays an explicit CLI request onto the desired state.
// Explicit stdio/http requests bypass resolution; any co-passed resolution
// arguments are discarded with warnings.
func (d *DesiredState) ApplyCLI(req CLIRequest) {
	scope := req.Scope
	if scope == "" {
		scope = ScopeProject
	}

	if req.Kind == KindSkill {
		entry := SkillEntry{
			Source:  req.Source,
			Version: req.VersionSpec,
			Targets: req.Targets,
		}
		entry.applyDefaults()
		d.Skills[req.Name] = SkillResource{
			Name:            req.Name,
			Scope:           scope,
			DeclaredVersion: entry.Version,
			Entry:           entry,
		}
		return
	}

	entry := McpEntry{
		Transport: req.Transport,
		Source:    req.Source,
		Runtime:   req.Runtime,
		URL:       req.URL,
		Env:       req.Env,
		Headers:   req.Headers,
		Targets:   req.Targets,
		Version:   req.VersionSpec,
	}

	if req.explicit() {
		for _, discarded := range []struct {
			set  bool
			flag string
		}{
			{req.Source != "", "--source"},
			{req.Registry != "", "--registry"},
			{req.VersionSpec != "", "name@version"},
			{req.Runtime != "", "--runtime"},
		} {
			if discarded.set {
				d.Diagnostics = append(d.Diagnostics,
					warnf("%s is ignored for explicit %s installs", discarded.flag, entry.Transport))
			}
		}
		entry.Source = ""
		entry.Runtime = ""
		entry.Version = ""

		if len(req.Command) > 0 {
			entry.Transport = TransportStdio
			entry.Source = SourceCommand + strings.Join(req.Command, " ")
			entry.Runtime = "custom"
		} else {
			entry.Transport = TransportHTTP
		}
	}

	entry.applyDefaults()
	d.Mcp[req.Name] = McpResource{
		Name:            req.Name,
		Scope:           scope,
		DeclaredVersion: entry.Version,
		Entry:           entry,
	}
}
