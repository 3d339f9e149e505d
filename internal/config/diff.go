package config

import (
	"maps"
	"reflect"
	"slices"
)

// ConfigDiff describes what changed between two configs. Only the log level
// can be applied to a running session; everything else takes effect on the
// next start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ModelsChanged     bool
	GenerationChanged bool
	RetryChanged      bool
	ObserveChanged    bool

	ServerChanges []ServerDiff
}

// ServerDiff describes what changed for a single MCP server.
type ServerDiff struct {
	Name     string
	Added    bool
	Removed  bool
	Modified bool // command, args or env changed
	Moved    bool // position in the start order changed
}

// RequiresRestart reports whether d contains changes that only take effect
// when the session is restarted.
func (d ConfigDiff) RequiresRestart() bool {
	return d.ModelsChanged || d.GenerationChanged || d.RetryChanged ||
		d.ObserveChanged || len(d.ServerChanges) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.LogLevel != new.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.LogLevel
	}
	d.ModelsChanged = !reflect.DeepEqual(old.Models, new.Models)
	d.GenerationChanged = !reflect.DeepEqual(old.Generation, new.Generation)
	d.RetryChanged = old.Retry != new.Retry
	d.ObserveChanged = old.Observe != new.Observe
	d.ServerChanges = diffServers(old, new)

	return d
}

func diffServers(old, new *Config) []ServerDiff {
	oldSrv := old.Servers()
	newSrv := new.Servers()

	oldIdx := make(map[string]int, len(oldSrv))
	for i, s := range oldSrv {
		oldIdx[s.Name] = i
	}
	newIdx := make(map[string]int, len(newSrv))
	for i, s := range newSrv {
		newIdx[s.Name] = i
	}

	var out []ServerDiff
	for i, s := range newSrv {
		j, existed := oldIdx[s.Name]
		if !existed {
			out = append(out, ServerDiff{Name: s.Name, Added: true})
			continue
		}
		prev := oldSrv[j]
		sd := ServerDiff{
			Name: s.Name,
			Modified: prev.Command != s.Command ||
				!slices.Equal(prev.Args, s.Args) ||
				!maps.Equal(prev.Env, s.Env),
			Moved: i != j,
		}
		if sd.Modified || sd.Moved {
			out = append(out, sd)
		}
	}
	for _, s := range oldSrv {
		if _, kept := newIdx[s.Name]; !kept {
			out = append(out, ServerDiff{Name: s.Name, Removed: true})
		}
	}
	return out
}
