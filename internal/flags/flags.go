// Package flags holds the read-only feature flag registry loaded from the
// flags: section of the configuration file. Unknown flags read as disabled.
package flags

import (
	"maps"
	"slices"
	"strings"

	"github.com/examalpha/examshell/internal/log"
)

const (
	// FlagKiosk disables the quit keys until the session is terminating and
	// runs the shell on the alternate screen.
	FlagKiosk = "kiosk"

	// FlagHostEventLog logs every event received from the supervisor at info
	// level instead of debug.
	FlagHostEventLog = "host-event-log"

	// FlagAuditExitAttempts makes the supervisor persist each exit_exam
	// outcome to the exit_attempts table.
	FlagAuditExitAttempts = "audit-exit-attempts"
)

// Known lists every flag the binary reads.
var Known = []string{FlagKiosk, FlagHostEventLog, FlagAuditExitAttempts}

// Defaults returns the flag values used when the config file has no flags
// section.
func Defaults() map[string]bool {
	return map[string]bool{
		FlagKiosk:             true,
		FlagHostEventLog:      false,
		FlagAuditExitAttempts: true,
	}
}

// Registry holds feature flag state. Read-only after New.
type Registry struct {
	flags map[string]bool
}

// New creates a Registry from a config map. Names are matched
// case-insensitively; a nil map yields a registry with everything disabled.
func New(flags map[string]bool) *Registry {
	normalized := make(map[string]bool, len(flags))
	for name, value := range flags {
		key := strings.ToLower(strings.TrimSpace(name))
		if !slices.Contains(Known, key) {
			log.Warn(log.CatConfig, "Unrecognized feature flag", "flag", name)
		}
		normalized[key] = value
	}
	r := &Registry{flags: normalized}
	log.Debug(log.CatConfig, "Feature flags initialized", "count", len(normalized), "flags", r.All())
	return r
}

// Enabled reports whether name is on. Nil-safe; unknown flags are off.
func (r *Registry) Enabled(name string) bool {
	if r == nil {
		return false
	}
	value, exists := r.flags[strings.ToLower(name)]
	if !exists {
		log.Debug(log.CatConfig, "Unknown flag accessed", "flag", name, "result", false)
		return false
	}
	return value
}

// All returns a copy of all flags.
func (r *Registry) All() map[string]bool {
	if r == nil {
		return make(map[string]bool)
	}
	result := make(map[string]bool, len(r.flags))
	maps.Copy(result, r.flags)
	return result
}
