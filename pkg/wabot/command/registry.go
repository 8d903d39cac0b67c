package command

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
)

// Registry maps command names and aliases to their definitions.
// Lookups are case-insensitive. Registration is first-wins: a later
// command cannot steal an already-taken alias.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*Definition
	logger *slog.Logger
}

// NewRegistry creates an empty command registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		byName: make(map[string]*Definition),
		logger: logger.With("component", "commands"),
	}
}

// Register adds a command under its name and all aliases. Malformed
// definitions (empty name, no callback) are logged and skipped rather
// than aborting startup.
func (r *Registry) Register(def *Definition) {
	if def == nil || strings.TrimSpace(def.Name) == "" {
		r.logger.Warn("skipping command with empty name")
		return
	}
	if def.Callback == nil {
		r.logger.Warn("skipping command without callback", "name", def.Name)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, alias := range append([]string{def.Name}, def.Aliases...) {
		key := strings.ToLower(strings.TrimSpace(alias))
		if key == "" {
			continue
		}
		if existing, taken := r.byName[key]; taken {
			r.logger.Warn("alias already registered, keeping first",
				"alias", key, "existing", existing.Name, "skipped", def.Name)
			continue
		}
		r.byName[key] = def
	}
}

// Resolve looks up a command by name or alias. The second return is
// false when no command matches.
func (r *Registry) Resolve(token string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[strings.ToLower(token)]
	return def, ok
}

// All returns the distinct registered commands sorted by name.
func (r *Registry) All() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[*Definition]bool, len(r.byName))
	defs := make([]*Definition, 0, len(r.byName))
	for _, def := range r.byName {
		if !seen[def] {
			seen[def] = true
			defs = append(defs, def)
		}
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}
