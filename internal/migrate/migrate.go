// Package migrate upgrades versioned documents (decoded TOML or JSON trees)
// one schema version at a time.
package migrate

import (
	"fmt"
	"log/slog"
	"slices"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Doc is a decoded document tree, as produced by toml.Unmarshal or
// json.Unmarshal into map[string]any.
type Doc = map[string]any

// Step upgrades a document from Version-1 to Version in place.
type Step struct {
	// Version is the schema version this step produces.
	Version int
	// Description is a short human-readable label for log output.
	Description string
	// Apply mutates doc into the new shape.
	Apply func(doc Doc) error
}

// Registry holds the ordered upgrade steps for one document kind.
type Registry struct {
	current int
	steps   []Step
}

// NewRegistry builds a registry targeting current. It panics on duplicate
// or out-of-range step versions, which are programming errors.
func NewRegistry(current int, steps ...Step) *Registry {
	r := &Registry{current: current}
	for _, s := range steps {
		if s.Version < 2 || s.Version > current {
			panic(fmt.Sprintf("migrate: step version %d outside 2..%d", s.Version, current))
		}
		if slices.ContainsFunc(r.steps, func(e Step) bool { return e.Version == s.Version }) {
			panic(fmt.Sprintf("migrate: duplicate step version %d (%q)", s.Version, s.Description))
		}
		r.steps = append(r.steps, s)
	}
	slices.SortFunc(r.steps, func(a, b Step) int { return a.Version - b.Version })
	return r
}

// ///////////////////////////////////////////////
// Public API
// ///////////////////////////////////////////////

// Current returns the schema version documents are upgraded to.
func (r *Registry) Current() int { return r.current }

// Pending reports whether a document at version from needs upgrading.
func (r *Registry) Pending(from int) bool { return from < r.current }

// Upgrade applies every step newer than from, in order, and returns the
// version reached. Documents newer than the registry are rejected so an old
// binary never rewrites a file it does not understand.
func (r *Registry) Upgrade(doc Doc, from int) (int, error) {
	if from > r.current {
		return from, fmt.Errorf("document version %d is newer than supported version %d", from, r.current)
	}
	version := from
	for _, s := range r.steps {
		if s.Version <= version {
			continue
		}
		slog.Info("applying migration", "version", s.Version, "description", s.Description)
		if err := s.Apply(doc); err != nil {
			return version, fmt.Errorf("migration to v%d failed: %w", s.Version, err)
		}
		version = s.Version
	}
	if version < r.current {
		version = r.current
	}
	doc["version"] = int64(version)
	return version, nil
}

// ///////////////////////////////////////////////
// Tree Helpers
// ///////////////////////////////////////////////

// Table returns the nested table at key, or nil when absent or not a table.
func Table(doc Doc, key string) Doc {
	t, _ := doc[key].(map[string]any)
	return t
}

// Move relocates doc[fromTable][fromKey] to doc[toKey] at the top level
// unless toKey is already set. Empty source tables are removed.
func Move(doc Doc, fromTable, fromKey, toKey string) {
	t := Table(doc, fromTable)
	if t == nil {
		return
	}
	if v, ok := t[fromKey]; ok {
		if _, exists := doc[toKey]; !exists {
			doc[toKey] = v
		}
		delete(t, fromKey)
	}
	if len(t) == 0 {
		delete(doc, fromTable)
	}
}
