package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Registry caches the active easter-egg definitions by name.
type Registry struct {
	store  DefinitionStore
	logger *slog.Logger

	mu     sync.RWMutex
	byName map[string]*Definition
}

// NewRegistry creates an empty registry. Call Initialize or Load to fill it.
func NewRegistry(store DefinitionStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  store,
		logger: logger,
		byName: make(map[string]*Definition),
	}
}

// Initialize loads definitions and logs, rather than returns, a store
// failure. On failure the registry stays empty and the engine is dormant.
func (r *Registry) Initialize(ctx context.Context) {
	if err := r.Load(ctx); err != nil {
		r.logger.Error("load easter egg definitions", "error", err)
	}
}

// Load replaces the cached definitions with the active set from the store.
// The cache is cleared before the store call, so a failure leaves it empty.
func (r *Registry) Load(ctx context.Context) error {
	r.mu.Lock()
	r.byName = make(map[string]*Definition)
	r.mu.Unlock()

	defs, err := r.store.ListActiveDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("list active definitions: %w", err)
	}

	byName := make(map[string]*Definition, len(defs))
	for _, d := range defs {
		if !d.IsActive {
			continue
		}
		byName[d.Name] = d
	}

	r.mu.Lock()
	r.byName = byName
	r.mu.Unlock()

	r.logger.Info("easter egg definitions loaded", "count", len(byName))
	return nil
}

// Reload clears the cache and loads it again.
func (r *Registry) Reload(ctx context.Context) error {
	return r.Load(ctx)
}

// Definition returns the named definition, or nil.
func (r *Registry) Definition(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// DefinitionsByType returns the definitions using trigger type t, sorted by name.
func (r *Registry) DefinitionsByType(t TriggerType) []*Definition {
	var out []*Definition
	for _, d := range r.Definitions() {
		if d.TriggerType == t {
			out = append(out, d)
		}
	}
	return out
}

// Definitions returns every cached definition sorted by name.
func (r *Registry) Definitions() []*Definition {
	r.mu.RLock()
	out := make([]*Definition, 0, len(r.byName))
	for _, d := range r.byName {
		out = append(out, d)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
