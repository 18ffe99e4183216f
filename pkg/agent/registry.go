package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ternhq/tern/pkg/protocol"
)

// Factory builds one agent instance for a session.
type Factory func() (Agent, error)

// Registry is the closed set of known agent kinds. It is populated once at
// startup; resolution happens once per session, at session-start time.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	skills    map[string]map[string]bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		skills:    make(map[string]map[string]bool),
	}
}

// Register adds an agent kind with the skills it supports.
func (r *Registry) Register(kind string, skills []string, factory Factory) error {
	if kind == "" {
		return fmt.Errorf("agent kind cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory cannot be nil")
	}

	skillSet := make(map[string]bool, len(skills))
	for _, s := range skills {
		skillSet[s] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[kind]; exists {
		return fmt.Errorf("agent kind %q already registered", kind)
	}
	r.factories[kind] = factory
	r.skills[kind] = skillSet
	return nil
}

// ReplaceAll swaps the registered kinds for those of src. Sessions keep the
// agent instance they already resolved; only future resolutions see the new
// catalog.
func (r *Registry) ReplaceAll(src *Registry) {
	src.mu.RLock()
	factories := make(map[string]Factory, len(src.factories))
	for kind, factory := range src.factories {
		factories[kind] = factory
	}
	skills := make(map[string]map[string]bool, len(src.skills))
	for kind, set := range src.skills {
		copied := make(map[string]bool, len(set))
		for skill, enabled := range set {
			copied[skill] = enabled
		}
		skills[kind] = copied
	}
	src.mu.RUnlock()

	r.mu.Lock()
	r.factories = factories
	r.skills = skills
	r.mu.Unlock()
}

// Resolve builds an agent instance for the kind, or fails with
// AGENT_NOT_FOUND.
func (r *Registry) Resolve(kind string) (Agent, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()

	if !ok {
		return nil, protocol.NewAPIError(protocol.CodeAgentNotFound, "unknown agent type: %s", kind)
	}
	return factory()
}

// Has reports whether the kind is registered.
func (r *Registry) Has(kind string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[kind]
	return ok
}

// HasSkill reports whether the kind supports the skill.
func (r *Registry) HasSkill(kind, skill string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.skills[kind][skill]
}

// Kinds returns the registered agent kinds, sorted.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}
