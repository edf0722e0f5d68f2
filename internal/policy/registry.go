package policy

import (
	"strings"
	"sync"

	"github.com/agentwarden/agentwarden/internal/gwerror"
)

// Registry stores PolicyModule instances by name and provides the
// register/unregister/lookup operations the engine and config loader use
// to build up the active policy set. Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Module
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Module)}
}

// Register adds a policy module under the given name. It returns
// InvalidName if name is empty or whitespace-only, and DuplicateName if
// a module is already registered under that name — registration never
// silently overwrites.
func (r *Registry) Register(name string, module Module) error {
	if strings.TrimSpace(name) == "" {
		return &gwerror.InvalidName{Name: name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.policies[name]; exists {
		return &gwerror.DuplicateName{Name: name}
	}
	r.policies[name] = module
	return nil
}

// Unregister removes a policy module. It is a no-op if the name is not
// currently registered — callers that only want to ensure a
// clean slate do not need to check IsRegistered first.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.policies, name)
}

// Get returns the module registered under name, or nil if none is
// registered — unknown names are not an error here, mirroring a map
// lookup.
func (r *Registry) Get(name string) Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[name]
}

// All returns a snapshot copy of every registered module, keyed by name.
// Mutating the returned map does not affect the registry.
func (r *Registry) All() map[string]Module {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Module, len(r.policies))
	for k, v := range r.policies {
		out[k] = v
	}
	return out
}

// IsRegistered reports whether name currently has a module registered.
func (r *Registry) IsRegistered(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.policies[name]
	return ok
}

// Names returns the names of every registered module, in no particular
// order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.policies))
	for name := range r.policies {
		out = append(out, name)
	}
	return out
}

// Clear removes every registered module.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies = make(map[string]Module)
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.policies)
}
