package executor

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Info pairs a registered scheme with the renderer's capabilities.
type Info struct {
	Scheme       string       `json:"scheme"`
	Capabilities Capabilities `json:"capabilities"`
}

// Registry holds registered executors and resolves which one handles a given
// definition URI based on its scheme.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{
		executors: make(map[string]Executor),
	}
}

// Register adds an executor to the registry under the given URI scheme.
func (r *Registry) Register(scheme string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[scheme] = e
}

// Scheme extracts the scheme from a definition URI. Definition URIs take the
// form scheme://rest, e.g. builtin://tabular.
func Scheme(definitionURI string) (string, error) {
	scheme, _, found := strings.Cut(definitionURI, "://")
	if !found || scheme == "" {
		return "", fmt.Errorf("definition uri %q has no scheme", definitionURI)
	}
	return scheme, nil
}

// Resolve returns the executor registered for the definition URI's scheme.
func (r *Registry) Resolve(definitionURI string) (Executor, error) {
	scheme, err := Scheme(definitionURI)
	if err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.executors[scheme]
	if !ok {
		return nil, fmt.Errorf("no executor registered for scheme %q", scheme)
	}
	return e, nil
}

// List returns information about all registered executors, sorted by scheme
// for a stable API response.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.executors))
	for scheme, e := range r.executors {
		infos = append(infos, Info{
			Scheme:       scheme,
			Capabilities: e.Capabilities(),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Scheme < infos[j].Scheme
	})
	return infos
}
