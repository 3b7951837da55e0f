package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Registry maps method identifiers to providers. It is filled once by
// NewRegistry and never written again, so concurrent Resolve calls need no
// locking.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a registry from the given providers. A nil provider, an
// empty name or a name registered twice is an error; callers are expected to
// abort startup on it.
func NewRegistry(providers ...Provider) (*Registry, error) {
	r := &Registry{providers: make(map[string]Provider, len(providers))}

	for _, p := range providers {
		if p == nil {
			return nil, fmt.Errorf("%w: nil provider", ErrInvalidArgument)
		}
		key := normalizeMethod(p.Name())
		if key == "" {
			return nil, fmt.Errorf("%w: provider name is empty", ErrInvalidArgument)
		}
		if _, exists := r.providers[key]; exists {
			return nil, fmt.Errorf("provider already registered: %s", p.Name())
		}
		r.providers[key] = p
	}

	return r, nil
}

// Resolve returns the provider registered for methodID
func (r *Registry) Resolve(methodID string) (Provider, error) {
	key := normalizeMethod(methodID)
	if key == "" {
		return nil, fmt.Errorf("%w: method is empty", ErrUnknownProvider)
	}
	p, ok := r.providers[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, methodID)
	}
	return p, nil
}

// Names lists the registered method identifiers in sorted order
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

func normalizeMethod(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
