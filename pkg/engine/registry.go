package engine

import (
	"maps"
	"slices"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
)

// Registry maps operator type names (the "op" field of ops.json) to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry seeded with the given factories.
func NewRegistry(factories map[string]Factory) *Registry {
	r := &Registry{factories: make(map[string]Factory, len(factories))}
	for name, f := range factories {
		r.Register(name, f)
	}
	return r
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Lookup returns the factory registered for name.
func (r *Registry) Lookup(name string) (Factory, error) {
	f, found := r.factories[name]
	if !found || f == nil {
		return nil, errdefs.Newf(errdefs.ErrUnknownOperator, "operator type %q is not registered (known: %v)", name, r.Names())
	}
	return f, nil
}

// Names returns the registered operator types in sorted order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.factories))
}
