package index

import "fmt"

// Registry is the keyed map of registered index kinds, built once via the
// fluent RegistryBuilder and treated as read-only afterward.
type Registry struct {
	byKind map[string]Index
}

// Lookup returns the Index registered under kind, if any.
func (r *Registry) Lookup(kind string) (Index, bool) {
	idx, ok := r.byKind[kind]
	return idx, ok
}

// Kinds returns the registered kind strings, for diagnostics.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.byKind))
	for k := range r.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

// RegistryBuilder accumulates index-kind registrations before a client is
// constructed. Not safe for concurrent use; build during startup only.
type RegistryBuilder struct {
	byKind map[string]Index
	built  bool
}

// NewRegistryBuilder creates an empty RegistryBuilder.
func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{byKind: make(map[string]Index)}
}

// Register adds idx under its own Kind(). Returns the builder for
// chaining.
//
// Example:
//
//	reg, err := index.NewRegistryBuilder().
//	    Register(hashindex.New()).
//	    Register(spatial.New()).
//	    Build()
func (b *RegistryBuilder) Register(idx Index) *RegistryBuilder {
	if b.built {
		return b
	}
	b.byKind[idx.Kind()] = idx
	return b
}

// Build finalizes the registry. Can only be called once.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if b.built {
		return nil, fmt.Errorf("index: registry already built")
	}
	b.built = true
	return &Registry{byKind: b.byKind}, nil
}
