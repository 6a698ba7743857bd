package offeracq

import (
	"fmt"
	"sort"

	"github.com/supplychainopt/decision-pipeline/internal/config"
	"github.com/supplychainopt/decision-pipeline/internal/domain"
)

// Registry holds the set of offer sources a scraper run fans out to,
// keyed by their Name(). Callers register sources at startup and the
// Service iterates the full set on every run.
type Registry struct {
	sources map[string]domain.OfferSource
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]domain.OfferSource)}
}

// Register adds a source, overwriting any existing source with the same name.
func (r *Registry) Register(source domain.OfferSource) {
	r.sources[source.Name()] = source
}

// Get returns the source registered under name.
func (r *Registry) Get(name string) (domain.OfferSource, error) {
	s, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("op=offeracq.Registry.Get: source %q: %w", name, domain.ErrNotFound)
	}
	return s, nil
}

// Names returns the registered source names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every registered source in name-sorted order, for fan-out.
func (r *Registry) All() []domain.OfferSource {
	names := r.Names()
	sources := make([]domain.OfferSource, 0, len(names))
	for _, name := range names {
		sources = append(sources, r.sources[name])
	}
	return sources
}

// Subset returns a new Registry containing only the named sources that
// exist in r; unknown names are silently ignored. An empty names list
// returns r itself, since "no restriction" means "every source".
func (r *Registry) Subset(names []string) *Registry {
	if len(names) == 0 {
		return r
	}
	sub := NewRegistry()
	for _, name := range names {
		if s, err := r.Get(name); err == nil {
			sub.Register(s)
		}
	}
	return sub
}

// NewRegistryFromProfiles builds a Registry with one SyntheticSource per
// configured profile, the default wiring used outside of tests.
func NewRegistryFromProfiles(profiles []config.SourceProfile) *Registry {
	r := NewRegistry()
	for _, p := range profiles {
		r.Register(NewSyntheticSource(p))
	}
	return r
}
