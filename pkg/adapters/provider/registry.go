package provider

import (
	"fmt"
	"sort"

	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// Registration binds a source type to its collector and optional validator.
type Registration struct {
	Type      models.SourceType
	Collector Collector
	Validator Validator // nil when the provider has no live credential check
}

// Registry is the fixed mapping from source type to provider implementation.
// It is built once at startup and read-only afterwards.
type Registry struct {
	entries map[models.SourceType]*entry
}

type entry struct {
	reg     Registration
	catalog *CatalogEntry
}

// NewRegistry pairs each registration with its catalog entry. Every
// registered type must appear in the catalog.
func NewRegistry(catalog map[models.SourceType]*CatalogEntry, regs ...Registration) (*Registry, error) {
	r := &Registry{entries: make(map[models.SourceType]*entry, len(regs))}
	for _, reg := range regs {
		if reg.Collector == nil {
			return nil, fmt.Errorf("provider %q has no collector", reg.Type)
		}
		if _, dup := r.entries[reg.Type]; dup {
			return nil, fmt.Errorf("provider %q registered twice", reg.Type)
		}
		cat, ok := catalog[reg.Type]
		if !ok {
			return nil, fmt.Errorf("provider %q missing from catalog", reg.Type)
		}
		r.entries[reg.Type] = &entry{reg: reg, catalog: cat}
	}
	return r, nil
}

// Collector returns the collector for t.
func (r *Registry) Collector(t models.SourceType) (Collector, bool) {
	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	return e.reg.Collector, true
}

// Validator returns the validator for t, if the provider has one.
func (r *Registry) Validator(t models.SourceType) (Validator, bool) {
	e, ok := r.entries[t]
	if !ok || e.reg.Validator == nil {
		return nil, false
	}
	return e.reg.Validator, true
}

// Catalog returns the catalog entry for t.
func (r *Registry) Catalog(t models.SourceType) (*CatalogEntry, bool) {
	e, ok := r.entries[t]
	if !ok {
		return nil, false
	}
	return e.catalog, true
}

// IsRegistered reports whether t has an implementation.
func (r *Registry) IsRegistered(t models.SourceType) bool {
	_, ok := r.entries[t]
	return ok
}

// Providers returns catalog info for every registered provider, sorted by type.
func (r *Registry) Providers() []Info {
	result := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		result = append(result, e.catalog.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}
