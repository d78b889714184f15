package generation

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/always-cache/offline-cache/cache"
	classifier "github.com/always-cache/offline-cache/pkg/request-classifier"

	"github.com/rs/zerolog"
)

const DefaultPrefix = "offline-cache"

// Categories lists the store categories owned by every generation.
var Categories = []classifier.Category{classifier.Static, classifier.Dynamic, classifier.Image}

// Generation is the set of named stores belonging to one version tag.
type Generation struct {
	Prefix  string
	Version string
}

// StoreName returns the name of the store for the given category,
// e.g. `offline-cache-static-v2`.
func (g Generation) StoreName(category classifier.Category) string {
	return g.Prefix + "-" + category.String() + "-" + g.Version
}

// StoreNames returns the names of all stores owned by the generation.
func (g Generation) StoreNames() []string {
	names := make([]string, 0, len(Categories))
	for _, c := range Categories {
		names = append(names, g.StoreName(c))
	}
	return names
}

// Owns reports whether the named store belongs to this generation.
func (g Generation) Owns(name string) bool {
	_, version, ok := ParseStoreName(g.Prefix, name)
	return ok && version == g.Version
}

// ParseStoreName splits a store name following the generation naming scheme.
// ok is false for stores that do not follow the scheme.
func ParseStoreName(prefix, name string) (category classifier.Category, version string, ok bool) {
	rest, found := strings.CutPrefix(name, prefix+"-")
	if !found {
		return classifier.Ignored, "", false
	}
	for _, c := range Categories {
		if v, found := strings.CutPrefix(rest, c.String()+"-"); found && v != "" {
			return c, v, true
		}
	}
	return classifier.Ignored, "", false
}

// Manager tracks which stores belong to which generation and deletes stale ones.
type Manager struct {
	cache  cache.CacheProvider
	prefix string
	log    zerolog.Logger
}

func NewManager(provider cache.CacheProvider, prefix string, logger zerolog.Logger) Manager {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Manager{
		cache:  provider,
		prefix: prefix,
		log:    logger.With().Str("component", "generations").Logger(),
	}
}

// Generation returns the generation handle for a version tag.
func (m Manager) Generation(version string) Generation {
	return Generation{Prefix: m.prefix, Version: version}
}

// Open opens the store of the given category, creating it if needed.
func (m Manager) Open(g Generation, category classifier.Category) (cache.Store, error) {
	return m.cache.Open(g.StoreName(category))
}

// Versions returns the version tags that currently own at least one store.
func (m Manager) Versions() ([]string, error) {
	names, err := m.cache.Stores()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	versions := make([]string, 0)
	for _, name := range names {
		if _, version, ok := ParseStoreName(m.prefix, name); ok && !seen[version] {
			seen[version] = true
			versions = append(versions, version)
		}
	}
	return versions, nil
}

// Stale returns the names of all stores that follow the naming scheme
// but belong to a version other than current or one of keep.
// Stores outside the naming scheme are never reported.
func (m Manager) Stale(current string, keep ...string) ([]string, error) {
	names, err := m.cache.Stores()
	if err != nil {
		return nil, fmt.Errorf("list stores: %w", err)
	}
	stale := make([]string, 0)
	for _, name := range names {
		if _, version, ok := ParseStoreName(m.prefix, name); ok && version != current && !slices.Contains(keep, version) {
			stale = append(stale, name)
		}
	}
	return stale, nil
}

// Collect deletes every stale store and returns the names that were deleted.
// It attempts every deletion even if some fail; the failures are joined into the error.
func (m Manager) Collect(current string, keep ...string) ([]string, error) {
	stale, err := m.Stale(current, keep...)
	if err != nil {
		return nil, err
	}
	deleted := make([]string, 0, len(stale))
	var errs []error
	for _, name := range stale {
		err := m.cache.Delete(name)
		if err != nil && !errors.Is(err, cache.ErrStoreNotFound) {
			m.log.Error().Err(err).Str("store", name).Msg("Could not delete old store")
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			continue
		}
		m.log.Debug().Str("store", name).Msg("Deleted old store")
		deleted = append(deleted, name)
	}
	return deleted, errors.Join(errs...)
}
