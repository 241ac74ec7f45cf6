// Package blob implements the content-addressed side-store for large
// opaque payloads referenced from documents by Pointer (spec §4.2, §3).
// The registry/Resolver shape is grounded on the teacher's
// internal/repo.Repository interface-plus-mock pattern; fetch results are
// cached using the teacher's internal/cache.Cache verbatim (content
// addressing makes cached fetches always valid, unlike the store's ACL
// checks which must stay uncached per spec §4.3).
package blob

import (
	"context"
	"time"

	"github.com/jra3/contexthub/internal/cache"
	"github.com/jra3/contexthub/internal/errs"
)

// Resolver handles one pointer_type's store/fetch contract (spec §4.2).
type Resolver interface {
	Store(ctx context.Context, target string, data []byte) error
	Fetch(ctx context.Context, target string) ([]byte, error)
}

// Registry maps pointer_type -> Resolver and is what the document store
// holds (spec §4.3: "Holds ... registered resolvers").
type Registry struct {
	resolvers map[string]Resolver
	fetchCache *cache.Cache[[]byte]
}

// NewRegistry builds an empty registry. Fetched bytes are cached for ttl
// (0 disables caching); maxEntries bounds cache size.
func NewRegistry(ttl time.Duration, maxEntries int) *Registry {
	var c *cache.Cache[[]byte]
	if ttl > 0 {
		c = cache.New[[]byte](ttl, maxEntries)
	}
	return &Registry{resolvers: make(map[string]Resolver), fetchCache: c}
}

// Register installs resolver for pointerType.
func (r *Registry) Register(pointerType string, resolver Resolver) {
	r.resolvers[pointerType] = resolver
}

// Store writes bytes for target under pointerType's resolver.
func (r *Registry) Store(ctx context.Context, pointerType, target string, data []byte) error {
	resolver, ok := r.resolvers[pointerType]
	if !ok {
		return errs.Msg("blob.store", errs.NoResolver, "no resolver registered for pointer_type %q", pointerType)
	}
	if err := resolver.Store(ctx, target, data); err != nil {
		return errs.Wrap("blob.store", errs.ResolveFailed, err)
	}
	if r.fetchCache != nil {
		r.fetchCache.Set(cacheKey(pointerType, target), data)
	}
	return nil
}

// Fetch resolves target under pointerType's resolver, opaque to the
// caller beyond the NoResolver/ResolveFailed distinction (spec §4.2).
func (r *Registry) Fetch(ctx context.Context, pointerType, target string) ([]byte, error) {
	key := cacheKey(pointerType, target)
	if r.fetchCache != nil {
		if data, ok := r.fetchCache.Get(key); ok {
			return data, nil
		}
	}

	resolver, ok := r.resolvers[pointerType]
	if !ok {
		return nil, errs.Msg("blob.fetch", errs.NoResolver, "no resolver registered for pointer_type %q", pointerType)
	}
	data, err := resolver.Fetch(ctx, target)
	if err != nil {
		return nil, errs.Wrap("blob.fetch", errs.ResolveFailed, err)
	}
	if r.fetchCache != nil {
		r.fetchCache.Set(key, data)
	}
	return data, nil
}

func cacheKey(pointerType, target string) string {
	return pointerType + ":" + target
}
