// Package identity resolves sender ids to display identities through a
// session-scoped TTL cache. Entries expire after a fixed TTL (minutes) and
// are then treated as misses; beyond the TTL no eviction is needed because
// the working set is bounded by the distinct senders in view.
//
// The cache is an explicitly constructed object with a defined lifetime (one
// per client session), not an ambient singleton.
package identity

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/terply/chat-backend/internal/domain"
)

// SenderCache is a TTL cache of resolved sender identities keyed by sender
// id. Safe for concurrent use within one process; not shared across
// processes.
type SenderCache struct {
	c *gocache.Cache
}

// NewSenderCache returns a cache whose entries live for ttl.
func NewSenderCache(ttl time.Duration) *SenderCache {
	// Expired entries are purged opportunistically at twice the TTL; lookups
	// never return expired values regardless of the janitor cadence.
	return &SenderCache{c: gocache.New(ttl, 2*ttl)}
}

// Get returns the cached identity for id, or nil on a miss (including
// expiry).
func (s *SenderCache) Get(id string) *domain.SenderIdentity {
	if v, ok := s.c.Get(id); ok {
		ident := v.(domain.SenderIdentity)
		return &ident
	}
	return nil
}

// BatchGet partitions ids into cached hits and misses to refetch.
func (s *SenderCache) BatchGet(ids []string) (hits map[string]domain.SenderIdentity, misses []string) {
	hits = make(map[string]domain.SenderIdentity, len(ids))
	for _, id := range ids {
		if v, ok := s.c.Get(id); ok {
			hits[id] = v.(domain.SenderIdentity)
		} else {
			misses = append(misses, id)
		}
	}
	return hits, misses
}

// Put stores one identity under its id with the default TTL.
func (s *SenderCache) Put(ident domain.SenderIdentity) {
	s.c.SetDefault(ident.ID, ident)
}

// BatchPut stores a batch of identities.
func (s *SenderCache) BatchPut(idents []domain.SenderIdentity) {
	for _, ident := range idents {
		s.Put(ident)
	}
}

// IdentityStore fetches identities for a set of sender ids in one query.
type IdentityStore interface {
	FetchIdentities(ctx context.Context, ids []string) ([]domain.SenderIdentity, error)
}

// Resolver composes the SenderCache with an IdentityStore: cache hits are
// served locally, misses are fetched in batch and back-filled.
type Resolver struct {
	Cache *SenderCache
	Store IdentityStore
}

// NewResolver builds a Resolver over cache and store.
func NewResolver(cache *SenderCache, store IdentityStore) *Resolver {
	return &Resolver{Cache: cache, Store: store}
}

// Resolve returns the identity for a single sender id, consulting the cache
// first. An id unknown to the store resolves to nil without error.
func (r *Resolver) Resolve(ctx context.Context, id string) (*domain.SenderIdentity, error) {
	got, err := r.ResolveBatch(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	if ident, ok := got[id]; ok {
		return &ident, nil
	}
	return nil, nil
}

// ResolveBatch resolves a set of ids, fetching only the cache misses. The
// returned map omits ids the store does not know.
func (r *Resolver) ResolveBatch(ctx context.Context, ids []string) (map[string]domain.SenderIdentity, error) {
	hits, misses := r.Cache.BatchGet(ids)
	if len(misses) == 0 {
		return hits, nil
	}
	fetched, err := r.Store.FetchIdentities(ctx, misses)
	if err != nil {
		return nil, err
	}
	r.Cache.BatchPut(fetched)
	for _, ident := range fetched {
		hits[ident.ID] = ident
	}
	return hits, nil
}
