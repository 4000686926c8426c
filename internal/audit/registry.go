// Package audit implements the CID hunter: it tracks who claimed pin
// payments for content we published, periodically verifies those pinners
// are actually serving it, and flags the ones that are not.
package audit

import (
	"context"
	"log"
	"time"

	"github.com/pintheon/pinner/internal/models"
	"github.com/pintheon/pinner/internal/store"
)

// RegistrySource reads pinner registry entries from the chain.
type RegistrySource interface {
	GetPinner(ctx context.Context, address string) (*models.ParticipantData, error)
}

// Registry caches on-chain pinner node details (node ID, multiaddr) in
// the state store so verification sweeps don't hit the chain for every
// pair. Entries expire after the TTL.
type Registry struct {
	store  *store.Store
	source RegistrySource
	ttl    time.Duration
	logger *log.Logger
}

// NewRegistry returns a registry cache backed by the state store.
func NewRegistry(st *store.Store, source RegistrySource, ttl time.Duration) *Registry {
	return &Registry{
		store:  st,
		source: source,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[REGISTRY] ", log.LstdFlags),
	}
}

// PinnerInfo returns a pinner's node details, refreshing from chain when
// the cache entry is missing or stale. A nil result means the address is
// not a registered pinner.
func (r *Registry) PinnerInfo(ctx context.Context, address string) (*models.ParticipantInfo, error) {
	cached, err := r.store.CachedPinner(address)
	if err != nil {
		return nil, err
	}
	if cached != nil && time.Since(cached.CachedAt) <= r.ttl {
		return cached, nil
	}
	return r.Refresh(ctx, address)
}

// Refresh fetches a pinner's registry entry from chain and caches it.
func (r *Registry) Refresh(ctx context.Context, address string) (*models.ParticipantInfo, error) {
	pinner, err := r.source.GetPinner(ctx, address)
	if err != nil {
		return nil, err
	}
	if pinner == nil {
		return nil, nil
	}

	info := models.ParticipantInfo{
		Address:   pinner.Address,
		NodeID:    pinner.NodeID,
		Multiaddr: pinner.Multiaddr,
		Active:    pinner.Active,
		CachedAt:  time.Now().UTC(),
	}
	if err := r.store.CachePinner(info); err != nil {
		return nil, err
	}
	return &info, nil
}
