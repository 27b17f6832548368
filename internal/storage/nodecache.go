package storage

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"

	"github.com/vitaliisemenov/dbsync/internal/model"
)

// CachingStore wraps a Store and caches NodeByID lookups, since a push
// or pull round looks a node's secret up at least once per round and
// a node's secret never changes after registration.
type CachingStore struct {
	Store
	nodes *lru.Cache[uuid.UUID, model.Node]
}

// NewCachingStore wraps store with an LRU cache holding up to size
// recently-seen nodes.
func NewCachingStore(store Store, size int) (*CachingStore, error) {
	cache, err := lru.New[uuid.UUID, model.Node](size)
	if err != nil {
		return nil, err
	}
	return &CachingStore{Store: store, nodes: cache}, nil
}

// NodeByID serves from cache when possible, falling back to the
// wrapped Store and populating the cache on a hit.
func (c *CachingStore) NodeByID(ctx context.Context, nodeID uuid.UUID) (model.Node, bool, error) {
	if node, ok := c.nodes.Get(nodeID); ok {
		return node, true, nil
	}
	node, found, err := c.Store.NodeByID(ctx, nodeID)
	if err != nil || !found {
		return node, found, err
	}
	c.nodes.Add(nodeID, node)
	return node, true, nil
}

// RegisterNode registers through the wrapped Store and seeds the
// cache with the new node so its very first lookup is a hit.
func (c *CachingStore) RegisterNode(ctx context.Context, registryUserID *uuid.UUID) (model.Node, error) {
	node, err := c.Store.RegisterNode(ctx, registryUserID)
	if err != nil {
		return node, err
	}
	c.nodes.Add(node.NodeID, node)
	return node, nil
}
