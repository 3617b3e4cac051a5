// Package cache provides the locally persisted entity sets that pulls merge
// into, together with their per-entity sync metadata.
package cache

import (
	"sync"

	"github.com/kimhsiao/catalogsync/internal/models"
	"github.com/kimhsiao/catalogsync/internal/storage"
)

const (
	dataKeyPrefix     = "catalog_cache_"
	metadataKeyPrefix = "catalog_sync_meta_"
)

// DataKey returns the storage key of an entity's cached set.
func DataKey(entity models.Entity) string {
	return dataKeyPrefix + string(entity)
}

// MetadataKey returns the storage key of an entity's sync metadata.
func MetadataKey(entity models.Entity) string {
	return metadataKeyPrefix + string(entity)
}

// Cache reads and writes the cached entity sets. Writes to one entity are
// serialized so a merge is never lost to a concurrent merge.
type Cache struct {
	store storage.Store

	mu    sync.Mutex
	locks map[models.Entity]*sync.Mutex
}

// New creates a Cache over store.
func New(store storage.Store) *Cache {
	return &Cache{
		store: store,
		locks: make(map[models.Entity]*sync.Mutex),
	}
}

func (c *Cache) entityLock(entity models.Entity) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[entity]
	if !ok {
		l = &sync.Mutex{}
		c.locks[entity] = l
	}
	return l
}

// Merge upserts incoming into existing by id: an item whose id is already
// present replaces it at its position, a new id is appended. Neither input
// is modified. Later duplicates in incoming win.
func Merge[T models.Identifiable](existing, incoming []T) []T {
	out := make([]T, len(existing), len(existing)+len(incoming))
	copy(out, existing)

	index := make(map[string]int, len(out))
	for i, item := range out {
		index[item.GetID()] = i
	}

	for _, item := range incoming {
		id := item.GetID()
		if i, ok := index[id]; ok {
			out[i] = item
			continue
		}
		index[id] = len(out)
		out = append(out, item)
	}

	return out
}

// Load returns the cached set for entity, or nil when nothing is cached.
func Load[T any](c *Cache, entity models.Entity) []T {
	var items []T
	storage.LoadJSON(c.store, DataKey(entity), &items)
	return items
}

// Upsert merges incoming into the cached set and persists the result.
// It returns the size of the merged set.
func Upsert[T models.Identifiable](c *Cache, entity models.Entity, incoming ...T) int {
	l := c.entityLock(entity)
	l.Lock()
	defer l.Unlock()

	merged := Merge(Load[T](c, entity), incoming)
	storage.SaveJSON(c.store, DataKey(entity), merged)
	return len(merged)
}

// Delete removes the item with id from the cached set. It reports whether
// the item was present.
func Delete[T models.Identifiable](c *Cache, entity models.Entity, id string) bool {
	l := c.entityLock(entity)
	l.Lock()
	defer l.Unlock()

	items := Load[T](c, entity)
	for i, item := range items {
		if item.GetID() == id {
			items = append(items[:i], items[i+1:]...)
			storage.SaveJSON(c.store, DataKey(entity), items)
			return true
		}
	}
	return false
}

// Metadata returns the sync metadata for entity; the zero value when none
// is stored (full pull, version 0).
func (c *Cache) Metadata(entity models.Entity) models.SyncMetadata {
	var md models.SyncMetadata
	storage.LoadJSON(c.store, MetadataKey(entity), &md)
	return md
}

// SetMetadata persists the sync metadata for entity.
func (c *Cache) SetMetadata(entity models.Entity, md models.SyncMetadata) {
	storage.SaveJSON(c.store, MetadataKey(entity), md)
}

// ResetMetadata forgets the last sync time of entity so the next pull is a
// full one. Cached data is kept.
func (c *Cache) ResetMetadata(entity models.Entity) {
	storage.RemoveKey(c.store, MetadataKey(entity))
}

// Reset drops both the cached set and the metadata of entity.
func (c *Cache) Reset(entity models.Entity) {
	l := c.entityLock(entity)
	l.Lock()
	defer l.Unlock()

	storage.RemoveKey(c.store, DataKey(entity))
	storage.RemoveKey(c.store, MetadataKey(entity))
}
