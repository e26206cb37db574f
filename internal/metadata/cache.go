package metadata

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/oncutf/oncutf/internal/persistence"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/log"
)

// Store is the persistent tier contract, implemented by
// persistence.SQLiteStore.
type Store interface {
	GetMetadata(ctx context.Context, path string) (persistence.MetadataRow, bool, error)
	PutMetadata(ctx context.Context, row persistence.MetadataRow) error
	InvalidateMetadata(ctx context.Context, path string) error
}

// Cache serves metadata lookups cache-first across two tiers: a bounded
// in-process LRU for the session, and an optional persistent store that
// survives restarts. A hit in either tier is trusted only while the stored
// fingerprint matches the file's current modification time.
type Cache struct {
	memory *lru.Cache[string, Record]
	store  Store
}

// NewCache builds a cache with the given memory-tier capacity. A nil store
// yields a memory-only cache, which is what tests normally use.
func NewCache(memoryEntries int, store Store) (*Cache, error) {
	if memoryEntries <= 0 {
		memoryEntries = 1000
	}
	memory, err := lru.New[string, Record](memoryEntries)
	if err != nil {
		return nil, err
	}
	return &Cache{
		memory: memory,
		store:  store,
	}, nil
}

// Get returns a valid cached record for the file, if any. A persistent-tier
// hit is promoted into the memory tier. A fast-mode record does not satisfy
// a request for extended metadata.
func (c *Cache) Get(ctx context.Context, path string, extended bool) (Record, bool) {
	normalized := file.NormalizePath(path)
	fingerprint, err := Fingerprint(normalized)
	if err != nil {
		return Record{}, false
	}

	if record, ok := c.memory.Get(normalized); ok {
		if c.valid(record, fingerprint, extended) {
			return record, true
		}
		c.memory.Remove(normalized)
	}

	if c.store == nil {
		return Record{}, false
	}
	row, ok, err := c.store.GetMetadata(ctx, normalized)
	if err != nil {
		log.Error("Failed to read metadata cache for %s: %v", normalized, err)
		return Record{}, false
	}
	if !ok {
		return Record{}, false
	}

	record := Record{
		Fields:      row.Fields,
		Extended:    row.Extended,
		ExtractedAt: row.ExtractedAt,
		Fingerprint: row.Fingerprint,
	}
	if !c.valid(record, fingerprint, extended) {
		return Record{}, false
	}
	c.memory.Add(normalized, record)
	return record, true
}

// Put writes a record through to both tiers.
func (c *Cache) Put(ctx context.Context, path string, record Record) {
	normalized := file.NormalizePath(path)
	c.memory.Add(normalized, record)

	if c.store == nil {
		return
	}
	row := persistence.MetadataRow{
		Path:        normalized,
		Fields:      record.Fields,
		Extended:    record.Extended,
		Fingerprint: record.Fingerprint,
		ExtractedAt: record.ExtractedAt,
	}
	if err := c.store.PutMetadata(ctx, row); err != nil {
		log.Error("Failed to persist metadata for %s: %v", normalized, err)
	}
}

// Invalidate drops the record for a file from both tiers.
func (c *Cache) Invalidate(ctx context.Context, path string) {
	normalized := file.NormalizePath(path)
	c.memory.Remove(normalized)

	if c.store == nil {
		return
	}
	if err := c.store.InvalidateMetadata(ctx, normalized); err != nil {
		log.Error("Failed to invalidate metadata for %s: %v", normalized, err)
	}
}

func (c *Cache) valid(record Record, fingerprint int64, extended bool) bool {
	if record.Fingerprint != fingerprint {
		return false
	}
	if extended && !record.Extended {
		return false
	}
	return true
}
