package rename

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// previewCache memoizes the last preview computation for a short TTL. It
// exists to coalesce redundant recomputation triggered by rapid repeated
// calls while a configuration is being typed; it affects latency, not
// semantics, and any key change invalidates immediately.
type previewCache struct {
	ttl    time.Duration
	flight singleflight.Group

	mu       sync.Mutex
	key      string
	storedAt time.Time
	results  []PreviewResult
}

func newPreviewCache(ttl time.Duration) *previewCache {
	return &previewCache{ttl: ttl}
}

func (c *previewCache) enabled() bool {
	return c.ttl > 0
}

func (c *previewCache) get(key string) ([]PreviewResult, bool) {
	if !c.enabled() {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key != key || time.Since(c.storedAt) >= c.ttl {
		return nil, false
	}
	return slices.Clone(c.results), true
}

func (c *previewCache) put(key string, results []PreviewResult) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	c.key = key
	c.storedAt = time.Now()
	c.results = slices.Clone(results)
	c.mu.Unlock()
}

// do coalesces concurrent computations of the same key through
// singleflight; only one caller actually composes, the rest share the
// result.
func (c *previewCache) do(key string, compute func() ([]PreviewResult, error)) ([]PreviewResult, error) {
	if !c.enabled() {
		return compute()
	}
	v, err, _ := c.flight.Do(key, func() (any, error) {
		if cached, ok := c.get(key); ok {
			return cached, nil
		}
		results, err := compute()
		if err != nil {
			return nil, err
		}
		c.put(key, results)
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]PreviewResult)), nil
}

// fragmentCache memoizes module fragments for a very short TTL so a UI
// update burst does not recompute identical (module, file, index) triples.
// Safe to bypass entirely; never correctness-bearing.
type fragmentCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]fragmentEntry
}

type fragmentEntry struct {
	value    string
	storedAt time.Time
}

const fragmentCacheMaxEntries = 4096

func newFragmentCache(ttl time.Duration) *fragmentCache {
	return &fragmentCache{
		ttl:     ttl,
		entries: make(map[string]fragmentEntry),
	}
}

func (c *fragmentCache) enabled() bool {
	return c.ttl > 0
}

func (c *fragmentCache) get(key string) (string, bool) {
	if !c.enabled() {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storedAt) >= c.ttl {
		return "", false
	}
	return entry.value, true
}

func (c *fragmentCache) put(key string, value string) {
	if !c.enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= fragmentCacheMaxEntries {
		c.pruneLocked()
	}
	c.entries[key] = fragmentEntry{value: value, storedAt: time.Now()}
}

func (c *fragmentCache) pruneLocked() {
	for key, entry := range c.entries {
		if time.Since(entry.storedAt) >= c.ttl {
			delete(c.entries, key)
		}
	}
	// Still full of fresh entries; drop everything rather than track LRU
	// order for a cache this short-lived.
	if len(c.entries) >= fragmentCacheMaxEntries {
		c.entries = make(map[string]fragmentEntry)
	}
}

// previewKey hashes everything the compose step depends on: the ordered
// file identities (path + mtime), every module configuration, the final
// transform, and the extraction mode.
func previewKey(req Request) string {
	hash := sha256.New()
	for _, entry := range req.Entries {
		fmt.Fprintf(hash, "%s|%d|%d\n", entry.Path, entry.Size, entry.ModTime.UnixNano())
	}
	for _, module := range req.Modules {
		fmt.Fprintf(hash, "%s\n", moduleKey(module))
	}
	fmt.Fprintf(hash, "%+v|%t\n", req.Transform, req.Extended)
	return hex.EncodeToString(hash.Sum(nil))
}

// moduleKey derives a deterministic configuration key for a module. Modules
// are plain value structs, so their printed form captures the full config.
func moduleKey(module Module) string {
	return fmt.Sprintf("%T%+v", module, module)
}

func fragmentKey(module Module, path string, index int) string {
	return fmt.Sprintf("%s|%s|%d", moduleKey(module), path, index)
}
