package metadata

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/internal/exiftool"
	"github.com/oncutf/oncutf/internal/scan"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/log"
)

// Extractor is the adapter contract the loader dispatches cache misses to.
type Extractor interface {
	ExtractBatch(ctx context.Context, paths []string, extended bool) (map[string]exiftool.Fields, error)
}

// Result is one per-file outcome of a batch load. A failed extraction sets
// Err and leaves the record empty; it never fails the rest of the batch.
type Result struct {
	Entry  scan.FileEntry
	Record Record
	Err    error
}

// extractChunkSize bounds how many paths share one adapter exchange.
// Batching amortizes the per-exchange cost; the chunk stays small enough
// that results keep streaming out while a large batch loads.
const extractChunkSize = 16

// Loader coordinates batch metadata loads: cache hits yield immediately,
// misses are dispatched to the extractor through a bounded worker pool, and
// results stream out in completion order.
type Loader struct {
	cache     *Cache
	extractor Extractor
	workers   int
}

func NewLoader(cache *Cache, extractor Extractor, workers int) *Loader {
	if workers <= 0 {
		workers = 1
	}
	return &Loader{
		cache:     cache,
		extractor: extractor,
		workers:   workers,
	}
}

// LoadBatch streams one Result per input entry. The channel always carries
// exactly len(entries) results and is closed when the batch is done.
// Completion order is not input order; callers re-associate by path.
func (l *Loader) LoadBatch(ctx context.Context, entries []scan.FileEntry, extended bool) <-chan Result {
	results := make(chan Result, len(entries))

	misses := make([]scan.FileEntry, 0)
	for _, entry := range entries {
		if record, ok := l.cache.Get(ctx, entry.Path, extended); ok {
			results <- Result{Entry: entry.WithStatus(scan.StatusLoaded), Record: record}
			continue
		}
		misses = append(misses, entry)
	}
	log.Debug("Batch load: %d cached, %d to extract", len(entries)-len(misses), len(misses))

	if len(misses) == 0 {
		close(results)
		return results
	}

	go func() {
		defer close(results)

		var g errgroup.Group
		g.SetLimit(l.workers)
		chunkEntries(misses, extractChunkSize)(func(chunk []scan.FileEntry) bool {
			g.Go(func() error {
				l.extractChunk(ctx, chunk, extended, results)
				return nil
			})
			return true
		})
		_ = g.Wait()
	}()
	return results
}

func (l *Loader) extractChunk(ctx context.Context, chunk []scan.FileEntry, extended bool, results chan<- Result) {
	// Cooperative cancellation between chunks, never mid-exchange.
	if err := ctx.Err(); err != nil {
		cancelled := errs.Wrap(err, errs.ErrCancelled, "batch load cancelled")
		for _, entry := range chunk {
			results <- Result{Entry: entry.WithError(cancelled.Error()), Err: cancelled}
		}
		return
	}

	paths := make([]string, len(chunk))
	for i, entry := range chunk {
		paths[i] = entry.Path
	}

	fieldsByPath, err := l.extractor.ExtractBatch(ctx, paths, extended)
	if err != nil {
		for _, entry := range chunk {
			results <- Result{Entry: entry.WithError(err.Error()), Err: err}
		}
		return
	}

	now := time.Now()
	for _, entry := range chunk {
		fields, ok := fieldsByPath[file.NormalizePath(entry.Path)]
		if !ok {
			missing := errs.New(errs.ErrExtraction, "no metadata returned").
				WithContext("path", entry.Path)
			results <- Result{Entry: entry.WithError(missing.Error()), Err: missing}
			continue
		}

		fingerprint, fpErr := Fingerprint(entry.Path)
		if fpErr != nil {
			statErr := errs.Wrap(fpErr, errs.ErrExtraction, "fingerprint file").
				WithContext("path", entry.Path)
			results <- Result{Entry: entry.WithError(statErr.Error()), Err: statErr}
			continue
		}

		record := Record{
			Fields:      fields,
			Extended:    extended,
			ExtractedAt: now,
			Fingerprint: fingerprint,
		}
		l.cache.Put(ctx, entry.Path, record)
		results <- Result{Entry: entry.WithStatus(scan.StatusLoaded), Record: record}
	}
}

func chunkEntries(entries []scan.FileEntry, size int) func(yield func([]scan.FileEntry) bool) {
	return func(yield func([]scan.FileEntry) bool) {
		for start := 0; start < len(entries); start += size {
			end := min(start+size, len(entries))
			if !yield(entries[start:end]) {
				return
			}
		}
	}
}
