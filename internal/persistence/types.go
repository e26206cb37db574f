package persistence

import "time"

// MetadataRow is one persistent cache entry: the serialized field map for a
// file plus the modification-time fingerprint it was extracted under. A row
// is only trusted while the fingerprint matches the file on disk; the cache
// layer enforces that rule.
type MetadataRow struct {
	Path        string
	Fields      map[string]any
	Extended    bool
	Fingerprint int64
	ExtractedAt time.Time
}

// HistoryEntry records one executed rename for undo support. Entries that
// belong to the same execute call share a batch ID.
type HistoryEntry struct {
	ID        int64
	BatchID   string
	OldPath   string
	NewPath   string
	RenamedAt time.Time
	Undone    bool
}

// BatchSummary aggregates the history entries of one rename batch.
type BatchSummary struct {
	BatchID   string
	FileCount int
	RenamedAt time.Time
	Undone    bool
}
