package rename

import (
	"context"

	"github.com/oncutf/oncutf/internal/metadata"
	"github.com/oncutf/oncutf/internal/scan"
)

// Module is one fragment generator in the rename chain. Modules are pure:
// they contribute a piece of the new stem and never touch the filesystem,
// which keeps repeated preview runs cheap and modules testable in isolation.
//
// index is the file's position within the ordered batch; meta is nil when
// no metadata was loaded for the file.
type Module interface {
	// IsEffective reports whether the module contributes any text under its
	// current configuration.
	IsEffective() bool
	Apply(entry scan.FileEntry, index int, meta *metadata.Record) string
}

// MetadataDependent is implemented by modules that need extracted metadata.
// The engine only runs a batch load when at least one effective module
// reports a dependency.
type MetadataDependent interface {
	NeedsMetadata() bool
}

// Request carries one preview/execute invocation. The engine never mutates
// the caller's slices.
type Request struct {
	Entries   []scan.FileEntry
	Modules   []Module
	Transform NameTransform
	// Extended requests extended metadata extraction for metadata modules.
	Extended bool
	// AbortOnInvalid stops execution at the first per-file failure instead
	// of continuing with the remaining valid files.
	AbortOnInvalid bool
}

// PreviewResult is one (old name, new name) candidate with its validation
// outcome. Results preserve batch input order.
type PreviewResult struct {
	Entry    scan.FileEntry
	OldName  string
	NewName  string
	Valid    bool
	Conflict bool
	Err      error
}

// RenamePair records one executed rename.
type RenamePair struct {
	OldPath string
	NewPath string
}

// SkippedFile records a file left untouched during execution, with the
// reason (unchanged name, invalid candidate, resolver decision).
type SkippedFile struct {
	Entry  scan.FileEntry
	Reason string
}

// FailedFile records a per-file execution failure.
type FailedFile struct {
	Entry scan.FileEntry
	Err   error
}

// ExecutionResult is the consolidated outcome of one execute call. Per-file
// errors are collected here, never raised as batch-fatal.
type ExecutionResult struct {
	BatchID   string
	Renamed   []RenamePair
	Skipped   []SkippedFile
	Failed    []FailedFile
	Aborted   bool
	Cancelled bool
}

// Decision is the caller's answer to an execution-time conflict.
type Decision int

const (
	DecisionSkip Decision = iota
	DecisionSkipAll
	DecisionOverwrite
	DecisionAbort
)

// Conflict describes a target that already exists on disk and is not part
// of the rename set.
type Conflict struct {
	OldPath string
	NewPath string
}

// ConflictResolver supplies the synchronous decision the engine needs
// before it continues past a conflicting file. The engine never guesses.
type ConflictResolver interface {
	Resolve(ctx context.Context, conflict Conflict) Decision
}

// ConflictResolverFunc adapts a function to the ConflictResolver interface.
type ConflictResolverFunc func(ctx context.Context, conflict Conflict) Decision

func (f ConflictResolverFunc) Resolve(ctx context.Context, conflict Conflict) Decision {
	return f(ctx, conflict)
}

// HistoryRecorder persists executed renames for undo support.
type HistoryRecorder interface {
	RecordBatch(ctx context.Context, batchID string, renames []RenamePair) error
}
