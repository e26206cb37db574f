package rename

import (
	"context"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/internal/metadata"
	"github.com/oncutf/oncutf/internal/scan"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/log"
)

// Engine composes module outputs into candidate filenames, validates them,
// and executes confirmed renames. Collaborators are injected so the engine
// can run against mock caches and adapters in tests.
type Engine struct {
	loader            *metadata.Loader
	history           HistoryRecorder
	caseInsensitiveFS bool
	previewTTL        time.Duration
	fragmentTTL       time.Duration

	previews  *previewCache
	fragments *fragmentCache
}

type EngineOption func(*Engine)

// WithHistory records executed renames through the given recorder.
func WithHistory(recorder HistoryRecorder) EngineOption {
	return func(e *Engine) {
		e.history = recorder
	}
}

// WithPreviewTTL sets the preview memoization TTL; <= 0 disables the cache.
func WithPreviewTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.previewTTL = ttl
	}
}

// WithFragmentTTL sets the module fragment memoization TTL; <= 0 disables it.
func WithFragmentTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.fragmentTTL = ttl
	}
}

// WithCaseInsensitiveFS overrides the platform default for duplicate and
// case-only-rename detection.
func WithCaseInsensitiveFS(insensitive bool) EngineOption {
	return func(e *Engine) {
		e.caseInsensitiveFS = insensitive
	}
}

func NewEngine(loader *metadata.Loader, opts ...EngineOption) *Engine {
	ret := &Engine{
		loader:            loader,
		caseInsensitiveFS: defaultCaseInsensitiveFS(),
		previewTTL:        100 * time.Millisecond,
		fragmentTTL:       30 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.previews = newPreviewCache(ret.previewTTL)
	ret.fragments = newFragmentCache(ret.fragmentTTL)
	return ret
}

func defaultCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// Preview computes (old name, new name) candidates for the batch without
// touching the filesystem. Results preserve input order and are memoized
// for a short TTL keyed by the full request configuration.
func (e *Engine) Preview(ctx context.Context, req Request) ([]PreviewResult, error) {
	if len(req.Entries) == 0 {
		return []PreviewResult{}, nil
	}

	key := previewKey(req)
	if cached, ok := e.previews.get(key); ok {
		return cached, nil
	}
	return e.previews.do(key, func() ([]PreviewResult, error) {
		return e.compose(ctx, req)
	})
}

// compose runs the module chain per file, applies the final transform, and
// validates the outcome. Metadata is loaded only when an effective module
// depends on it; load completion order never affects result order because
// records are re-associated by path.
func (e *Engine) compose(ctx context.Context, req Request) ([]PreviewResult, error) {
	effective := make([]Module, 0, len(req.Modules))
	for _, module := range req.Modules {
		if module != nil && module.IsEffective() {
			effective = append(effective, module)
		}
	}

	metaByPath, err := e.loadMetadata(ctx, req, effective)
	if err != nil {
		return nil, err
	}

	ret := make([]PreviewResult, 0, len(req.Entries))
	for index, entry := range req.Entries {
		meta := metaByPath[entry.Path]

		var stem strings.Builder
		for _, module := range effective {
			stem.WriteString(e.fragment(module, entry, index, meta))
		}
		_, ext := file.SplitExt(entry.Name)
		newName := req.Transform.Apply(stem.String()) + req.Transform.ApplyExt(ext)

		result := PreviewResult{
			Entry:   entry,
			OldName: entry.Name,
			NewName: newName,
		}
		if validationErr := ValidateName(newName); validationErr != nil {
			result.Valid = false
			result.Err = validationErr
			result.Entry = entry.WithError(validationErr.Error())
		} else {
			result.Valid = true
			result.Entry = entry.WithStatus(scan.StatusValidated)
		}
		ret = append(ret, result)
	}

	e.flagDuplicates(ret)
	e.flagDiskConflicts(req, ret)
	return ret, nil
}

func (e *Engine) loadMetadata(ctx context.Context, req Request, effective []Module) (map[string]*metadata.Record, error) {
	needsMetadata := false
	for _, module := range effective {
		if dependent, ok := module.(MetadataDependent); ok && dependent.NeedsMetadata() {
			needsMetadata = true
			break
		}
	}
	if !needsMetadata || e.loader == nil {
		return map[string]*metadata.Record{}, nil
	}

	ret := make(map[string]*metadata.Record, len(req.Entries))
	for result := range e.loader.LoadBatch(ctx, req.Entries, req.Extended) {
		if result.Err != nil {
			// Per-file extraction failure: the file continues through the
			// chain with empty metadata.
			log.Warn("Metadata load failed for %s: %v", result.Entry.Path, result.Err)
			if errs.IsType(result.Err, errs.ErrCancelled) {
				return nil, result.Err
			}
			continue
		}
		record := result.Record
		ret[result.Entry.Path] = &record
	}
	return ret, nil
}

func (e *Engine) fragment(module Module, entry scan.FileEntry, index int, meta *metadata.Record) string {
	if !e.fragments.enabled() {
		return module.Apply(entry, index, meta)
	}
	key := fragmentKey(module, entry.Path, index)
	if value, ok := e.fragments.get(key); ok {
		return value
	}
	value := module.Apply(entry, index, meta)
	e.fragments.put(key, value)
	return value
}

// flagDuplicates marks every member of a group of entries whose candidate
// targets collide within the batch. Grouping keys on the full target path,
// not the basename: same-named files in different directories are fine.
// Execution is not permitted for flagged files until the caller
// disambiguates.
func (e *Engine) flagDuplicates(results []PreviewResult) {
	groups := make(map[string][]int, len(results))
	for i, result := range results {
		target := filepath.Join(filepath.Dir(result.Entry.Path), result.NewName)
		groups[e.foldName(target)] = append(groups[e.foldName(target)], i)
	}
	for _, indexes := range groups {
		if len(indexes) < 2 {
			continue
		}
		for _, i := range indexes {
			results[i].Conflict = true
			results[i].Valid = false
			if results[i].Err == nil {
				results[i].Err = errs.New(errs.ErrValidation, "duplicate target name within batch").
					WithContext("name", results[i].NewName)
			}
			results[i].Entry = results[i].Entry.WithError(results[i].Err.Error())
		}
	}
}

// flagDiskConflicts marks candidates whose target already exists on disk
// and is not part of the rename set.
func (e *Engine) flagDiskConflicts(req Request, results []PreviewResult) {
	oldPaths := make(map[string]bool, len(req.Entries))
	for _, entry := range req.Entries {
		oldPaths[e.foldName(entry.Path)] = true
	}

	for i, result := range results {
		if result.NewName == result.OldName {
			continue
		}
		// A case-only change targets the file itself on a case-insensitive
		// filesystem; that is handled at execution time, not a conflict.
		if e.caseInsensitiveFS && file.CaseOnlyDiff(result.OldName, result.NewName) {
			continue
		}
		target := filepath.Join(filepath.Dir(result.Entry.Path), result.NewName)
		if oldPaths[e.foldName(target)] {
			continue
		}
		if file.Exists(target) {
			results[i].Conflict = true
			if results[i].Err == nil {
				results[i].Err = errs.New(errs.ErrConflict, "target already exists on disk").
					WithContext("target", target)
			}
			results[i].Entry = results[i].Entry.WithError(results[i].Err.Error())
		}
	}
}

func (e *Engine) foldName(name string) string {
	if e.caseInsensitiveFS {
		return strings.ToLower(name)
	}
	return name
}

// Execute performs the confirmed renames. The preview is recomputed fresh
// so execution never trusts a memoized result. Per-file failures are
// collected into the returned ExecutionResult; only batch-level misuse
// (duplicate targets) returns an error.
func (e *Engine) Execute(ctx context.Context, req Request, resolver ConflictResolver) (*ExecutionResult, error) {
	results, err := e.compose(ctx, req)
	if err != nil {
		return nil, err
	}

	for _, result := range results {
		if result.Conflict && errs.IsType(result.Err, errs.ErrValidation) {
			return nil, errs.New(errs.ErrValidation, "batch produces duplicate target names").
				WithContext("name", result.NewName)
		}
	}

	ret := &ExecutionResult{
		BatchID: uuid.NewString(),
		Renamed: make([]RenamePair, 0, len(results)),
		Skipped: make([]SkippedFile, 0),
		Failed:  make([]FailedFile, 0),
	}

	skipAll := false
	for _, result := range results {
		// Cancellation is cooperative and checked between files only, so a
		// file is never left half-renamed.
		select {
		case <-ctx.Done():
			ret.Cancelled = true
		default:
		}
		if ret.Cancelled || ret.Aborted {
			break
		}

		if result.NewName == result.OldName {
			ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: "name unchanged"})
			continue
		}
		// Disk conflicts stay in the loop and reach the resolver below;
		// only invalid candidates are skipped outright.
		if !result.Valid {
			reason := "invalid candidate name"
			if result.Err != nil {
				reason = result.Err.Error()
			}
			ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: reason})
			if req.AbortOnInvalid {
				ret.Aborted = true
			}
			continue
		}

		oldPath := result.Entry.Path
		newPath := filepath.Join(filepath.Dir(oldPath), result.NewName)
		caseOnly := e.caseInsensitiveFS && file.CaseOnlyDiff(result.OldName, result.NewName)

		if !caseOnly && file.Exists(newPath) {
			// The target is occupied by a file outside the rename set; the
			// caller decides.
			if skipAll {
				ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: "target exists (skip all)"})
				continue
			}
			decision := DecisionSkip
			if resolver != nil {
				decision = resolver.Resolve(ctx, Conflict{OldPath: oldPath, NewPath: newPath})
			}
			switch decision {
			case DecisionSkip:
				ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: "target exists"})
				continue
			case DecisionSkipAll:
				skipAll = true
				ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: "target exists"})
				continue
			case DecisionAbort:
				ret.Skipped = append(ret.Skipped, SkippedFile{Entry: result.Entry, Reason: "aborted"})
				ret.Aborted = true
				continue
			case DecisionOverwrite:
				// fall through to the rename
			}
		}

		if renameErr := e.renameFile(oldPath, newPath, caseOnly); renameErr != nil {
			fsErr := errs.Wrap(renameErr, errs.ErrFilesystem, "rename failed").
				WithContext("old", oldPath).
				WithContext("new", newPath)
			ret.Failed = append(ret.Failed, FailedFile{Entry: result.Entry.WithError(fsErr.Error()), Err: fsErr})
			if req.AbortOnInvalid {
				ret.Aborted = true
			}
			continue
		}
		log.Info("Renamed %s -> %s", oldPath, newPath)
		ret.Renamed = append(ret.Renamed, RenamePair{OldPath: oldPath, NewPath: newPath})
	}

	if e.history != nil && len(ret.Renamed) > 0 {
		if histErr := e.history.RecordBatch(ctx, ret.BatchID, ret.Renamed); histErr != nil {
			log.Error("Failed to record rename history for batch %s: %v", ret.BatchID, histErr)
		}
	}
	return ret, nil
}

// renameFile performs one rename. Case-only changes go through an
// intermediate temporary name: on case-insensitive filesystems a direct
// rename to the recased name can be a no-op.
func (e *Engine) renameFile(oldPath, newPath string, caseOnly bool) error {
	return file.RenameWithCase(oldPath, newPath, caseOnly)
}
