package history

import (
	"context"
	"path/filepath"
	"time"

	"github.com/oncutf/oncutf/internal/errs"
	"github.com/oncutf/oncutf/internal/persistence"
	"github.com/oncutf/oncutf/internal/rename"
	"github.com/oncutf/oncutf/pkg/file"
	"github.com/oncutf/oncutf/pkg/log"
)

// Store is the persistence contract for rename history, implemented by
// persistence.SQLiteStore.
type Store interface {
	AppendHistory(ctx context.Context, entries []persistence.HistoryEntry) error
	LoadHistoryBatch(ctx context.Context, batchID string) ([]persistence.HistoryEntry, error)
	ListRecentBatches(ctx context.Context, limit int) ([]persistence.BatchSummary, error)
	MarkUndone(ctx context.Context, batchID string) error
}

// UndoFailure records one history entry that could not be rolled back.
type UndoFailure struct {
	Entry persistence.HistoryEntry
	Err   error
}

// UndoResult is the consolidated outcome of one undo call.
type UndoResult struct {
	BatchID   string
	Restored  []rename.RenamePair
	Failed    []UndoFailure
	Cancelled bool
}

// Service records executed rename batches and can roll them back. It
// satisfies rename.HistoryRecorder.
type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// RecordBatch persists one executed batch under a shared batch ID.
func (s *Service) RecordBatch(ctx context.Context, batchID string, renames []rename.RenamePair) error {
	entries := make([]persistence.HistoryEntry, 0, len(renames))
	now := time.Now()
	for _, pair := range renames {
		entries = append(entries, persistence.HistoryEntry{
			BatchID:   batchID,
			OldPath:   pair.OldPath,
			NewPath:   pair.NewPath,
			RenamedAt: now,
		})
	}
	return s.store.AppendHistory(ctx, entries)
}

// ListRecent returns summaries of the most recent batches.
func (s *Service) ListRecent(ctx context.Context, limit int) ([]persistence.BatchSummary, error) {
	return s.store.ListRecentBatches(ctx, limit)
}

// Undo re-renames every entry of a batch back to its old path, in reverse
// execution order. A file whose current state no longer matches the
// recorded new path is refused and reported, not guessed at. The batch is
// marked undone only when every entry was restored.
func (s *Service) Undo(ctx context.Context, batchID string) (*UndoResult, error) {
	entries, err := s.store.LoadHistoryBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errs.New(errs.ErrValidation, "unknown rename batch").
			WithContext("batch_id", batchID)
	}

	ret := &UndoResult{
		BatchID:  batchID,
		Restored: make([]rename.RenamePair, 0, len(entries)),
		Failed:   make([]UndoFailure, 0),
	}

	for i := len(entries) - 1; i >= 0; i-- {
		select {
		case <-ctx.Done():
			ret.Cancelled = true
		default:
		}
		if ret.Cancelled {
			break
		}

		entry := entries[i]
		if entry.Undone {
			continue
		}
		if !file.Exists(entry.NewPath) {
			ret.Failed = append(ret.Failed, UndoFailure{
				Entry: entry,
				Err: errs.New(errs.ErrConflict, "file no longer at recorded path").
					WithContext("path", entry.NewPath),
			})
			continue
		}

		oldBase := filepath.Base(entry.OldPath)
		newBase := filepath.Base(entry.NewPath)
		caseOnly := file.CaseOnlyDiff(newBase, oldBase)
		if !caseOnly && file.Exists(entry.OldPath) {
			ret.Failed = append(ret.Failed, UndoFailure{
				Entry: entry,
				Err: errs.New(errs.ErrConflict, "original path is occupied").
					WithContext("path", entry.OldPath),
			})
			continue
		}

		if renameErr := file.RenameWithCase(entry.NewPath, entry.OldPath, caseOnly); renameErr != nil {
			ret.Failed = append(ret.Failed, UndoFailure{
				Entry: entry,
				Err:   errs.Wrap(renameErr, errs.ErrFilesystem, "undo rename failed"),
			})
			continue
		}
		log.Info("Restored %s -> %s", entry.NewPath, entry.OldPath)
		ret.Restored = append(ret.Restored, rename.RenamePair{OldPath: entry.NewPath, NewPath: entry.OldPath})
	}

	if len(ret.Failed) == 0 && !ret.Cancelled {
		if markErr := s.store.MarkUndone(ctx, batchID); markErr != nil {
			log.Error("Failed to mark batch %s undone: %v", batchID, markErr)
		}
	}
	return ret, nil
}
