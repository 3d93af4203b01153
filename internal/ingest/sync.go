package ingest

import (
	"context"
	"errors"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/dedup"
	"github.com/Veraticus/tally/internal/model"
)

// SyncPage is one page of changes from a bank since a cursor.
type SyncPage struct {
	NextCursor string
	Added      []Record
	Modified   []Record
	Removed    []string // External ids the bank withdrew
	HasMore    bool
}

// SyncSource fetches changes for an account since cursor. An empty cursor
// asks for full history.
type SyncSource interface {
	Fetch(ctx context.Context, accountID, cursor string) (SyncPage, error)
}

// RecordError reports a record that could not be ingested.
type RecordError struct {
	Err   error  `json:"-"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// SyncResult summarizes one sync pass.
type SyncResult struct {
	AccountID         string        `json:"account_id"`
	NewCursor         string        `json:"new_cursor"`
	Errors            []RecordError `json:"errors,omitempty"`
	Accepted          int           `json:"accepted"`
	AutoConfirmed     int           `json:"auto_confirmed"`
	SkippedDuplicates int           `json:"skipped_duplicates"`
	Modified          int           `json:"modified"`
	Removed           int           `json:"removed"`
	Pages             int           `json:"pages"`
}

// Sync pulls every page of changes for accountID and stores them. Only one
// sync per account runs at a time; a second caller gets a ConflictError
// wrapping common.ErrSyncInProgress. The cursor advances after each stored
// page, so a failure leaves it at the last page that committed.
func (s *Service) Sync(ctx context.Context, accountID string, src SyncSource) (*SyncResult, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, common.Validationf("sync", "", "account is required")
	}
	unlock, ok := s.accounts.TryLock(accountID)
	if !ok {
		return nil, &common.ConflictError{Op: "sync", ID: accountID, Err: common.ErrSyncInProgress}
	}
	defer unlock()

	logger := s.logger.With("account_id", accountID)
	cursor, err := s.store.GetSyncCursor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{AccountID: accountID, NewCursor: cursor}
	for {
		if s.cfg.MaxPages > 0 && result.Pages >= s.cfg.MaxPages {
			logger.Warn("Stopping sync at page limit", "pages", result.Pages)
			break
		}

		page, err := s.fetch(ctx, src, accountID, cursor)
		if err != nil {
			return result, err
		}
		if err := s.applyPage(ctx, accountID, page, result); err != nil {
			return result, err
		}
		if page.NextCursor != "" {
			if err := s.store.SaveSyncCursor(ctx, accountID, page.NextCursor); err != nil {
				return result, err
			}
			cursor = page.NextCursor
			result.NewCursor = cursor
		}
		result.Pages++

		if !page.HasMore {
			break
		}
	}

	logger.Info("Sync completed",
		"pages", result.Pages,
		"accepted", result.Accepted,
		"auto_confirmed", result.AutoConfirmed,
		"skipped", result.SkippedDuplicates,
		"modified", result.Modified,
		"removed", result.Removed,
		"errors", len(result.Errors))
	return result, nil
}

// ResetCursor forgets accountID's cursor so the next Sync replays full
// history. Replayed records fall to the sync dedup keys, so nothing already
// stored is inserted again.
func (s *Service) ResetCursor(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return common.Validationf("reset cursor", "", "account is required")
	}
	unlock, ok := s.accounts.TryLock(accountID)
	if !ok {
		return &common.ConflictError{Op: "reset cursor", ID: accountID, Err: common.ErrSyncInProgress}
	}
	defer unlock()

	if err := s.store.DeleteSyncCursor(ctx, accountID); err != nil {
		return err
	}
	s.logger.Info("Sync cursor reset", "account_id", accountID)
	return nil
}

func (s *Service) fetch(ctx context.Context, src SyncSource, accountID, cursor string) (SyncPage, error) {
	var page SyncPage
	err := common.WithRetry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
		defer cancel()
		var err error
		page, err = src.Fetch(callCtx, accountID, cursor)
		return err
	}, s.cfg.Retry)
	if err != nil {
		return SyncPage{}, &common.ExternalCapabilityError{Op: "sync", ID: accountID, Reason: "bank fetch failed", Err: err}
	}
	return page, nil
}

// applyPage stores one page. Per-record problems land in result.Errors;
// a returned error means the page did not fully commit.
func (s *Service) applyPage(ctx context.Context, accountID string, page SyncPage, result *SyncResult) error {
	tag := func(recs []Record) []Record {
		out := make([]Record, len(recs))
		for i, rec := range recs {
			if rec.AccountID == "" {
				rec.AccountID = accountID
			}
			rec.Source = model.SourceSync
			out[i] = rec
		}
		return out
	}

	release := s.cascade.Guard().Read()
	snap, err := s.cascade.Snapshot(ctx, s.store)
	if err != nil {
		release()
		return err
	}
	seen := make(map[string]bool)
	ops := s.prepare(ctx, snap, tag(page.Added), 0, false, seen)
	ops = append(ops, s.prepare(ctx, snap, tag(page.Modified), len(page.Added), true, seen)...)
	err = s.write(ctx, ops)
	release()
	if err != nil {
		return err
	}

	for _, op := range ops {
		switch op.kind {
		case opInsert:
			result.Accepted++
			if op.txn.Status == model.StatusAutoConfirmed {
				result.AutoConfirmed++
			}
		case opUpdate:
			result.Modified++
		case opSkip:
			result.SkippedDuplicates++
		case opFail:
			result.Errors = append(result.Errors, RecordError{ID: op.label, Err: op.err, Error: op.err.Error()})
		}
	}

	for _, externalID := range page.Removed {
		removed, err := s.remove(ctx, externalID)
		if err != nil {
			return err
		}
		if removed {
			result.Removed++
		}
	}
	return nil
}

// remove soft-deletes the row for a withdrawn bank id. Rows that are already
// gone are not an error.
func (s *Service) remove(ctx context.Context, externalID string) (bool, error) {
	txn, err := s.store.GetTransactionByDedupKey(ctx, dedup.SyncKey(externalID))
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.remover.SoftDelete(ctx, txn.ID, model.ReasonRemovedUpstream); err != nil {
		if common.IsKind(err, common.ErrNotFound, common.ErrConflict) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
