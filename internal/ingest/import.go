package ingest

import (
	"context"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// ImportBatchSize bounds how many records share one snapshot and one
// storage transaction.
const ImportBatchSize = 500

// ImportResult reports each record as accepted, skipped or error, in input order.
// Accepted items carry the new transaction id; skipped items carry the dedup key.
type ImportResult struct {
	service.BatchResult
	AutoConfirmed int `json:"auto_confirmed"`
}

// Import stores CSV or archive records. Malformed records are reported and
// never abort the rest of the batch. progress, when non-nil, is called after
// each chunk with the number of records handled so far.
func (s *Service) Import(ctx context.Context, recs []Record, progress func(done int)) (*ImportResult, error) {
	result := &ImportResult{}
	seen := make(map[string]bool)

	for start := 0; start < len(recs); start += ImportBatchSize {
		end := min(start+ImportBatchSize, len(recs))
		chunk := recs[start:end]

		release := s.cascade.Guard().Read()
		snap, err := s.cascade.Snapshot(ctx, s.store)
		if err != nil {
			release()
			return result, err
		}
		ops := s.prepare(ctx, snap, chunk, start, false, seen)
		err = s.write(ctx, ops)
		release()
		if err != nil {
			return result, err
		}

		for _, op := range ops {
			switch op.kind {
			case opInsert:
				result.Add(op.label, service.ItemAccepted, nil)
				if op.txn.Status == model.StatusAutoConfirmed {
					result.AutoConfirmed++
				}
			case opSkip:
				result.Add(op.label, service.ItemSkipped, nil)
			default:
				result.Add(op.label, service.ItemFailed, op.err)
			}
		}
		if progress != nil {
			progress(end)
		}
	}

	s.logger.Info("Import completed",
		"records", len(recs),
		"accepted", result.Count(service.ItemAccepted),
		"auto_confirmed", result.AutoConfirmed,
		"skipped", result.Count(service.ItemSkipped),
		"errors", len(result.Failed()))
	return result, nil
}

// ImportError is a convenience for callers that want a single error when
// nothing in the batch could be stored.
func (r *ImportResult) ImportError() error {
	if len(r.Items) > 0 && len(r.Failed()) == len(r.Items) {
		return common.Validationf("import", "", "all %d records were rejected", len(r.Items))
	}
	return nil
}
