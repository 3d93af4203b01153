// Package ingest turns raw records from bank sync and file imports into
// stored, classified transactions.
//
// Each batch is handled in phases: records are validated, deduplicated and
// classified against one cascade snapshot without holding a storage
// transaction, then accepted rows are written in a single storage
// transaction. Removals and cursor updates follow once the writes commit.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/dedup"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Record is one raw transaction as delivered by a source.
type Record = model.RawRecord

// Remover soft-deletes transactions the bank withdrew.
type Remover interface {
	SoftDelete(ctx context.Context, id, reason string) error
}

// Config controls sync paging and the bank call budget.
type Config struct {
	Retry        service.RetryOptions
	FetchTimeout time.Duration
	MaxPages     int // Upper bound on pages per sync pass; 0 means unbounded
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		FetchTimeout: 30 * time.Second,
		MaxPages:     100,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Second,
			MaxDelay:     10 * time.Second,
			Multiplier:   2,
		},
	}
}

// Service ingests records.
type Service struct {
	store    service.Storage
	resolver *dedup.Resolver
	cascade  *engine.Cascade
	remover  Remover
	accounts *common.KeyedMutex
	logger   *slog.Logger
	newID    func() string
	cfg      Config
}

// Option customizes a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithConfig overrides the default paging and timeout configuration.
func WithConfig(cfg Config) Option {
	return func(s *Service) { s.cfg = cfg }
}

// WithIDGenerator overrides how transaction ids are minted.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// New creates an ingest service.
func New(store service.Storage, resolver *dedup.Resolver, cascade *engine.Cascade, remover Remover, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		cascade:  cascade,
		remover:  remover,
		accounts: common.NewKeyedMutex(),
		newID:    uuid.NewString,
		cfg:      DefaultConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = common.Component("ingest")
	}
	return s
}

// opKind is what phase two does with a prepared record.
type opKind int

const (
	opInsert opKind = iota
	opUpdate
	opSkip
	opFail
)

// prepared is a record after validation, dedup and classification.
type prepared struct {
	err   error
	txn   *model.Transaction
	label string
	kind  opKind
}

// prepare runs the storage-transaction-free phase for a batch. Added and
// modified sync records both flow through here; mods is true for the latter.
// offset numbers records that have no better label.
func (s *Service) prepare(ctx context.Context, snap *engine.Snapshot, recs []Record, offset int, mods bool, seen map[string]bool) []prepared {
	out := make([]prepared, 0, len(recs))
	for i, rec := range recs {
		p := s.prepareOne(ctx, snap, rec, mods, seen)
		if p.label == "" {
			p.label = fmt.Sprintf("record %d", offset+i+1)
		}
		out = append(out, p)
	}
	return out
}

func (s *Service) prepareOne(ctx context.Context, snap *engine.Snapshot, rec Record, mods bool, seen map[string]bool) prepared {
	if strings.TrimSpace(rec.Description) == "" {
		rec.Description = strings.TrimSpace(rec.MerchantName)
	}
	if err := dedup.Validate(rec); err != nil {
		return prepared{kind: opFail, err: err, label: rec.ExternalID}
	}

	if rec.Source == model.SourceSync {
		if p, ok, err := s.prepareSyncUpdate(ctx, rec, mods); err != nil {
			return prepared{kind: opFail, err: err, label: rec.ExternalID}
		} else if ok {
			return p
		}
	}

	key, decision, err := s.resolver.Decide(ctx, s.store, rec)
	if err != nil {
		return prepared{kind: opFail, err: err, label: rec.ExternalID}
	}
	if decision == dedup.SkipDuplicate || seen[key] {
		return prepared{kind: opSkip, label: key}
	}
	seen[key] = true

	txn := s.newTransaction(rec, key)
	s.cascade.ClassifyWith(ctx, snap, txn).Apply(txn)
	return prepared{kind: opInsert, txn: txn, label: txn.ID}
}

// prepareSyncUpdate handles a sync record that changes an existing row: a
// modification of a known transaction, or a posted record replacing its
// pending twin. ok is false when the record should be inserted instead.
func (s *Service) prepareSyncUpdate(ctx context.Context, rec Record, mods bool) (prepared, bool, error) {
	key := dedup.SyncKey(rec.ExternalID)
	lookup := key
	if !mods {
		if rec.PendingExternalID == "" {
			return prepared{}, false, nil
		}
		if exists, err := s.store.DedupKeyExists(ctx, key); err != nil || exists {
			return prepared{}, false, err
		}
		lookup = dedup.SyncKey(rec.PendingExternalID)
	}

	existing, err := s.store.GetTransactionByDedupKey(ctx, lookup)
	if errors.Is(err, common.ErrNotFound) {
		return prepared{}, false, nil
	}
	if err != nil {
		return prepared{}, false, err
	}

	existing.DedupKey = key
	existing.ExternalID = rec.ExternalID
	existing.Date = rec.Date.UTC()
	existing.Amount = *rec.Amount
	existing.Description = rec.Description
	existing.MerchantName = rec.MerchantName
	existing.IsPending = rec.IsPending
	return prepared{kind: opUpdate, txn: existing, label: existing.ID}, true, nil
}

func (s *Service) newTransaction(rec Record, key string) *model.Transaction {
	return &model.Transaction{
		ID:           s.newID(),
		DedupKey:     key,
		ExternalID:   rec.ExternalID,
		Date:         rec.Date.UTC(),
		Amount:       *rec.Amount,
		Description:  rec.Description,
		MerchantName: rec.MerchantName,
		AccountID:    rec.AccountID,
		Source:       rec.Source,
		IsPending:    rec.IsPending,
		Status:       model.StatusPendingReview,
	}
}

// write applies prepared ops in one storage transaction. Items that fail
// inside it are recorded on the op so siblings still commit.
func (s *Service) write(ctx context.Context, ops []prepared) error {
	if !hasWrites(ops) {
		return nil
	}
	return service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		for i := range ops {
			op := &ops[i]
			switch op.kind {
			case opInsert:
				err := tx.InsertTransaction(ctx, op.txn)
				if errors.Is(err, common.ErrDuplicateEntry) {
					op.kind = opSkip
					continue
				}
				if err != nil {
					return err
				}
			case opUpdate:
				err := tx.UpdateTransactionDetails(ctx, op.txn)
				if errors.Is(err, common.ErrDuplicateEntry) || errors.Is(err, common.ErrNotFound) {
					op.kind = opFail
					op.err = &common.ConflictError{Op: "ingest", ID: op.txn.ID, Err: err}
					continue
				}
				if err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func hasWrites(ops []prepared) bool {
	for _, op := range ops {
		if op.kind == opInsert || op.kind == opUpdate {
			return true
		}
	}
	return false
}
