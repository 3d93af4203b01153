// Package dedup derives stable identities for incoming records and decides
// whether a record is new or a re-delivery.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Mode selects how file imports are compared against existing rows.
type Mode string

// Policy modes.
const (
	ModeExact Mode = "exact"
	ModeFuzzy Mode = "fuzzy"
)

// Policy configures near-duplicate detection for CSV and archive records.
// Bank-sync records always use their external id.
type Policy struct {
	Mode             Mode
	MaxDistanceRatio float64 // Normalized edit distance at or below which descriptions are equal
	DateWindowDays   int     // Days either side of the record's date to search
}

// DefaultPolicy treats only identical keys as duplicates.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeExact, MaxDistanceRatio: 0.15}
}

// Validate checks the policy fields.
func (p Policy) Validate() error {
	switch p.Mode {
	case ModeExact, ModeFuzzy:
	default:
		return fmt.Errorf("%w: dedup mode %q", common.ErrInvalidConfig, p.Mode)
	}
	if p.MaxDistanceRatio < 0 || p.MaxDistanceRatio >= 1 {
		return fmt.Errorf("%w: dedup max distance ratio %v must be in [0, 1)", common.ErrInvalidConfig, p.MaxDistanceRatio)
	}
	if p.DateWindowDays < 0 {
		return fmt.Errorf("%w: dedup date window %d is negative", common.ErrInvalidConfig, p.DateWindowDays)
	}
	return nil
}

// Decision is the outcome of Resolver.Decide.
type Decision int

// Decisions.
const (
	Insert Decision = iota
	SkipDuplicate
)

func (d Decision) String() string {
	if d == SkipDuplicate {
		return "skip"
	}
	return "insert"
}

// Resolver computes dedup keys and checks them against stored rows.
type Resolver struct {
	policy Policy
}

// NewResolver creates a resolver with the given policy.
func NewResolver(policy Policy) (*Resolver, error) {
	if policy.Mode == "" {
		policy.Mode = ModeExact
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{policy: policy}, nil
}

// Validate rejects records missing a field every source must supply.
func Validate(rec model.RawRecord) error {
	switch {
	case rec.Date.IsZero():
		return common.Validationf("ingest", rec.ExternalID, "record has no date")
	case rec.Amount == nil:
		return common.Validationf("ingest", rec.ExternalID, "record has no amount")
	case strings.TrimSpace(rec.AccountID) == "":
		return common.Validationf("ingest", rec.ExternalID, "record has no account")
	case strings.TrimSpace(rec.Description) == "" && strings.TrimSpace(rec.MerchantName) == "":
		return common.Validationf("ingest", rec.ExternalID, "record has no description")
	case !rec.Source.Valid():
		return common.Validationf("ingest", rec.ExternalID, "unknown source %q", rec.Source)
	}
	return nil
}

// Key derives the dedup key for a record.
func (r *Resolver) Key(rec model.RawRecord) (string, error) {
	if err := Validate(rec); err != nil {
		return "", err
	}
	if rec.Source == model.SourceSync {
		if strings.TrimSpace(rec.ExternalID) == "" {
			return "", common.Validationf("ingest", "", "bank-sync record has no transaction id")
		}
		return SyncKey(rec.ExternalID), nil
	}
	return HashKey(rec), nil
}

// SyncKey is the key of a bank-sync transaction id.
func SyncKey(externalID string) string {
	return "sync:" + externalID
}

// HashKey hashes account, day, cents and normalized description.
func HashKey(rec model.RawRecord) string {
	data := fmt.Sprintf("%s|%s|%d|%s",
		rec.AccountID,
		rec.Date.UTC().Format("2006-01-02"),
		int64(*rec.Amount),
		model.NormalizeDescription(rec.Description))
	sum := sha256.Sum256([]byte(data))
	return "hash:" + hex.EncodeToString(sum[:])
}

// Decide returns the record's key and whether it should be inserted.
// Any non-purged row holding the key, active or soft deleted, makes it a duplicate.
func (r *Resolver) Decide(ctx context.Context, q service.Queries, rec model.RawRecord) (string, Decision, error) {
	key, err := r.Key(rec)
	if err != nil {
		return "", Insert, err
	}

	exists, err := q.DedupKeyExists(ctx, key)
	if err != nil {
		return key, Insert, fmt.Errorf("failed to check dedup key: %w", err)
	}
	if exists {
		return key, SkipDuplicate, nil
	}

	if r.policy.Mode != ModeFuzzy || rec.Source == model.SourceSync {
		return key, Insert, nil
	}

	y, m, d := rec.Date.UTC().Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	start := day.AddDate(0, 0, -r.policy.DateWindowDays)
	end := day.AddDate(0, 0, r.policy.DateWindowDays+1).Add(-time.Nanosecond)
	candidates, err := q.NearbyDescriptions(ctx, rec.AccountID, *rec.Amount, start, end)
	if err != nil {
		return key, Insert, fmt.Errorf("failed to load near-duplicate candidates: %w", err)
	}
	want := model.NormalizeDescription(rec.Description)
	for _, c := range candidates {
		if r.Similar(want, model.NormalizeDescription(c)) {
			return key, SkipDuplicate, nil
		}
	}
	return key, Insert, nil
}

// Similar reports whether two normalized descriptions are within the policy's edit distance.
func (r *Resolver) Similar(a, b string) bool {
	if a == b {
		return true
	}
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	if longest == 0 {
		return true
	}
	ratio := float64(levenshtein.ComputeDistance(a, b)) / float64(longest)
	return ratio <= r.policy.MaxDistanceRatio
}
