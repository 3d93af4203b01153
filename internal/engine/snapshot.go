package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Snapshot is a frozen view of rules, mappings and categories. Every
// transaction classified against the same snapshot sees the same inputs,
// whatever happens to the tables meanwhile.
type Snapshot struct {
	categories map[int64]model.Category
	byName     map[string]int64
	rules      []snapshotRule
	mappings   []snapshotMapping
	vocabulary []string
	exemplars  []Exemplar
	threshold  int
}

type snapshotRule struct {
	needle string
	rule   model.AmountRule
}

type snapshotMapping struct {
	matcher common.Matcher
	mapping model.MerchantMapping
}

// Snapshot loads the cascade inputs through q. Callers classifying a batch
// should take one snapshot and reuse it.
func (c *Cascade) Snapshot(ctx context.Context, q service.Queries) (*Snapshot, error) {
	rules, err := q.ListAmountRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load amount rules: %w", err)
	}
	mappings, err := q.ListMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load merchant mappings: %w", err)
	}
	categories, err := q.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}

	sortRules(rules)
	sortMappings(mappings)

	snap := &Snapshot{
		categories: make(map[int64]model.Category, len(categories)),
		byName:     make(map[string]int64),
		threshold:  c.cfg.AutoConfirmThreshold,
	}
	for _, r := range rules {
		snap.rules = append(snap.rules, snapshotRule{
			rule:   r,
			needle: strings.ToUpper(strings.TrimSpace(r.Pattern)),
		})
	}
	for _, m := range mappings {
		snap.mappings = append(snap.mappings, snapshotMapping{
			mapping: m,
			matcher: common.CompilePattern(m.Pattern),
		})
	}
	for _, cat := range categories {
		snap.categories[cat.ID] = cat
	}
	snap.buildVocabulary(categories)

	if c.ai != nil && c.cfg.ExemplarLimit > 0 {
		recent, err := q.ListTransactions(ctx, service.TransactionFilter{
			Statuses:    service.FinalStatuses,
			NewestFirst: true,
			Limit:       c.cfg.ExemplarLimit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load exemplars: %w", err)
		}
		for _, txn := range recent {
			cat, ok := snap.categories[*txn.CategoryID]
			if !ok {
				continue
			}
			snap.exemplars = append(snap.exemplars, Exemplar{
				Description: txn.Description,
				Amount:      txn.Amount,
				Category:    cat.Name,
			})
		}
	}
	return snap, nil
}

// Leaf categories make up the AI vocabulary. A flat tree with no children
// offers every category instead.
func (s *Snapshot) buildVocabulary(categories []model.Category) {
	var leaves []model.Category
	for _, cat := range categories {
		if !cat.IsParent() {
			leaves = append(leaves, cat)
		}
	}
	if len(leaves) == 0 {
		leaves = categories
	}
	for _, cat := range leaves {
		s.vocabulary = append(s.vocabulary, cat.Name)
		s.byName[strings.ToLower(cat.Name)] = cat.ID
		if cat.DisplayName != "" {
			if _, taken := s.byName[strings.ToLower(cat.DisplayName)]; !taken {
				s.byName[strings.ToLower(cat.DisplayName)] = cat.ID
			}
		}
	}
}

// Vocabulary returns the category names the AI tier may answer with.
func (s *Snapshot) Vocabulary() []string {
	return append([]string(nil), s.vocabulary...)
}

// Resolve maps an AI answer onto a vocabulary category id.
func (s *Snapshot) Resolve(name string) (int64, bool) {
	id, ok := s.byName[strings.ToLower(strings.Trim(strings.TrimSpace(name), `"'.`))]
	return id, ok
}

// Match runs tiers 1 and 2. ok is false when neither tier matched.
func (s *Snapshot) Match(txn *model.Transaction) (model.Classification, bool) {
	texts := txn.MatchText()

	for _, r := range s.rules {
		if r.needle == "" || txn.Amount != r.rule.Amount {
			continue
		}
		for _, t := range texts {
			if strings.Contains(t, r.needle) {
				return model.Classification{
					CategoryID: model.Int64Ptr(r.rule.CategoryID),
					Status:     model.StatusAutoConfirmed,
					Tier:       model.TierAmountRule,
					Confidence: 1.0,
				}, true
			}
		}
	}

	for _, m := range s.mappings {
		if !m.matcher.Match(texts...) {
			continue
		}
		if m.mapping.Confidence >= s.threshold {
			return model.Classification{
				CategoryID: model.Int64Ptr(m.mapping.CategoryID),
				Status:     model.StatusAutoConfirmed,
				Tier:       model.TierMerchantMapping,
				Confidence: 1.0,
			}, true
		}
		confidence := float64(m.mapping.Confidence) / float64(s.threshold)
		if confidence > 1.0 {
			confidence = 1.0
		}
		return model.Classification{
			PredictedCategoryID: model.Int64Ptr(m.mapping.CategoryID),
			Status:              model.StatusPendingReview,
			Tier:                model.TierMerchantMapping,
			Confidence:          confidence,
		}, true
	}

	return model.Classification{}, false
}
