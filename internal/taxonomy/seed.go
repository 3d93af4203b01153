package taxonomy

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	yaml "gopkg.in/yaml.v2"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// SeedConfidence is the confirmation count given to seeded mappings, high
// enough that they auto-confirm from the first match.
const SeedConfidence = 10

//go:embed seed.yaml
var defaultSeed []byte

// SeedData is a starter taxonomy: a category tree plus the rules and
// mappings that point into it by category name.
type SeedData struct {
	Categories  []SeedCategory `yaml:"categories"`
	AmountRules []SeedRule     `yaml:"amount_rules"`
	Mappings    []SeedMapping  `yaml:"mappings"`
}

// SeedCategory is a parent category when listed at the top of a seed file,
// or a child when listed under Children.
type SeedCategory struct {
	Name        string         `yaml:"name"`
	DisplayName string         `yaml:"display_name"`
	Color       string         `yaml:"color"`
	Children    []SeedCategory `yaml:"children"`
	IsIncome    bool           `yaml:"income"`
	IsRecurring bool           `yaml:"recurring"`
}

// SeedRule is an amount rule. Amount uses the same formats as imports.
type SeedRule struct {
	Pattern  string `yaml:"pattern"`
	Amount   string `yaml:"amount"`
	Category string `yaml:"category"`
	Notes    string `yaml:"notes"`
}

// SeedMapping is a merchant mapping created at SeedConfidence.
type SeedMapping struct {
	Pattern  string `yaml:"pattern"`
	Category string `yaml:"category"`
}

// SeedResult counts what a seed run created and what already existed.
type SeedResult struct {
	CategoriesCreated int `json:"categories_created"`
	CategoriesSkipped int `json:"categories_skipped"`
	RulesCreated      int `json:"rules_created"`
	RulesSkipped      int `json:"rules_skipped"`
	MappingsCreated   int `json:"mappings_created"`
	MappingsSkipped   int `json:"mappings_skipped"`
}

// DefaultSeed returns the built-in starter taxonomy.
func DefaultSeed() (*SeedData, error) {
	return ParseSeed(defaultSeed)
}

// LoadSeedFile reads a seed file in the same format as the built-in one.
func LoadSeedFile(path string) (*SeedData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and checks a seed document. Unknown keys, blank names,
// bad amounts and patterns that do not compile are validation errors.
func ParseSeed(data []byte) (*SeedData, error) {
	var seed SeedData
	if err := yaml.UnmarshalStrict(data, &seed); err != nil {
		return nil, common.Validationf("parse seed", "", "%v", err)
	}

	for _, parent := range seed.Categories {
		if strings.TrimSpace(parent.Name) == "" {
			return nil, common.Validationf("parse seed", "", "category name is required")
		}
		for _, child := range parent.Children {
			if strings.TrimSpace(child.Name) == "" {
				return nil, common.Validationf("parse seed", parent.Name, "child category name is required")
			}
			if len(child.Children) > 0 {
				return nil, common.Validationf("parse seed", child.Name, "categories nest only two levels deep")
			}
		}
	}
	for _, r := range seed.AmountRules {
		if strings.TrimSpace(r.Pattern) == "" || r.Category == "" {
			return nil, common.Validationf("parse seed", r.Pattern, "amount rules need a pattern and a category")
		}
		if _, err := model.ParseCents(r.Amount); err != nil {
			return nil, common.Validationf("parse seed", r.Pattern, "bad amount %q: %v", r.Amount, err)
		}
	}
	for _, m := range seed.Mappings {
		if strings.TrimSpace(m.Pattern) == "" || m.Category == "" {
			return nil, common.Validationf("parse seed", m.Pattern, "mappings need a pattern and a category")
		}
		if _, err := regexp.Compile(m.Pattern); err != nil {
			return nil, common.Validationf("parse seed", m.Pattern, "pattern does not compile: %v", err)
		}
	}
	return &seed, nil
}

// Seed applies a starter taxonomy in one transaction. Categories that exist
// by name, rules that exist by pattern and amount, and mappings that exist by
// pattern are skipped, so running it twice changes nothing. Existing mappings
// keep their learned confidence.
func (s *Service) Seed(ctx context.Context, seed *SeedData) (*SeedResult, error) {
	release := s.guard.Write()
	defer release()

	result := &SeedResult{}
	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		ids, err := seedCategories(ctx, tx, seed.Categories, result)
		if err != nil {
			return err
		}
		if err := seedRules(ctx, tx, seed.AmountRules, ids, result); err != nil {
			return err
		}
		return seedMappings(ctx, tx, seed.Mappings, ids, result)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Seeded taxonomy",
		"categories_created", result.CategoriesCreated,
		"categories_skipped", result.CategoriesSkipped,
		"rules_created", result.RulesCreated,
		"rules_skipped", result.RulesSkipped,
		"mappings_created", result.MappingsCreated,
		"mappings_skipped", result.MappingsSkipped)
	return result, nil
}

// seedCategories creates missing categories and returns every seeded name's id.
func seedCategories(ctx context.Context, tx service.Tx, parents []SeedCategory, result *SeedResult) (map[string]int64, error) {
	ids := make(map[string]int64)
	for _, p := range parents {
		parent, created, err := ensureCategory(ctx, tx, p, nil)
		if err != nil {
			return nil, err
		}
		if !parent.IsParent() {
			return nil, common.Integrityf("seed", p.Name, "exists as a child category and cannot hold %d children", len(p.Children))
		}
		countCategory(result, created)
		ids[parent.Name] = parent.ID

		for _, c := range p.Children {
			child, created, err := ensureCategory(ctx, tx, c, &parent.ID)
			if err != nil {
				return nil, err
			}
			countCategory(result, created)
			ids[child.Name] = child.ID
		}
	}
	return ids, nil
}

func ensureCategory(ctx context.Context, tx service.Tx, sc SeedCategory, parentID *int64) (*model.Category, bool, error) {
	name := strings.TrimSpace(sc.Name)
	existing, err := tx.GetCategoryByName(ctx, name)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to look up category %q: %w", name, err)
	}

	cat := &model.Category{
		Name:        name,
		DisplayName: strings.TrimSpace(sc.DisplayName),
		ParentID:    parentID,
		Color:       sc.Color,
		IsIncome:    sc.IsIncome,
		IsRecurring: sc.IsRecurring,
	}
	if cat.DisplayName == "" {
		cat.DisplayName = name
	}
	if err := tx.CreateCategory(ctx, cat); err != nil {
		return nil, false, fmt.Errorf("failed to create category %q: %w", name, err)
	}
	return cat, true, nil
}

func countCategory(result *SeedResult, created bool) {
	if created {
		result.CategoriesCreated++
	} else {
		result.CategoriesSkipped++
	}
}

// categoryFor resolves a rule or mapping's category, which may predate the seed.
func categoryFor(ctx context.Context, tx service.Tx, ids map[string]int64, name, pattern string) (int64, error) {
	if id, ok := ids[name]; ok {
		return id, nil
	}
	cat, err := tx.GetCategoryByName(ctx, name)
	if errors.Is(err, common.ErrNotFound) {
		return 0, common.Validationf("seed", pattern, "unknown category %q", name)
	}
	if err != nil {
		return 0, err
	}
	ids[name] = cat.ID
	return cat.ID, nil
}

func seedRules(ctx context.Context, tx service.Tx, rules []SeedRule, ids map[string]int64, result *SeedResult) error {
	for _, r := range rules {
		categoryID, err := categoryFor(ctx, tx, ids, r.Category, r.Pattern)
		if err != nil {
			return err
		}
		amount, err := model.ParseCents(r.Amount)
		if err != nil {
			return common.Validationf("seed", r.Pattern, "bad amount %q: %v", r.Amount, err)
		}

		rule := &model.AmountRule{
			Pattern:    strings.TrimSpace(r.Pattern),
			Amount:     amount,
			CategoryID: categoryID,
			Notes:      r.Notes,
		}
		err = tx.CreateAmountRule(ctx, rule)
		switch {
		case errors.Is(err, common.ErrDuplicateEntry):
			result.RulesSkipped++
		case err != nil:
			return err
		default:
			result.RulesCreated++
		}
	}
	return nil
}

func seedMappings(ctx context.Context, tx service.Tx, mappings []SeedMapping, ids map[string]int64, result *SeedResult) error {
	for _, m := range mappings {
		pattern := strings.TrimSpace(m.Pattern)
		_, err := tx.GetMappingByPattern(ctx, pattern)
		if err == nil {
			result.MappingsSkipped++
			continue
		}
		if !errors.Is(err, common.ErrNotFound) {
			return err
		}

		categoryID, err := categoryFor(ctx, tx, ids, m.Category, pattern)
		if err != nil {
			return err
		}
		mapping := &model.MerchantMapping{
			Pattern:    pattern,
			CategoryID: categoryID,
			Confidence: SeedConfidence,
		}
		if err := tx.CreateMapping(ctx, mapping); err != nil {
			return err
		}
		result.MappingsCreated++
	}
	return nil
}
