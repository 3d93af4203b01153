package engine

import (
	"sort"

	"github.com/Veraticus/tally/internal/model"
)

// CompareMappings orders mappings for tier 2: longer pattern first, then the
// most recently updated, then the higher id. It returns a negative number when
// a should be tried before b. Distinct ids never compare equal.
func CompareMappings(a, b *model.MerchantMapping) int {
	if la, lb := len(a.Pattern), len(b.Pattern); la != lb {
		return lb - la
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		if a.UpdatedAt.After(b.UpdatedAt) {
			return -1
		}
		return 1
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// CompareRules orders amount rules for tier 1: longer pattern first, then lowest id.
func CompareRules(a, b *model.AmountRule) int {
	if la, lb := len(a.Pattern), len(b.Pattern); la != lb {
		return lb - la
	}
	switch {
	case a.ID < b.ID:
		return -1
	case a.ID > b.ID:
		return 1
	}
	return 0
}

func sortMappings(mappings []model.MerchantMapping) {
	sort.SliceStable(mappings, func(i, j int) bool {
		return CompareMappings(&mappings[i], &mappings[j]) < 0
	})
}

func sortRules(rules []model.AmountRule) {
	sort.SliceStable(rules, func(i, j int) bool {
		return CompareRules(&rules[i], &rules[j]) < 0
	})
}
