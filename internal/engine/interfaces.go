package engine

import (
	"context"

	"github.com/Veraticus/tally/internal/model"
)

// AIClassifier suggests a category name for a transaction no rule or mapping matched.
// The returned name must be one of req.Vocabulary; anything else is ignored.
type AIClassifier interface {
	SuggestCategory(ctx context.Context, req AIRequest) (string, error)
}

// AIRequest is everything the AI tier is shown about one transaction.
type AIRequest struct {
	Description  string
	MerchantName string
	Vocabulary   []string
	Exemplars    []Exemplar
	Amount       model.Cents
}

// Exemplar is a previously categorized transaction used as a few-shot example.
type Exemplar struct {
	Description string
	Category    string
	Amount      model.Cents
}
