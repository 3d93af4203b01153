package model

// Classification is the cascade's verdict for one transaction.
type Classification struct {
	CategoryID          *int64
	PredictedCategoryID *int64
	Status              Status
	Tier                Tier
	Confidence          float64
}

// Apply copies the verdict onto a transaction.
func (c Classification) Apply(txn *Transaction) {
	txn.CategoryID = c.CategoryID
	txn.PredictedCategoryID = c.PredictedCategoryID
	txn.StagedCategoryID = nil
	txn.Status = c.Status
	txn.Tier = c.Tier
	txn.Confidence = c.Confidence
}

// Unclassified is the verdict when no tier produced anything.
func Unclassified() Classification {
	return Classification{Status: StatusPendingReview, Tier: TierNone}
}
