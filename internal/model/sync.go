package model

import "time"

// SyncCursor marks bank-sync progress for one account.
type SyncCursor struct {
	UpdatedAt time.Time
	AccountID string
	Cursor    string
}

// Budget is a monthly spending target for a category.
type Budget struct {
	Month      string `json:"month"` // "2006-01"
	ID         int64  `json:"id"`
	CategoryID int64  `json:"category_id"`
	Amount     Cents  `json:"amount_cents"`
}

// CategorySpending is one row of a spending report.
type CategorySpending struct {
	CategoryName string `json:"category"`
	CategoryID   int64  `json:"category_id"`
	Total        Cents  `json:"total_cents"`
	Count        int    `json:"count"`
}
