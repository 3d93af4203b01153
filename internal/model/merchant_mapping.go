package model

import "time"

// MerchantMapping binds a merchant pattern to a category with a confirmation count.
// Confidence is owned by the learning store and only changes on user confirmation.
type MerchantMapping struct {
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Pattern    string    `json:"pattern"` // Upper-cased regular expression
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Confidence int       `json:"confidence"`
}

// AmountRule is an exact-amount override for a merchant pattern.
type AmountRule struct {
	CreatedAt  time.Time `json:"created_at"`
	Pattern    string    `json:"pattern"` // Case-insensitive substring
	Notes      string    `json:"notes,omitempty"`
	ID         int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	Amount     Cents     `json:"amount_cents"`
}
