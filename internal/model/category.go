package model

import "time"

// Category is a node in the two-level category tree.
// Parents carry a display color; children may be flagged income or recurring.
type Category struct {
	CreatedAt   time.Time `json:"created_at"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Name        string    `json:"name"`
	DisplayName string    `json:"display_name"`
	Color       string    `json:"color,omitempty"`
	ID          int64     `json:"id"`
	IsIncome    bool      `json:"is_income"`
	IsRecurring bool      `json:"is_recurring"`
}

// IsParent reports whether the category sits at the top level.
func (c *Category) IsParent() bool {
	return c.ParentID == nil
}

// Label returns the display name, falling back to the short name.
func (c *Category) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}

// CategoryNode is a parent category with its children, as returned by tree listings.
type CategoryNode struct {
	Category
	Children []Category `json:"children"`
}
