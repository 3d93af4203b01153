// Package categories seeds category trees for tests.
//
// Example usage:
//
//	cats, err := categories.NewBuilder(t).
//		WithFixture(categories.FixtureStandard).
//		WithChild(categories.CategoryFood, "bakery").
//		Build(ctx, store)
package categories

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Builder provides a fluent interface for constructing a two-level category tree.
type Builder interface {
	// WithParent adds a top-level category.
	WithParent(name CategoryName) Builder

	// WithChild adds a child under parent, adding the parent if needed.
	WithChild(parent, child CategoryName) Builder

	// WithFixture adds every parent and child of a fixture.
	WithFixture(fixture Fixture) Builder

	// Build creates the categories, parents first, and returns them.
	Build(ctx context.Context, q service.Queries) (Categories, error)
}

// CategoryName is a category's short name.
type CategoryName string

// String returns the string representation of the category name.
func (c CategoryName) String() string {
	return string(c)
}

// Common category names used across tests.
const (
	CategoryFood          CategoryName = "food"
	CategoryGroceries     CategoryName = "groceries"
	CategoryDining        CategoryName = "dining"
	CategoryCoffee        CategoryName = "coffee"
	CategoryShopping      CategoryName = "shopping"
	CategoryOnline        CategoryName = "online"
	CategoryElectronics   CategoryName = "electronics"
	CategoryBills         CategoryName = "bills"
	CategorySubscriptions CategoryName = "subscriptions"
	CategoryUtilities     CategoryName = "utilities"
	CategoryCloudStorage  CategoryName = "cloud_storage"
	CategoryIncome        CategoryName = "income"
	CategoryPaycheck      CategoryName = "paycheck"
)

// Categories represents a collection of created test categories.
type Categories []model.Category

// Find returns the category with the given name, or nil if not found.
func (c Categories) Find(name CategoryName) *model.Category {
	for i := range c {
		if c[i].Name == name.String() {
			return &c[i]
		}
	}
	return nil
}

// MustFind returns the category with the given name, or fails the test if not found.
func (c Categories) MustFind(t *testing.T, name CategoryName) model.Category {
	t.Helper()
	cat := c.Find(name)
	if cat == nil {
		t.Fatalf("category %q not found in test data", name)
	}
	return *cat
}

// ID returns the id of the named category, or fails the test.
func (c Categories) ID(t *testing.T, name CategoryName) int64 {
	t.Helper()
	return c.MustFind(t, name).ID
}

// Names returns all category names as a slice of strings.
func (c Categories) Names() []string {
	names := make([]string, len(c))
	for i, cat := range c {
		names[i] = cat.Name
	}
	return names
}

type categoryBuilder struct {
	t        *testing.T
	children map[CategoryName][]CategoryName
}

// NewBuilder creates a new category builder for the given test.
func NewBuilder(t *testing.T) Builder {
	t.Helper()
	return &categoryBuilder{
		t:        t,
		children: make(map[CategoryName][]CategoryName),
	}
}

func (b *categoryBuilder) WithParent(name CategoryName) Builder {
	if _, ok := b.children[name]; !ok {
		b.children[name] = nil
	}
	return b
}

func (b *categoryBuilder) WithChild(parent, child CategoryName) Builder {
	b.WithParent(parent)
	for _, existing := range b.children[parent] {
		if existing == child {
			return b
		}
	}
	b.children[parent] = append(b.children[parent], child)
	return b
}

func (b *categoryBuilder) WithFixture(fixture Fixture) Builder {
	for _, node := range fixture.Tree() {
		b.WithParent(node.Parent)
		for _, child := range node.Children {
			b.WithChild(node.Parent, child)
		}
	}
	return b
}

func (b *categoryBuilder) Build(ctx context.Context, q service.Queries) (Categories, error) {
	b.t.Helper()

	// Sorted so ids are stable across runs
	parents := make([]CategoryName, 0, len(b.children))
	for name := range b.children {
		parents = append(parents, name)
	}
	sort.Slice(parents, func(i, j int) bool { return parents[i] < parents[j] })

	var result Categories
	for _, name := range parents {
		parent := &model.Category{Name: name.String(), DisplayName: displayName(name), Color: "#888888"}
		if name == CategoryIncome {
			parent.IsIncome = true
		}
		if err := q.CreateCategory(ctx, parent); err != nil {
			return nil, fmt.Errorf("failed to create category %q: %w", name, err)
		}
		result = append(result, *parent)

		for _, childName := range b.children[name] {
			child := &model.Category{
				Name:        childName.String(),
				DisplayName: displayName(childName),
				ParentID:    model.Int64Ptr(parent.ID),
				IsIncome:    parent.IsIncome,
			}
			if err := q.CreateCategory(ctx, child); err != nil {
				return nil, fmt.Errorf("failed to create category %q: %w", childName, err)
			}
			result = append(result, *child)
		}
	}
	return result, nil
}

func displayName(name CategoryName) string {
	b := []byte(name)
	for i := range b {
		if b[i] == '_' {
			b[i] = ' '
		}
	}
	if len(b) > 0 && b[0] >= 'a' && b[0] <= 'z' {
		b[0] -= 'a' - 'A'
	}
	return string(b)
}
