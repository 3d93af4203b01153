// Package taxonomy manages the two-level category tree and the records that
// hang off it: budgets, amount rules and merchant mappings.
//
// Tree mutations hold the write side of the shared guard, so no cascade run or
// review commit observes a category halfway through a merge or delete.
package taxonomy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/service"
)

// Service mutates and lists categories.
type Service struct {
	store  service.Storage
	guard  *common.TaxonomyGuard
	logger *slog.Logger
}

// New creates a taxonomy service. guard must be the one the cascade and
// review machine read under; nil creates a private guard.
func New(store service.Storage, guard *common.TaxonomyGuard) *Service {
	if guard == nil {
		guard = &common.TaxonomyGuard{}
	}
	return &Service{
		store:  store,
		guard:  guard,
		logger: common.Component("taxonomy"),
	}
}

// CreateRequest describes a new category.
type CreateRequest struct {
	ParentID    *int64 `json:"parent_id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Color       string `json:"color,omitempty"`
	IsIncome    bool   `json:"is_income"`
	IsRecurring bool   `json:"is_recurring"`
}

// Create adds a category. A parent, when given, must be top-level.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*model.Category, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, common.Validationf("create category", "", "name is required")
	}

	release := s.guard.Write()
	defer release()

	cat := &model.Category{
		Name:        name,
		DisplayName: strings.TrimSpace(req.DisplayName),
		ParentID:    req.ParentID,
		Color:       req.Color,
		IsIncome:    req.IsIncome,
		IsRecurring: req.IsRecurring,
	}
	if cat.DisplayName == "" {
		cat.DisplayName = name
	}

	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		if cat.ParentID != nil {
			if err := requireTopLevel(ctx, tx, "create category", *cat.ParentID); err != nil {
				return err
			}
		}
		if err := tx.CreateCategory(ctx, cat); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				return common.Conflictf("create category", name, "a category with this name exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Created category", "category_id", cat.ID, "name", cat.Name)
	return cat, nil
}

// RenameRequest changes a category's names. Empty fields are left alone.
type RenameRequest struct {
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"color,omitempty"`
}

// Rename updates a category's short name, display name or color.
func (s *Service) Rename(ctx context.Context, id int64, req RenameRequest) (*model.Category, error) {
	release := s.guard.Write()
	defer release()

	var cat *model.Category
	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		var err error
		cat, err = getCategory(ctx, tx, "rename category", id)
		if err != nil {
			return err
		}
		if n := strings.TrimSpace(req.Name); n != "" {
			cat.Name = n
		}
		if d := strings.TrimSpace(req.DisplayName); d != "" {
			cat.DisplayName = d
		}
		if req.Color != "" {
			cat.Color = req.Color
		}
		if err := tx.UpdateCategory(ctx, cat); err != nil {
			if errors.Is(err, common.ErrDuplicateEntry) {
				return common.Conflictf("rename category", cat.Name, "a category with this name exists")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// Move re-parents a category. A nil parentID makes it top-level.
func (s *Service) Move(ctx context.Context, id int64, parentID *int64) (*model.Category, error) {
	release := s.guard.Write()
	defer release()

	var cat *model.Category
	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		var err error
		cat, err = getCategory(ctx, tx, "move category", id)
		if err != nil {
			return err
		}
		if parentID != nil {
			if *parentID == id {
				return common.Integrityf("move category", idString(id), "a category cannot be its own parent")
			}
			if err := requireTopLevel(ctx, tx, "move category", *parentID); err != nil {
				return err
			}
			children, err := childrenOf(ctx, tx, id)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return common.Integrityf("move category", idString(id),
					"category has %d children; the tree is two levels deep", len(children))
			}
		}
		cat.ParentID = parentID
		return tx.UpdateCategory(ctx, cat)
	})
	if err != nil {
		return nil, err
	}
	return cat, nil
}

// MergeResult reports what a merge moved.
type MergeResult struct {
	Into       model.Category `json:"into"`
	References int            `json:"references"`
	Children   int            `json:"children"`
}

// Merge folds fromID into toID: every transaction, deleted snapshot, rule,
// mapping and budget pointing at fromID moves to toID, children are re-parented,
// and fromID is removed. It is all-or-nothing.
func (s *Service) Merge(ctx context.Context, fromID, toID int64) (*MergeResult, error) {
	if fromID == toID {
		return nil, common.Integrityf("merge category", idString(fromID), "cannot merge a category into itself")
	}

	release := s.guard.Write()
	defer release()

	result := &MergeResult{}
	err := service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		from, err := getCategory(ctx, tx, "merge category", fromID)
		if err != nil {
			return err
		}
		to, err := getCategory(ctx, tx, "merge category", toID)
		if err != nil {
			return err
		}

		children, err := childrenOf(ctx, tx, fromID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			if !to.IsParent() {
				return common.Integrityf("merge category", idString(fromID),
					"children of %q cannot move under child category %q", from.Name, to.Name)
			}
		}
		if to.ParentID != nil && *to.ParentID == fromID {
			return common.Integrityf("merge category", idString(fromID), "cannot merge a parent into its own child")
		}

		refs, err := tx.CountCategoryReferences(ctx, fromID)
		if err != nil {
			return err
		}
		if err := tx.ReassignCategory(ctx, fromID, toID); err != nil {
			return err
		}
		if err := tx.ReparentChildren(ctx, fromID, toID); err != nil {
			return err
		}
		if left, err := tx.CountCategoryReferences(ctx, fromID); err != nil {
			return err
		} else if left != 0 {
			return common.Integrityf("merge category", idString(fromID), "%d references remain after reassignment", left)
		}
		if err := tx.DeleteCategory(ctx, fromID); err != nil {
			return err
		}

		result.Into = *to
		result.References = refs
		result.Children = len(children)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Merged category",
		"from_category_id", fromID,
		"category_id", toID,
		"references", result.References,
		"children", result.Children)
	return result, nil
}

// Delete removes a category that nothing references and that has no children.
// Referenced categories must be merged instead.
func (s *Service) Delete(ctx context.Context, id int64) error {
	release := s.guard.Write()
	defer release()

	return service.RunInTx(ctx, s.store, func(tx service.Tx) error {
		if _, err := getCategory(ctx, tx, "delete category", id); err != nil {
			return err
		}
		children, err := childrenOf(ctx, tx, id)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return common.Integrityf("delete category", idString(id), "category has %d children", len(children))
		}
		refs, err := tx.CountCategoryReferences(ctx, id)
		if err != nil {
			return err
		}
		if refs > 0 {
			return common.Integrityf("delete category", idString(id),
				"category is referenced by %d records; merge it into another category instead", refs)
		}
		return tx.DeleteCategory(ctx, id)
	})
}

// Tree returns parents in name order, each with its children.
func (s *Service) Tree(ctx context.Context) ([]model.CategoryNode, error) {
	cats, err := s.store.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	return BuildTree(cats), nil
}

// List returns every category, parents first.
func (s *Service) List(ctx context.Context) ([]model.Category, error) {
	return s.store.ListCategories(ctx)
}

// Resolve finds a category by numeric id or short name.
func (s *Service) Resolve(ctx context.Context, ref string) (*model.Category, error) {
	ref = strings.TrimSpace(ref)
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return getCategory(ctx, s.store, "resolve category", id)
	}
	cat, err := s.store.GetCategoryByName(ctx, ref)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFound("resolve category", "category", ref)
	}
	return cat, err
}

// BuildTree groups a flat list into parent nodes. Orphans whose parent is
// missing are listed as top-level nodes.
func BuildTree(cats []model.Category) []model.CategoryNode {
	index := make(map[int64]int)
	var nodes []model.CategoryNode
	for _, c := range cats {
		if c.IsParent() {
			index[c.ID] = len(nodes)
			nodes = append(nodes, model.CategoryNode{Category: c, Children: []model.Category{}})
		}
	}
	for _, c := range cats {
		if c.IsParent() {
			continue
		}
		if i, ok := index[*c.ParentID]; ok {
			nodes[i].Children = append(nodes[i].Children, c)
			continue
		}
		nodes = append(nodes, model.CategoryNode{Category: c, Children: []model.Category{}})
	}
	return nodes
}

func getCategory(ctx context.Context, q service.Queries, op string, id int64) (*model.Category, error) {
	cat, err := q.GetCategory(ctx, id)
	if errors.Is(err, common.ErrNotFound) {
		return nil, common.NotFound(op, "category", idString(id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load category %d: %w", id, err)
	}
	return cat, nil
}

// requireTopLevel checks that parentID names an existing top-level category.
func requireTopLevel(ctx context.Context, q service.Queries, op string, parentID int64) error {
	parent, err := getCategory(ctx, q, op, parentID)
	if errors.Is(err, common.ErrNotFound) {
		return common.Integrityf(op, idString(parentID), "parent category does not exist")
	}
	if err != nil {
		return err
	}
	if !parent.IsParent() {
		return common.Integrityf(op, idString(parentID), "%q is a child category and cannot have children", parent.Name)
	}
	return nil
}

func childrenOf(ctx context.Context, q service.Queries, id int64) ([]model.Category, error) {
	cats, err := q.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	var children []model.Category
	for _, c := range cats {
		if c.ParentID != nil && *c.ParentID == id {
			children = append(children, c)
		}
	}
	return children, nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
