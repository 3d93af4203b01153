package api

import (
	"net/http"
	"time"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/model"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/taxonomy"
)

type categoryRequest struct {
	CategoryID *int64 `json:"category_id"`
}

type idsRequest struct {
	IDs []string `json:"ids"`
}

type stageRequest struct {
	CategoryID *int64   `json:"category_id,omitempty"` // Nil stages each prediction
	IDs        []string `json:"ids"`
}

type mergeRequest struct {
	Into int64 `json:"into"`
}

type updateCategoryRequest struct {
	ParentID    *int64 `json:"parent_id,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Color       string `json:"color,omitempty"`
	TopLevel    bool   `json:"top_level,omitempty"` // Move to the top level
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	txns, err := s.review.ListPending(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) listStaged(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	txns, err := s.review.ListStaged(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txns)
}

func (s *Server) stage(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.CategoryID == nil {
		s.writeError(w, common.Validationf("stage", pathID(r), "category_id is required"))
		return
	}
	if err := s.review.Stage(r.Context(), pathID(r), *req.CategoryID); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": pathID(r)})
}

func (s *Server) bulkStage(w http.ResponseWriter, r *http.Request) {
	var req stageRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.review.BulkStage(r.Context(), req.IDs, req.CategoryID))
}

func (s *Server) unstage(w http.ResponseWriter, r *http.Request) {
	if err := s.review.Unstage(r.Context(), pathID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": pathID(r)})
}

func (s *Server) revertStaged(w http.ResponseWriter, r *http.Request) {
	n, err := s.review.RevertAllStaged(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"reverted": n})
}

func (s *Server) commit(w http.ResponseWriter, r *http.Request) {
	var req idsRequest
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			s.writeError(w, err)
			return
		}
	}
	result, err := s.review.CommitStaged(r.Context(), req.IDs)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) confirm(w http.ResponseWriter, r *http.Request) {
	var req categoryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.CategoryID == nil {
		s.writeError(w, common.Validationf("confirm", pathID(r), "category_id is required"))
		return
	}
	txn, err := s.review.ConfirmDirect(r.Context(), pathID(r), *req.CategoryID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

func (s *Server) bulk(w http.ResponseWriter, r *http.Request) {
	var req review.BulkRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.review.Bulk(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) lifecycle(w http.ResponseWriter, r *http.Request) {
	lc, err := s.review.Lifecycle(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	body := map[string]any{"state": lc.State.String()}
	switch lc.State {
	case model.LifecycleActive:
		body["transaction"] = lc.Active
	case model.LifecycleDeleted:
		body["deleted"] = lc.Deleted
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) softDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.review.SoftDelete(r.Context(), pathID(r), model.ReasonUser); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": pathID(r)})
}

func (s *Server) listDeleted(w http.ResponseWriter, r *http.Request) {
	deleted, err := s.review.ListDeleted(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, deleted)
}

func (s *Server) restore(w http.ResponseWriter, r *http.Request) {
	txn, err := s.review.Restore(r.Context(), pathID(r))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txn)
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	if err := s.review.Purge(r.Context(), pathID(r)); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": pathID(r)})
}

func (s *Server) purgeAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.review.PurgeAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}

func (s *Server) tree(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.taxonomy.Tree(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) createCategory(w http.ResponseWriter, r *http.Request) {
	var req taxonomy.CreateRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	cat, err := s.taxonomy.Create(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, cat)
}

// updateCategory renames and, when parent_id or top_level is given, moves.
func (s *Server) updateCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req updateCategoryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	var cat *model.Category
	if req.Name != "" || req.DisplayName != "" || req.Color != "" {
		cat, err = s.taxonomy.Rename(r.Context(), id, taxonomy.RenameRequest{
			Name:        req.Name,
			DisplayName: req.DisplayName,
			Color:       req.Color,
		})
		if err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.ParentID != nil || req.TopLevel {
		if cat, err = s.taxonomy.Move(r.Context(), id, req.ParentID); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if cat == nil {
		s.writeError(w, common.Validationf("update category", pathID(r), "nothing to update"))
		return
	}
	s.writeJSON(w, http.StatusOK, cat)
}

func (s *Server) mergeCategory(w http.ResponseWriter, r *http.Request) {
	from, err := pathInt(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req mergeRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.taxonomy.Merge(r.Context(), from, req.Into)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) deleteCategory(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.taxonomy.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int64{"id": id})
}

func (s *Server) classifyPending(w http.ResponseWriter, r *http.Request) {
	if s.cascade == nil {
		s.writeError(w, &common.ExternalCapabilityError{Op: "classify", Reason: "classification is not configured"})
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	result, err := s.cascade.ClassifyPending(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// spending reports confirmed spending per category for [start, end).
// Dates are YYYY-MM-DD; end defaults to the day after start's month ends.
func (s *Server) spending(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, err := time.Parse("2006-01-02", q.Get("start"))
	if err != nil {
		s.writeError(w, common.Validationf("spending", "start", "start must be YYYY-MM-DD"))
		return
	}
	end := start.AddDate(0, 1, 0)
	if raw := q.Get("end"); raw != "" {
		if end, err = time.Parse("2006-01-02", raw); err != nil {
			s.writeError(w, common.Validationf("spending", "end", "end must be YYYY-MM-DD"))
			return
		}
	}
	rows, err := s.taxonomy.Spending(r.Context(), start, end)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, rows)
}
