// Package api exposes the review, deletion, taxonomy and report operations
// as JSON over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/Veraticus/tally/internal/common"
	"github.com/Veraticus/tally/internal/engine"
	"github.com/Veraticus/tally/internal/review"
	"github.com/Veraticus/tally/internal/taxonomy"
)

// Response is the envelope every endpoint writes.
type Response struct {
	Data    any    `json:"data,omitempty"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Server routes HTTP requests to the domain services.
type Server struct {
	review   *review.Machine
	taxonomy *taxonomy.Service
	cascade  *engine.Cascade
	router   *mux.Router
	logger   *slog.Logger
}

// New builds the router. cascade may be nil, which disables POST /classify/pending.
func New(machine *review.Machine, tax *taxonomy.Service, cascade *engine.Cascade) *Server {
	s := &Server{
		review:   machine,
		taxonomy: tax,
		cascade:  cascade,
		router:   mux.NewRouter().StrictSlash(true),
		logger:   common.Component("api"),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.logRequests, setContentType)

	r.HandleFunc("/transactions/pending", s.listPending).Methods(http.MethodGet)
	r.HandleFunc("/transactions/staged", s.listStaged).Methods(http.MethodGet)
	r.HandleFunc("/transactions/commit", s.commit).Methods(http.MethodPost)
	r.HandleFunc("/transactions/bulk", s.bulk).Methods(http.MethodPost)
	r.HandleFunc("/transactions/stage", s.bulkStage).Methods(http.MethodPost)
	r.HandleFunc("/transactions/revert-staged", s.revertStaged).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/stage", s.stage).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/unstage", s.unstage).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}/confirm", s.confirm).Methods(http.MethodPost)
	r.HandleFunc("/transactions/{id}", s.lifecycle).Methods(http.MethodGet)
	r.HandleFunc("/transactions/{id}", s.softDelete).Methods(http.MethodDelete)

	r.HandleFunc("/deleted", s.listDeleted).Methods(http.MethodGet)
	r.HandleFunc("/deleted", s.purgeAll).Methods(http.MethodDelete)
	r.HandleFunc("/deleted/{id}/restore", s.restore).Methods(http.MethodPost)
	r.HandleFunc("/deleted/{id}", s.purge).Methods(http.MethodDelete)

	r.HandleFunc("/categories/tree", s.tree).Methods(http.MethodGet)
	r.HandleFunc("/categories", s.createCategory).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id}", s.updateCategory).Methods(http.MethodPatch)
	r.HandleFunc("/categories/{id}/merge", s.mergeCategory).Methods(http.MethodPost)
	r.HandleFunc("/categories/{id}", s.deleteCategory).Methods(http.MethodDelete)

	r.HandleFunc("/classify/pending", s.classifyPending).Methods(http.MethodPost)
	r.HandleFunc("/reports/spending", s.spending).Methods(http.MethodGet)
}

func setContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

// StatusFor maps the error taxonomy onto HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, common.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, common.ErrExternal):
		return http.StatusBadGateway
	case errors.Is(err, common.ErrIntegrity):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(Response{Status: "success", Data: data}); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		message = "internal error"
	}
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(Response{Status: "error", Message: message}); encErr != nil {
		s.logger.Warn("Failed to write response", "error", encErr)
	}
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return &common.ValidationError{Op: "decode", Reason: "invalid request body", Err: err}
	}
	return nil
}

func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

func pathInt(r *http.Request) (int64, error) {
	raw := pathID(r)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, common.Validationf("parse", raw, "id must be an integer")
	}
	return id, nil
}

func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, common.Validationf("parse", "limit", "limit must be a non-negative integer")
	}
	return n, nil
}
