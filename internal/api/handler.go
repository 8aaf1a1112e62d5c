package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/lalithlochan/aftercare/internal/circuitbreaker"
	"github.com/lalithlochan/aftercare/internal/db"
)

// OpsRepository defines the store operations behind the ops API
type OpsRepository interface {
	Counts(ctx context.Context) (*db.StatusCounts, error)
	RecentExecutions(ctx context.Context, limit int) ([]*db.ExecutionLog, error)
	RecentDeliveries(ctx context.Context, limit int) ([]*db.DeliveryLog, error)
	FailureReport(ctx context.Context, since time.Time, topN int) (*db.FailureReport, error)
	ScriptStats(ctx context.Context, script string, since time.Time) (*db.ScriptStats, error)
	MarkFeedbackProvided(ctx context.Context, token string) error
	Backup(ctx context.Context, dir string) (string, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger    *zap.Logger
	repo      OpsRepository
	backupDir string
	breakers  []*circuitbreaker.CircuitBreaker
	now       func() time.Time
}

// NewHandler creates a new API handler. breakers are reported by GET /v1/breakers.
func NewHandler(logger *zap.Logger, repo OpsRepository, backupDir string, breakers ...*circuitbreaker.CircuitBreaker) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		backupDir: backupDir,
		breakers:  breakers,
		now:       time.Now,
	}
}

// Mount registers the /v1 routes on r. limiter may be nil, which leaves the
// feedback endpoint unthrottled.
func (h *Handler) Mount(r chi.Router, limiter Limiter) {
	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/executions", h.ListExecutions)
		r.Get("/emails", h.ListDeliveries)
		r.Get("/failures", h.Failures)
		r.Get("/scripts/{name}/stats", h.ScriptStats)
		r.Get("/breakers", h.Breakers)
		r.Post("/backup", h.Backup)

		r.With(RateLimitMiddleware(limiter, h.logger, IPKeyFunc)).
			Post("/feedback/{token}", h.RecordFeedback)
	})
}

// Status handles GET /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	counts, err := h.repo.Counts(r.Context())
	if err != nil {
		h.logger.Error("failed to load status counts", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load status", "")
		return
	}
	h.writeJSON(w, http.StatusOK, counts)
}

// ListExecutions handles GET /v1/executions?limit=10
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10, 1, 100)

	runs, err := h.repo.RecentExecutions(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list executions", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list executions", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  runs,
		"limit": limit,
		"count": len(runs),
	})
}

// ListDeliveries handles GET /v1/emails?limit=20
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20, 1, 100)

	logs, err := h.repo.RecentDeliveries(r.Context(), limit)
	if err != nil {
		h.logger.Error("failed to list deliveries", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list emails", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":  logs,
		"limit": limit,
		"count": len(logs),
	})
}

// Failures handles GET /v1/failures?days=7
func (h *Handler) Failures(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7, 1, 365)
	since := h.now().AddDate(0, 0, -days)

	report, err := h.repo.FailureReport(r.Context(), since, 5)
	if err != nil {
		h.logger.Error("failed to build failure report", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to build failure report", "")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"report":       report,
		"days":         days,
		"success_rate": report.SuccessRate(),
	})
}

// ScriptStats handles GET /v1/scripts/{name}/stats?days=7
func (h *Handler) ScriptStats(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing script name", "")
		return
	}
	days := queryInt(r, "days", 7, 1, 365)

	stats, err := h.repo.ScriptStats(r.Context(), name, h.now().AddDate(0, 0, -days))
	if err != nil {
		h.logger.Error("failed to load script stats", zap.Error(err), zap.String("script", name))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to load script stats", "")
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

// Breakers handles GET /v1/breakers
func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	out := make([]circuitbreaker.Stats, 0, len(h.breakers))
	for _, cb := range h.breakers {
		out = append(out, cb.Stats())
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": out})
}

// Backup handles POST /v1/backup
func (h *Handler) Backup(w http.ResponseWriter, r *http.Request) {
	path, err := h.repo.Backup(r.Context(), h.backupDir)
	if err != nil {
		h.logger.Error("backup failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "backup_error", "Backup failed", "")
		return
	}

	h.logger.Info("backup written", zap.String("path", path))
	h.writeJSON(w, http.StatusCreated, map[string]string{"path": path})
}

// RecordFeedback handles POST /v1/feedback/{token}
func (h *Handler) RecordFeedback(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing feedback token", "")
		return
	}

	err := h.repo.MarkFeedbackProvided(r.Context(), token)
	switch {
	case errors.Is(err, db.ErrNotFound):
		h.writeError(w, http.StatusNotFound, "not_found", "Feedback token not found", "")
		return
	case err != nil:
		h.logger.Error("failed to record feedback", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to record feedback", "")
		return
	}

	h.logger.Info("feedback recorded")
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "recorded"})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}

func writeProblem(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// queryInt parses a bounded integer query parameter, falling back to def
// when it is missing or out of range.
func queryInt(r *http.Request, key string, def, min, max int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}
