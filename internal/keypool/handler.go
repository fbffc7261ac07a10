package keypool

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/af-corp/aegis-router/internal/httputil"
	"github.com/af-corp/aegis-router/internal/schedule"
	"github.com/af-corp/aegis-router/internal/types"
	"github.com/go-chi/chi/v5"
)

// Handler exposes a Manager over HTTP.
type Handler struct {
	manager *Manager
	// refresh shares its execution slot with the scheduled cache refresh.
	refresh *schedule.Job
	logger  *slog.Logger
	// admin wraps the cache refresh endpoint, typically with a bearer token check.
	admin func(http.Handler) http.Handler
}

// NewHandler mounts m. A nil refresh job makes /refresh_cache call the
// manager directly.
func NewHandler(m *Manager, refresh *schedule.Job, logger *slog.Logger, admin func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{manager: m, refresh: refresh, logger: logger, admin: admin}
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/get_apikey", h.GetAPIKey)
	r.Post("/notice_apikey", h.NoticeAPIKey)
	r.Get("/stats", h.GetStats)
	r.Get("/health", h.Health)

	refresh := http.Handler(http.HandlerFunc(h.RefreshCache))
	if h.admin != nil {
		refresh = h.admin(refresh)
	}
	r.Method(http.MethodPost, "/refresh_cache", refresh)
}

type issueRequest struct {
	SourceName string `json:"source_name"`
}

type issueResponse struct {
	APIKey string `json:"api_key"`
}

func (h *Handler) GetAPIKey(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestID(r.Context())

	var req issueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SourceName == "" {
		httputil.WriteBadRequestError(w, reqID, "Body must be a JSON object with a non-empty source_name")
		return
	}

	key, err := h.manager.Issue(r.Context(), req.SourceName)
	switch {
	case errors.Is(err, ErrUnknownSource), errors.Is(err, ErrEmptyPool):
		httputil.WriteNotFoundError(w, reqID, "No credentials available for source "+req.SourceName)
		return
	case err != nil:
		h.logger.Error("credential issue failed", "source", req.SourceName, "error", err)
		httputil.WriteInternalError(w, reqID, "Failed to issue credential")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, issueResponse{APIKey: key})
}

func (h *Handler) NoticeAPIKey(w http.ResponseWriter, r *http.Request) {
	reqID := httputil.RequestID(r.Context())

	var rec types.UsageRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid usage record: "+err.Error())
		return
	}

	err := h.manager.Report(r.Context(), rec)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusCreated, map[string]string{"status": "recorded", "request_id": rec.RequestID})
	case errors.Is(err, ErrInvalidRecord):
		httputil.WriteBadRequestError(w, reqID, err.Error())
	case errors.Is(err, ErrDuplicateRequest):
		httputil.WriteConflictError(w, reqID, "Usage record "+rec.RequestID+" already exists")
	default:
		httputil.WriteInternalError(w, reqID, "Failed to persist usage record")
	}
}

func (h *Handler) RefreshCache(w http.ResponseWriter, r *http.Request) {
	ran, err := true, error(nil)
	if h.refresh != nil {
		ran, err = h.refresh.RunNow(r.Context())
	} else {
		err = h.manager.RefreshFailureCache(r.Context())
	}
	if err != nil {
		h.logger.Error("manual failure cache refresh failed", "error", err)
		httputil.WriteInternalError(w, httputil.RequestID(r.Context()), "Failed to refresh failure cache")
		return
	}
	message := "failure cache refreshed"
	if !ran {
		message = "failure cache refresh already in progress"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.manager.Stats())
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
