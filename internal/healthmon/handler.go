package healthmon

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/af-corp/aegis-router/internal/httputil"
	"github.com/go-chi/chi/v5"
)

// SnapshotSource is what the HTTP surface needs from a Monitor.
type SnapshotSource interface {
	Snapshot() *Snapshot
	Trigger() bool
}

type Handler struct {
	source SnapshotSource
	logger *slog.Logger
}

func NewHandler(source SnapshotSource, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{source: source, logger: logger}
}

// Routes mounts the monitor endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/check_healthy", h.CheckHealthy)
	r.Post("/trigger_health_check", h.TriggerHealthCheck)
}

// CheckHealthy serves the current snapshot in wire form.
func (h *Handler) CheckHealthy(w http.ResponseWriter, r *http.Request) {
	data, err := json.Marshal(h.source.Snapshot())
	if err != nil {
		h.logger.Error("failed to encode snapshot", "error", err)
		httputil.WriteInternalError(w, httputil.RequestID(r.Context()), "failed to encode snapshot")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(data)
}

// TriggerHealthCheck starts a probe cycle and returns without waiting.
func (h *Handler) TriggerHealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "accepted"
	if !h.source.Trigger() {
		status = "already_running"
	}
	h.logger.Info("manual health check requested", "status", status)
	httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": status})
}
