package rest

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/playlist_downloader/internal/downloader"
	"github.com/italolelis/playlist_downloader/internal/logctx"
	"github.com/italolelis/playlist_downloader/internal/storage"
	"github.com/italolelis/playlist_downloader/internal/telemetry"
)

// Snapshotter returns the live report of the running batch.
type Snapshotter interface {
	Snapshot() downloader.Report
}

type itemResponse struct {
	Identifier string `json:"identifier"`
	SourceKey  string `json:"source_key,omitempty"`
	Status     string `json:"status"`
	UpdatedAt  string `json:"updated_at"`
	LockedBy   string `json:"locked_by,omitempty"`
}

// StatusHandler serves the batch status, the ledger and the metrics endpoint.
type StatusHandler struct {
	status    Snapshotter
	items     storage.ItemReadRepository
	telemetry *telemetry.Telemetry
}

func NewStatusHandler(status Snapshotter, items storage.ItemReadRepository, tel *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		status:    status,
		items:     items,
		telemetry: tel,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(h.telemetry.Middleware)

	r.Get("/healthz", h.HandleHealth)
	r.Get("/status", h.HandleStatus)
	r.Get("/items", h.HandleItems)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.status.Snapshot())
}

func (h *StatusHandler) HandleItems(w http.ResponseWriter, r *http.Request) {
	records, err := h.items.GetItems(r.Context())
	if err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to list items", "err", err)
		writeJSON(w, r, http.StatusInternalServerError, map[string]string{"error": "failed to list items"})

		return
	}

	resp := make([]itemResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, itemResponse{
			Identifier: rec.Identifier,
			SourceKey:  rec.SourceKey,
			Status:     rec.Status,
			UpdatedAt:  rec.UpdatedAt.UTC().Format(time.RFC3339),
			LockedBy:   rec.LockedBy,
		})
	}

	writeJSON(w, r, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).ErrorContext(r.Context(), "failed to encode response", "err", err)
	}
}
