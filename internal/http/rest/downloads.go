// Package rest exposes the download coordinator and model catalog over HTTP.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/downloader"
	"github.com/modzoo/hubfetch/internal/logctx"
	"github.com/modzoo/hubfetch/internal/storage"
	"github.com/modzoo/hubfetch/internal/telemetry"
)

const defaultHistoryLimit = 20

// DownloadService is the coordinator surface the handler needs.
type DownloadService interface {
	Start(ctx context.Context, req downloader.Request) error
	Subscribe(ctx context.Context, resourceID string) (<-chan download.Event, error)
	Pause(resourceID string) error
	Resume(resourceID string) error
	Cancel(resourceID string) error
	State(resourceID string) download.DownloadStatus
	Progress(resourceID string) (download.DownloadProgress, bool)
}

// DownloadHandler serves the download lifecycle and the model catalog.
type DownloadHandler struct {
	svc       DownloadService
	models    storage.ModelRepository
	history   storage.HistoryRepository
	telemetry *telemetry.Telemetry
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(svc DownloadService, models storage.ModelRepository, history storage.HistoryRepository, t *telemetry.Telemetry) *DownloadHandler {
	return &DownloadHandler{
		svc:       svc,
		models:    models,
		history:   history,
		telemetry: t,
	}
}

func (h *DownloadHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/downloads", h.HandleStart)
	r.Get("/downloads/{owner}/{name}/state", h.HandleState)
	r.Get("/downloads/{owner}/{name}/events", h.HandleEvents)
	r.Get("/downloads/{owner}/{name}/history", h.HandleHistory)
	r.Post("/downloads/{owner}/{name}/pause", h.HandlePause)
	r.Post("/downloads/{owner}/{name}/resume", h.HandleResume)
	r.Post("/downloads/{owner}/{name}/cancel", h.HandleCancel)

	r.Get("/models", h.HandleListModels)
	r.Get("/models/{id}", h.HandleGetModel)
	r.Delete("/models/{id}", h.HandleDeleteModel)

	return r
}

type startRequest struct {
	ResourceID       string `json:"resource_id"`
	Backend          string `json:"backend"`
	Revision         string `json:"revision,omitempty"`
	FilenameOverride string `json:"filename_override,omitempty"`
}

type statusResponse struct {
	ResourceID string  `json:"resource_id"`
	State      string  `json:"state"`
	Fraction   float64 `json:"fraction"`
	Error      string  `json:"error,omitempty"`
}

type progressPayload struct {
	BytesDownloaded int64   `json:"bytes_downloaded"`
	TotalBytes      int64   `json:"total_bytes"`
	FilesCompleted  int     `json:"files_completed"`
	TotalFiles      int     `json:"total_files"`
	CurrentFileName string  `json:"current_file_name,omitempty"`
	Fraction        float64 `json:"fraction"`
}

type eventPayload struct {
	Type     string           `json:"type"`
	Progress *progressPayload `json:"progress,omitempty"`
	Model    *modelResponse   `json:"model,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type modelResponse struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	ResourceID   string            `json:"resource_id"`
	Backend      string            `json:"backend"`
	Location     string            `json:"location"`
	TotalSize    int64             `json:"total_size"`
	DownloadDate time.Time         `json:"download_date"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type historyResponse struct {
	Status     string    `json:"status"`
	Bytes      int64     `json:"bytes"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func toModelResponse(info download.ModelInfo) modelResponse {
	return modelResponse{
		ID:           info.ID,
		Name:         info.Name,
		ResourceID:   info.ResourceID,
		Backend:      string(info.Backend),
		Location:     info.Location,
		TotalSize:    info.TotalSize,
		DownloadDate: info.DownloadDate,
		Metadata:     info.Metadata,
	}
}

// HandleStart begins (or attaches to) a download for the requested resource.
func (h *DownloadHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.ResourceID == "" {
		http.Error(w, "resource_id is required", http.StatusBadRequest)

		return
	}

	if req.Backend == "" {
		http.Error(w, "backend is required", http.StatusBadRequest)

		return
	}

	err := h.svc.Start(r.Context(), downloader.Request{
		ResourceID:       req.ResourceID,
		Backend:          download.Backend(req.Backend),
		Revision:         req.Revision,
		FilenameOverride: req.FilenameOverride,
	})
	if err != nil {
		logger.Error("failed to start download", "resource_id", req.ResourceID, "err", err)
		writeDomainError(w, err)

		return
	}

	logger.Info("download started", "resource_id", req.ResourceID, "backend", req.Backend)

	writeJSON(w, http.StatusAccepted, h.statusOf(req.ResourceID))
}

// HandleState reports the lifecycle state of a resource.
func (h *DownloadHandler) HandleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.statusOf(resourceIDFromRequest(r)))
}

// HandleEvents streams progress as server-sent events until the transfer
// reaches a terminal state or the client disconnects. Disconnecting never
// cancels the transfer.
func (h *DownloadHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	resourceID := resourceIDFromRequest(r)

	events, err := h.svc.Subscribe(r.Context(), resourceID)
	if err != nil {
		writeDomainError(w, err)

		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}

			payload := toEventPayload(ev)

			data, err := json.Marshal(payload)
			if err != nil {
				logger.Error("failed to marshal event", "err", err)

				continue
			}

			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func toEventPayload(ev download.Event) eventPayload {
	switch {
	case ev.Progress != nil:
		return eventPayload{
			Type: "progress",
			Progress: &progressPayload{
				BytesDownloaded: ev.Progress.BytesDownloaded,
				TotalBytes:      ev.Progress.TotalBytes,
				FilesCompleted:  ev.Progress.FilesCompleted,
				TotalFiles:      ev.Progress.TotalFiles,
				CurrentFileName: ev.Progress.CurrentFileName,
				Fraction:        ev.Progress.Fraction(),
			},
		}
	case ev.Completed != nil:
		model := toModelResponse(*ev.Completed)

		return eventPayload{Type: "completed", Model: &model}
	case errors.Is(ev.Err, download.ErrCancelled):
		return eventPayload{Type: "cancelled"}
	default:
		return eventPayload{Type: "failed", Error: ev.Err.Error()}
	}
}

// HandleHistory lists the recorded outcomes for a resource, newest first.
func (h *DownloadHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	resourceID := resourceIDFromRequest(r)

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		limit = parsed
	}

	records, err := h.history.GetHistory(r.Context(), resourceID, limit)
	if err != nil {
		logger.Error("failed to load history", "resource_id", resourceID, "err", err)
		http.Error(w, "failed to load history", http.StatusInternalServerError)

		return
	}

	out := make([]historyResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, historyResponse{
			Status:     rec.Status,
			Bytes:      rec.Bytes,
			Error:      rec.Error,
			OccurredAt: rec.OccurredAt,
		})
	}

	writeJSON(w, http.StatusOK, out)
}

// HandlePause suspends an in-flight download.
func (h *DownloadHandler) HandlePause(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Pause)
}

// HandleResume continues a paused download.
func (h *DownloadHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Resume)
}

// HandleCancel stops a download and resets it to not started.
func (h *DownloadHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.svc.Cancel)
}

func (h *DownloadHandler) transition(w http.ResponseWriter, r *http.Request, fn func(string) error) {
	resourceID := resourceIDFromRequest(r)

	if err := fn(resourceID); err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, h.statusOf(resourceID))
}

// HandleListModels lists the downloaded model catalog.
func (h *DownloadHandler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	models, err := h.models.GetModels(r.Context())
	if err != nil {
		logger.Error("failed to list models", "err", err)
		http.Error(w, "failed to list models", http.StatusInternalServerError)

		return
	}

	out := make([]modelResponse, 0, len(models))
	for _, m := range models {
		out = append(out, toModelResponse(m))
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleGetModel fetches one model by its storage id.
func (h *DownloadHandler) HandleGetModel(w http.ResponseWriter, r *http.Request) {
	info, err := h.models.GetModel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, toModelResponse(info))
}

// HandleDeleteModel removes a model from the catalog.
func (h *DownloadHandler) HandleDeleteModel(w http.ResponseWriter, r *http.Request) {
	if err := h.models.DeleteModel(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeDomainError(w, err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *DownloadHandler) statusOf(resourceID string) statusResponse {
	status := h.svc.State(resourceID)

	resp := statusResponse{
		ResourceID: resourceID,
		State:      string(status.State),
		Fraction:   status.Fraction,
	}

	if status.Err != nil {
		resp.Error = status.Err.Error()
	}

	return resp
}

func resourceIDFromRequest(r *http.Request) string {
	return chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "name")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

// writeDomainError maps domain errors onto HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var (
		notFound     *download.NotFoundError
		authErr      *download.AuthError
		insufficient *download.InsufficientStorageError
	)

	switch {
	case errors.Is(err, download.ErrInvalidTransition):
		http.Error(w, "invalid state transition", http.StatusConflict)
	case errors.Is(err, storage.ErrNotTracked):
		http.Error(w, "model not found", http.StatusNotFound)
	case errors.As(err, &notFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.As(err, &authErr):
		http.Error(w, err.Error(), http.StatusBadGateway)
	case errors.As(err, &insufficient):
		http.Error(w, err.Error(), http.StatusInsufficientStorage)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
