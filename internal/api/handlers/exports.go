package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/api/middleware"
	"github.com/tracklight/backend/internal/modules/exports"
	"github.com/tracklight/backend/internal/render/encoder"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/storage"
)

// ExportHandler handles export job endpoints
type ExportHandler struct {
	module  *exports.Module
	storage *storage.Service
	db      *database.Postgres
	logger  *zap.Logger
}

// NewExportHandler creates a new export handler
func NewExportHandler(module *exports.Module, store *storage.Service, db *database.Postgres, logger *zap.Logger) *ExportHandler {
	return &ExportHandler{
		module:  module,
		storage: store,
		db:      db,
		logger:  logger,
	}
}

// CreateExportRequest represents an export creation request
type CreateExportRequest struct {
	ProjectID    string  `json:"projectId"`
	Format       string  `json:"format"`
	Width        int     `json:"width,omitempty"`
	Height       int     `json:"height,omitempty"`
	FPS          float64 `json:"fps,omitempty"`
	VideoCodec   string  `json:"videoCodec,omitempty"`
	AudioCodec   string  `json:"audioCodec,omitempty"`
	VideoBitrate int     `json:"videoBitrate,omitempty"`
	AudioBitrate int     `json:"audioBitrate,omitempty"`
	Priority     string  `json:"priority,omitempty"`
}

// Create queues a new export job for a stored project
func (h *ExportHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "projectId is required", http.StatusBadRequest)
		return
	}

	var projectPath string
	err := h.db.Pool.QueryRow(r.Context(),
		`SELECT storage_path FROM projects WHERE id = $1`, req.ProjectID).Scan(&projectPath)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	user := middleware.GetUser(r.Context())
	userID := "anonymous"
	if user != nil {
		userID = user.ID
	}

	job, err := h.module.Create(r.Context(), exports.CreateParams{
		UserID:      userID,
		ProjectPath: projectPath,
		Settings: encoder.Settings{
			Format:       encoder.Format(req.Format),
			Width:        req.Width,
			Height:       req.Height,
			FPS:          req.FPS,
			VideoCodec:   encoder.VideoCodec(req.VideoCodec),
			AudioCodec:   encoder.AudioCodec(req.AudioCodec),
			VideoBitrate: req.VideoBitrate,
			AudioBitrate: req.AudioBitrate,
		},
		Priority: req.Priority,
	})
	if err != nil {
		if strings.Contains(err.Error(), "invalid export settings") {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		h.logger.Error("Failed to create export", zap.Error(err))
		http.Error(w, "failed to create export", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

// List returns the user's export jobs
func (h *ExportHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	userID := "anonymous"
	if user != nil {
		userID = user.ID
	}

	status := r.URL.Query().Get("status")

	jobs, err := h.module.List(r.Context(), userID, status)
	if err != nil {
		h.logger.Error("Failed to list exports", zap.Error(err))
		http.Error(w, "failed to list exports", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

// Get returns a specific export job
func (h *ExportHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.module.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "export not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// Cancel requests cancellation of a running export
func (h *ExportHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := h.module.Cancel(r.Context(), jobID); err != nil {
		if strings.Contains(err.Error(), "cannot be cancelled") {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		h.logger.Error("Failed to cancel export", zap.Error(err), zap.String("job_id", jobID))
		http.Error(w, "failed to cancel export", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Delete removes an export job and its output
func (h *ExportHandler) Delete(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := h.module.Delete(r.Context(), jobID); err != nil {
		h.logger.Error("Failed to delete export", zap.Error(err), zap.String("job_id", jobID))
		http.Error(w, "failed to delete export", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Download streams the finished export file
func (h *ExportHandler) Download(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.module.Get(r.Context(), jobID)
	if err != nil {
		http.Error(w, "export not found", http.StatusNotFound)
		return
	}
	if job.Status != exports.StatusCompleted || job.OutputPath == "" {
		http.Error(w, "export not finished", http.StatusConflict)
		return
	}

	reader, err := h.storage.Retrieve(r.Context(), job.OutputPath)
	if err != nil {
		h.logger.Error("Failed to retrieve export output",
			zap.String("job_id", jobID), zap.Error(err))
		http.Error(w, "output unavailable", http.StatusNotFound)
		return
	}
	defer reader.Close()

	settings := job.Settings
	w.Header().Set("Content-Type", settings.MIMEType())
	w.Header().Set("Content-Disposition", `attachment; filename="`+jobID+"."+string(settings.Format)+`"`)
	io.Copy(w, reader)
}
