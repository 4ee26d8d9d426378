package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/api/middleware"
	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/storage"
)

// maxProjectSize bounds a project document upload. Project JSON can embed
// GPS tracks, so the limit is generous.
const maxProjectSize = 64 << 20

// ProjectHandler handles project document storage
type ProjectHandler struct {
	storage *storage.Service
	db      *database.Postgres
	logger  *zap.Logger
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(store *storage.Service, db *database.Postgres, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{
		storage: store,
		db:      db,
		logger:  logger,
	}
}

// Project is the API shape of a stored project
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Duration  float64   `json:"duration"`
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	FPS       float64   `json:"fps"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Save validates and stores a project document
func (h *ProjectHandler) Save(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxProjectSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	state, err := project.Parse(data)
	if err != nil {
		h.logger.Warn("Rejected invalid project document", zap.Error(err))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "Untitled project"
	}

	fileInfo, err := h.storage.Store(r.Context(), storage.ZoneAssets, "project.json", bytes.NewReader(data))
	if err != nil {
		h.logger.Error("Failed to store project document", zap.Error(err))
		http.Error(w, "failed to store project", http.StatusInternalServerError)
		return
	}

	user := middleware.GetUser(r.Context())
	userID := ""
	if user != nil {
		userID = user.ID
	}

	now := time.Now()
	_, err = h.db.Pool.Exec(r.Context(), `
		INSERT INTO projects (id, user_id, name, storage_path, duration, width, height, fps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, fileInfo.ID, nullIfEmpty(userID), name, fileInfo.Path,
		state.Settings.Duration, state.Settings.Width, state.Settings.Height, state.Settings.FPS, now)
	if err != nil {
		h.logger.Error("Failed to insert project record", zap.Error(err))
		h.storage.Delete(r.Context(), fileInfo.Path)
		http.Error(w, "failed to record project", http.StatusInternalServerError)
		return
	}

	proj := Project{
		ID:        fileInfo.ID,
		Name:      name,
		Path:      fileInfo.Path,
		Duration:  state.Settings.Duration,
		Width:     state.Settings.Width,
		Height:    state.Settings.Height,
		FPS:       state.Settings.FPS,
		CreatedAt: now,
		UpdatedAt: now,
	}

	h.logger.Info("Project saved",
		zap.String("project_id", proj.ID),
		zap.String("name", name),
		zap.Float64("duration", proj.Duration),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(proj)
}

// Update replaces a project document in place
func (h *ProjectHandler) Update(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	existing, err := h.getProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, maxProjectSize))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	state, err := project.Parse(data)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}

	fileInfo, err := h.storage.Store(r.Context(), storage.ZoneAssets, "project.json", bytes.NewReader(data))
	if err != nil {
		h.logger.Error("Failed to store project document", zap.Error(err))
		http.Error(w, "failed to store project", http.StatusInternalServerError)
		return
	}

	now := time.Now()
	_, err = h.db.Pool.Exec(r.Context(), `
		UPDATE projects
		SET storage_path = $1, duration = $2, width = $3, height = $4, fps = $5, updated_at = $6
		WHERE id = $7
	`, fileInfo.Path, state.Settings.Duration, state.Settings.Width, state.Settings.Height,
		state.Settings.FPS, now, projectID)
	if err != nil {
		h.logger.Error("Failed to update project record", zap.Error(err))
		h.storage.Delete(r.Context(), fileInfo.Path)
		http.Error(w, "failed to update project", http.StatusInternalServerError)
		return
	}

	// Old document is unreferenced once the row points elsewhere
	if existing.Path != fileInfo.Path {
		h.storage.Delete(r.Context(), existing.Path)
	}

	existing.Path = fileInfo.Path
	existing.Duration = state.Settings.Duration
	existing.Width = state.Settings.Width
	existing.Height = state.Settings.Height
	existing.FPS = state.Settings.FPS
	existing.UpdatedAt = now

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(existing)
}

// List returns the user's projects
func (h *ProjectHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	userID := ""
	if user != nil {
		userID = user.ID
	}

	rows, err := h.db.Pool.Query(r.Context(), `
		SELECT id, name, storage_path, duration, width, height, fps, created_at, updated_at
		FROM projects
		WHERE ($1 = '' OR user_id = $1 OR user_id IS NULL)
		ORDER BY updated_at DESC
		LIMIT 100
	`, userID)
	if err != nil {
		h.logger.Error("Failed to list projects", zap.Error(err))
		http.Error(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	projects := []Project{}
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.Path, &p.Duration, &p.Width, &p.Height,
			&p.FPS, &p.CreatedAt, &p.UpdatedAt); err != nil {
			h.logger.Error("Failed to scan project row", zap.Error(err))
			continue
		}
		projects = append(projects, p)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(projects)
}

// Get returns project metadata
func (h *ProjectHandler) Get(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	proj, err := h.getProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(proj)
}

// Document streams the raw project JSON
func (h *ProjectHandler) Document(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	proj, err := h.getProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	reader, err := h.storage.Retrieve(r.Context(), proj.Path)
	if err != nil {
		h.logger.Error("Failed to retrieve project document",
			zap.String("project_id", projectID), zap.Error(err))
		http.Error(w, "project document unavailable", http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/json")
	io.Copy(w, reader)
}

// Delete removes a project and its document
func (h *ProjectHandler) Delete(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")

	proj, err := h.getProject(r.Context(), projectID)
	if err != nil {
		http.Error(w, "project not found", http.StatusNotFound)
		return
	}

	if _, err := h.db.Pool.Exec(r.Context(), `DELETE FROM projects WHERE id = $1`, projectID); err != nil {
		h.logger.Error("Failed to delete project record", zap.Error(err))
		http.Error(w, "failed to delete project", http.StatusInternalServerError)
		return
	}

	if err := h.storage.Delete(r.Context(), proj.Path); err != nil {
		h.logger.Warn("Failed to delete project document",
			zap.String("project_id", projectID), zap.Error(err))
	}

	h.logger.Info("Project deleted", zap.String("project_id", projectID))
	w.WriteHeader(http.StatusNoContent)
}

func (h *ProjectHandler) getProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	err := h.db.Pool.QueryRow(ctx, `
		SELECT id, name, storage_path, duration, width, height, fps, created_at, updated_at
		FROM projects WHERE id = $1
	`, projectID).Scan(&p.ID, &p.Name, &p.Path, &p.Duration, &p.Width, &p.Height,
		&p.FPS, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
