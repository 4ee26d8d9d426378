package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/api/middleware"
	"github.com/tracklight/backend/internal/render/media"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/storage"
)

// Prober extracts media metadata from a stored file.
type Prober interface {
	Probe(ctx context.Context, path string) (*media.Info, error)
}

// AssetHandler handles source media uploads and lookups
type AssetHandler struct {
	storage *storage.Service
	db      *database.Postgres
	prober  Prober
	logger  *zap.Logger
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(store *storage.Service, db *database.Postgres, prober Prober, logger *zap.Logger) *AssetHandler {
	return &AssetHandler{
		storage: store,
		db:      db,
		prober:  prober,
		logger:  logger,
	}
}

// Asset is the API shape of one uploaded source file
type Asset struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	Kind       string    `json:"kind"`
	MimeType   string    `json:"mimeType"`
	Size       int64     `json:"size"`
	Width      int       `json:"width,omitempty"`
	Height     int       `json:"height,omitempty"`
	Duration   float64   `json:"duration,omitempty"`
	HasAudio   bool      `json:"hasAudio,omitempty"`
	SampleRate int       `json:"sampleRate,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Upload stores a source file and probes its media properties
func (h *AssetHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, "failed to parse form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "failed to get file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	fileInfo, err := h.storage.Store(r.Context(), storage.ZoneAssets, header.Filename, file)
	if err != nil {
		h.logger.Error("Failed to store asset", zap.Error(err))
		http.Error(w, "failed to store file", http.StatusInternalServerError)
		return
	}

	buffer := make([]byte, 512)
	file.Seek(0, io.SeekStart)
	n, _ := file.Read(buffer)
	mimeType := http.DetectContentType(buffer[:n])
	kind := assetKind(mimeType, header.Filename)

	asset := Asset{
		ID:        fileInfo.ID,
		Name:      header.Filename,
		Path:      fileInfo.Path,
		Kind:      kind,
		MimeType:  mimeType,
		Size:      fileInfo.Size,
		CreatedAt: fileInfo.CreatedAt,
	}

	// Video and audio carry playable metadata the editor needs up front
	if kind == "video" || kind == "audio" {
		if info, err := h.prober.Probe(r.Context(), h.storage.GetFullPath(fileInfo.Path)); err != nil {
			h.logger.Warn("Asset probe failed",
				zap.String("asset_id", fileInfo.ID), zap.Error(err))
		} else {
			asset.Width = info.Width
			asset.Height = info.Height
			asset.Duration = info.Duration
			asset.HasAudio = info.HasAudio
			asset.SampleRate = info.SampleRate
		}
	}

	user := middleware.GetUser(r.Context())
	userID := ""
	if user != nil {
		userID = user.ID
	}

	_, err = h.db.Pool.Exec(r.Context(), `
		INSERT INTO assets (id, user_id, original_name, storage_path, mime_type, kind, size,
		                    width, height, duration, has_audio, sample_rate, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, asset.ID, nullIfEmpty(userID), asset.Name, asset.Path, asset.MimeType, asset.Kind, asset.Size,
		asset.Width, asset.Height, asset.Duration, asset.HasAudio, asset.SampleRate, asset.CreatedAt)
	if err != nil {
		h.logger.Error("Failed to insert asset record", zap.Error(err))
		h.storage.Delete(r.Context(), asset.Path)
		http.Error(w, "failed to record asset", http.StatusInternalServerError)
		return
	}

	h.logger.Info("Asset uploaded",
		zap.String("asset_id", asset.ID),
		zap.String("filename", asset.Name),
		zap.String("kind", asset.Kind),
		zap.Int64("size", asset.Size),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(asset)
}

// List returns the user's assets
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	userID := ""
	if user != nil {
		userID = user.ID
	}

	rows, err := h.db.Pool.Query(r.Context(), `
		SELECT id, original_name, storage_path, mime_type, kind, size,
		       width, height, duration, has_audio, sample_rate, created_at
		FROM assets
		WHERE ($1 = '' OR user_id = $1 OR user_id IS NULL)
		ORDER BY created_at DESC
		LIMIT 100
	`, userID)
	if err != nil {
		h.logger.Error("Failed to list assets", zap.Error(err))
		http.Error(w, "failed to list assets", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	assets := []Asset{}
	for rows.Next() {
		var a Asset
		if err := rows.Scan(&a.ID, &a.Name, &a.Path, &a.MimeType, &a.Kind, &a.Size,
			&a.Width, &a.Height, &a.Duration, &a.HasAudio, &a.SampleRate, &a.CreatedAt); err != nil {
			h.logger.Error("Failed to scan asset row", zap.Error(err))
			continue
		}
		assets = append(assets, a)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(assets)
}

// Get returns asset metadata
func (h *AssetHandler) Get(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")

	asset, err := h.getAsset(r.Context(), assetID)
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(asset)
}

// Download streams the asset file
func (h *AssetHandler) Download(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")

	asset, err := h.getAsset(r.Context(), assetID)
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	reader, err := h.storage.Retrieve(r.Context(), asset.Path)
	if err != nil {
		h.logger.Error("Failed to retrieve asset",
			zap.String("asset_id", assetID), zap.Error(err))
		http.Error(w, "asset unavailable", http.StatusNotFound)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", asset.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+asset.Name+`"`)
	io.Copy(w, reader)
}

// Delete removes an asset and its file
func (h *AssetHandler) Delete(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")

	asset, err := h.getAsset(r.Context(), assetID)
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	if _, err := h.db.Pool.Exec(r.Context(), `DELETE FROM assets WHERE id = $1`, assetID); err != nil {
		h.logger.Error("Failed to delete asset record", zap.Error(err))
		http.Error(w, "failed to delete asset", http.StatusInternalServerError)
		return
	}

	if err := h.storage.Delete(r.Context(), asset.Path); err != nil {
		h.logger.Warn("Failed to delete asset file",
			zap.String("asset_id", assetID), zap.Error(err))
	}

	h.logger.Info("Asset deleted", zap.String("asset_id", assetID))
	w.WriteHeader(http.StatusNoContent)
}

// Probe re-probes a stored asset and returns fresh media info
func (h *AssetHandler) Probe(w http.ResponseWriter, r *http.Request) {
	assetID := chi.URLParam(r, "id")

	asset, err := h.getAsset(r.Context(), assetID)
	if err != nil {
		http.Error(w, "asset not found", http.StatusNotFound)
		return
	}

	info, err := h.prober.Probe(r.Context(), h.storage.GetFullPath(asset.Path))
	if err != nil {
		h.logger.Error("Asset probe failed",
			zap.String("asset_id", assetID), zap.Error(err))
		http.Error(w, "probe failed", http.StatusUnprocessableEntity)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(info)
}

func (h *AssetHandler) getAsset(ctx context.Context, assetID string) (*Asset, error) {
	var a Asset
	err := h.db.Pool.QueryRow(ctx, `
		SELECT id, original_name, storage_path, mime_type, kind, size,
		       width, height, duration, has_audio, sample_rate, created_at
		FROM assets WHERE id = $1
	`, assetID).Scan(&a.ID, &a.Name, &a.Path, &a.MimeType, &a.Kind, &a.Size,
		&a.Width, &a.Height, &a.Duration, &a.HasAudio, &a.SampleRate, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// assetKind buckets a file into the clip types the timeline knows about
func assetKind(mimeType, filename string) string {
	switch {
	case strings.HasPrefix(mimeType, "video/"):
		return "video"
	case strings.HasPrefix(mimeType, "audio/"):
		return "audio"
	case strings.HasPrefix(mimeType, "image/"):
		return "image"
	}
	if strings.EqualFold(filepath.Ext(filename), ".gpx") {
		return "gpx"
	}
	return "other"
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
