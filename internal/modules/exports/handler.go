package exports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/project"
	"github.com/tracklight/backend/internal/render/encoder"
	"github.com/tracklight/backend/internal/render/geo"
	"github.com/tracklight/backend/internal/render/media"
	"github.com/tracklight/backend/internal/render/session"
	"github.com/tracklight/backend/internal/shared/config"
	"github.com/tracklight/backend/internal/shared/metrics"
	"github.com/tracklight/backend/internal/shared/storage"
)

// cancelPollInterval is how often the worker checks the redis cancel flag
// while a render is running.
const cancelPollInterval = time.Second

// HandlerConfig contains dependencies for the export handler.
type HandlerConfig struct {
	Module  *Module
	Storage *storage.Service
	Render  config.RenderConfig
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Handler executes export render tasks on the worker.
type Handler struct {
	module  *Module
	storage *storage.Service
	render  config.RenderConfig
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new export handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		module:  cfg.Module,
		storage: cfg.Storage,
		render:  cfg.Render,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
}

// HandleExportRender runs one export end to end: load the project, render
// and encode through a session, then persist the output. Cancellation
// arrives via the redis flag set by Module.Cancel.
func (h *Handler) HandleExportRender(ctx context.Context, task *asynq.Task) error {
	var payload ExportRenderPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	h.logger.Info("Starting export render",
		zap.String("job_id", payload.JobID),
		zap.String("project", payload.ProjectPath),
		zap.String("format", string(payload.Settings.Format)),
	)

	// A job cancelled while still queued is already terminal.
	if job, err := h.module.Get(ctx, payload.JobID); err == nil && job.Status == StatusCancelled {
		h.logger.Info("Skipping cancelled export", zap.String("job_id", payload.JobID))
		return nil
	}

	state, err := h.loadProject(ctx, payload.ProjectPath)
	if err != nil {
		h.module.Fail(ctx, payload.JobID, err)
		return fmt.Errorf("load project: %w", err)
	}

	ff := media.NewFFmpeg(h.render.FFmpegPath, h.render.FFprobePath, h.logger)
	var fetcher geo.TileFetcher = geo.NewHTTPTileFetcher(h.render.TileURL, h.render.TileUserAgent)
	if h.metrics != nil {
		fetcher = &meteredFetcher{inner: fetcher, metrics: h.metrics}
	}
	pipeline := session.Pipeline{
		Opener:     ff,
		Fetcher:    fetcher,
		Decoder:    ff,
		Capable:    ff.Available,
		FFmpegPath: h.render.FFmpegPath,
		FontPath:   h.render.FontPath,
		Logger:     h.logger.With(zap.String("job_id", payload.JobID)),
	}
	if h.metrics != nil {
		pipeline.OnFrame = h.metrics.RecordFrameRendered
		pipeline.OnEncode = h.metrics.RecordEncode
	}

	token := session.NewToken()
	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()
	go h.pollCancel(pollCtx, payload.JobID, token)

	if h.metrics != nil {
		h.metrics.RecordExportStarted()
	}
	started := time.Now()

	sess := session.New(pipeline, state)
	blob, err := sess.Export(ctx, payload.Settings, token, func(p session.Progress) {
		if uerr := h.module.UpdateProgress(ctx, payload.JobID, p); uerr != nil {
			h.logger.Warn("Failed to persist export progress",
				zap.String("job_id", payload.JobID), zap.Error(uerr))
		}
	})
	stopPolling()

	switch {
	case errors.Is(err, session.ErrCancelled):
		h.recordOutcome(payload.Settings, StatusCancelled, started)
		if merr := h.module.MarkCancelled(ctx, payload.JobID); merr != nil {
			h.logger.Error("Failed to mark export cancelled",
				zap.String("job_id", payload.JobID), zap.Error(merr))
		}
		return nil

	case err != nil:
		h.recordOutcome(payload.Settings, StatusError, started)
		h.module.Fail(ctx, payload.JobID, err)
		h.logger.Error("Export render failed",
			zap.String("job_id", payload.JobID), zap.Error(err))
		return err
	}

	if err := os.WriteFile(payload.OutputPath, blob.Data, 0644); err != nil {
		h.recordOutcome(payload.Settings, StatusError, started)
		werr := fmt.Errorf("failed to write output: %w", err)
		h.module.Fail(ctx, payload.JobID, werr)
		return werr
	}

	h.recordOutcome(payload.Settings, StatusCompleted, started)
	if err := h.module.Complete(ctx, payload.JobID, payload.OutputPath, int64(len(blob.Data))); err != nil {
		return fmt.Errorf("failed to complete export: %w", err)
	}

	h.logger.Info("Export render finished",
		zap.String("job_id", payload.JobID),
		zap.String("output", payload.OutputPath),
		zap.Duration("elapsed", time.Since(started)),
	)
	return nil
}

// HandleCleanupFiles removes expired files from a storage zone.
func (h *Handler) HandleCleanupFiles(ctx context.Context, task *asynq.Task) error {
	var payload CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	maxAge := time.Duration(payload.OlderThan) * time.Second
	cutoff := time.Now().Add(-maxAge)
	prefix := h.storage.GetPath(storage.Zone(payload.Zone), "")

	paths, err := h.storage.List(ctx, prefix)
	if err != nil {
		return fmt.Errorf("failed to list zone %s: %w", payload.Zone, err)
	}

	removed := 0
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := h.storage.Delete(ctx, p); err != nil {
			h.logger.Warn("Failed to delete expired file",
				zap.String("path", p), zap.Error(err))
			continue
		}
		removed++
	}

	h.logger.Info("Cleaned up expired files",
		zap.String("zone", payload.Zone),
		zap.Int("removed", removed),
		zap.Int("scanned", len(paths)),
	)
	return nil
}

// loadProject reads and parses the project JSON from storage.
func (h *Handler) loadProject(ctx context.Context, path string) (*project.State, error) {
	reader, err := h.storage.Retrieve(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("project file unavailable: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("project read failed: %w", err)
	}
	return project.Parse(data)
}

// pollCancel watches the redis cancel flag and fires the session token.
func (h *Handler) pollCancel(ctx context.Context, jobID string, token *session.Token) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if h.module.Cancelled(ctx, jobID) {
				h.logger.Info("Cancel flag detected, stopping render",
					zap.String("job_id", jobID))
				token.Cancel()
				return
			}
		}
	}
}

func (h *Handler) recordOutcome(settings encoder.Settings, status string, started time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordExportCompleted(string(settings.Format), status, time.Since(started))
}

// meteredFetcher counts tile fetch outcomes around the real fetcher.
type meteredFetcher struct {
	inner   geo.TileFetcher
	metrics *metrics.Metrics
}

func (f *meteredFetcher) Fetch(ctx context.Context, x, y, zoom int) (image.Image, error) {
	img, err := f.inner.Fetch(ctx, x, y, zoom)
	f.metrics.RecordTileFetch(err == nil)
	return img, err
}
