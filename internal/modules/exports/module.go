package exports

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/api/websocket"
	"github.com/tracklight/backend/internal/render/encoder"
	"github.com/tracklight/backend/internal/render/session"
	"github.com/tracklight/backend/internal/shared/database"
	"github.com/tracklight/backend/internal/shared/metrics"
	"github.com/tracklight/backend/internal/shared/storage"
)

// Job statuses. The queued state belongs to the module; the rest mirror the
// render session's state machine.
const (
	StatusQueued       = "queued"
	StatusInitializing = string(session.StatusInitializing)
	StatusRendering    = string(session.StatusRendering)
	StatusEncoding     = string(session.StatusEncoding)
	StatusCompleted    = string(session.StatusCompleted)
	StatusCancelled    = string(session.StatusCancelled)
	StatusError        = string(session.StatusError)
)

// cancelKeyTTL bounds how long a cancel flag outlives its job.
const cancelKeyTTL = 24 * time.Hour

// Job is one export job record.
type Job struct {
	ID          string           `json:"id"`
	UserID      string           `json:"userId"`
	ProjectPath string           `json:"projectPath"`
	Status      string           `json:"status"`
	Settings    encoder.Settings `json:"settings"`
	Progress    session.Progress `json:"progress"`
	OutputPath  string           `json:"outputPath,omitempty"`
	OutputSize  int64            `json:"outputSize,omitempty"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	StartedAt   *time.Time       `json:"startedAt,omitempty"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// CreateParams contains parameters for creating an export job.
type CreateParams struct {
	UserID      string
	ProjectPath string
	Settings    encoder.Settings
	Priority    string
}

// Module manages export job records and their lifecycle.
type Module struct {
	db      *database.Postgres
	redis   *database.Redis
	storage *storage.Service
	queue   *QueueClient
	wsHub   *websocket.Hub
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewModule creates a new exports module.
func NewModule(db *database.Postgres, redis *database.Redis, store *storage.Service, queue *QueueClient, wsHub *websocket.Hub, m *metrics.Metrics, logger *zap.Logger) *Module {
	return &Module{
		db:      db,
		redis:   redis,
		storage: store,
		queue:   queue,
		wsHub:   wsHub,
		metrics: m,
		logger:  logger,
	}
}

// Create validates settings, stores the job record and enqueues the render.
func (m *Module) Create(ctx context.Context, params CreateParams) (*Job, error) {
	settings := params.Settings
	settings.Normalize()
	// Zero dimensions and fps inherit from the project at render time, so
	// only fully specified settings are validated here.
	if settings.Width != 0 && settings.Height != 0 && settings.FPS != 0 {
		if err := settings.Validate(); err != nil {
			return nil, fmt.Errorf("invalid export settings: %w", err)
		}
	}

	exists, err := m.storage.Exists(ctx, params.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("project lookup failed: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("project file not found: %s", params.ProjectPath)
	}

	jobID := uuid.New().String()
	now := time.Now()

	job := &Job{
		ID:          jobID,
		UserID:      params.UserID,
		ProjectPath: params.ProjectPath,
		Status:      StatusQueued,
		Settings:    settings,
		Progress:    session.Progress{Status: session.Status(StatusQueued)},
		CreatedAt:   now,
	}

	settingsJSON, _ := json.Marshal(settings)
	progressJSON, _ := json.Marshal(job.Progress)

	_, err = m.db.Pool.Exec(ctx, `
		INSERT INTO export_jobs (id, user_id, project_path, status, settings, progress, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, jobID, nullString(params.UserID), params.ProjectPath, job.Status, settingsJSON, progressJSON, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert export job: %w", err)
	}

	outputPath := m.storage.GetPath(storage.ZoneOutput, fmt.Sprintf("%s.%s", jobID, settings.Format))
	payload := ExportRenderPayload{
		JobID:       jobID,
		ProjectPath: params.ProjectPath,
		OutputPath:  outputPath,
		Settings:    settings,
	}

	if _, err := m.queue.EnqueueExportRender(payload, params.Priority); err != nil {
		m.db.Pool.Exec(ctx, "UPDATE export_jobs SET status = $1 WHERE id = $2", StatusError, jobID)
		return nil, fmt.Errorf("failed to enqueue export: %w", err)
	}

	if m.metrics != nil {
		m.metrics.RecordExportCreated(string(settings.Format))
	}
	m.logger.Info("Export job created and queued",
		zap.String("job_id", jobID),
		zap.String("user_id", params.UserID),
		zap.String("format", string(settings.Format)),
		zap.Int("width", settings.Width),
		zap.Int("height", settings.Height),
	)

	return job, nil
}

// Get retrieves a job by ID, always from the database for fresh status.
func (m *Module) Get(ctx context.Context, jobID string) (*Job, error) {
	row := m.db.Pool.QueryRow(ctx, `
		SELECT id, user_id, project_path, status, settings, progress, output_path, output_size,
		       error, created_at, started_at, completed_at
		FROM export_jobs WHERE id = $1
	`, jobID)
	return scanJob(row)
}

// List returns recent jobs for a user, optionally filtered by status.
func (m *Module) List(ctx context.Context, userID, status string) ([]*Job, error) {
	rows, err := m.db.Pool.Query(ctx, `
		SELECT id, user_id, project_path, status, settings, progress, output_path, output_size,
		       error, created_at, started_at, completed_at
		FROM export_jobs
		WHERE ($1 = '' OR user_id = $1 OR user_id IS NULL)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT 50
	`, userID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			m.logger.Error("Failed to scan export job row", zap.Error(err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Cancel requests cancellation of a running or queued job. The worker polls
// the redis flag and stops at the next frame boundary.
func (m *Module) Cancel(ctx context.Context, jobID string) error {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case StatusCompleted, StatusCancelled, StatusError:
		return fmt.Errorf("export cannot be cancelled: status is %s", job.Status)
	}

	if err := m.redis.Set(ctx, cancelKey(jobID), "1", cancelKeyTTL); err != nil {
		return fmt.Errorf("failed to set cancel flag: %w", err)
	}

	// A queued job never reaches the worker's poll loop, so finish it here.
	if job.Status == StatusQueued {
		return m.MarkCancelled(ctx, jobID)
	}

	m.logger.Info("Export cancellation requested", zap.String("job_id", jobID))
	return nil
}

// Delete removes a job record and its output file.
func (m *Module) Delete(ctx context.Context, jobID string) error {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return err
	}

	result, err := m.db.Pool.Exec(ctx, `DELETE FROM export_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("failed to delete export job: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("export job not found")
	}

	if job.OutputPath != "" {
		if err := m.storage.Delete(ctx, job.OutputPath); err != nil {
			m.logger.Warn("Failed to delete export output",
				zap.String("job_id", jobID), zap.Error(err))
		}
	}
	return nil
}

// Cancelled reports whether a cancel flag is set for the job.
func (m *Module) Cancelled(ctx context.Context, jobID string) bool {
	set, err := m.redis.Exists(ctx, cancelKey(jobID))
	return err == nil && set
}

// UpdateProgress persists a progress report and fans it out to WebSocket
// subscribers and the redis progress channel.
func (m *Module) UpdateProgress(ctx context.Context, jobID string, p session.Progress) error {
	progressJSON, _ := json.Marshal(p)

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET progress = $1, status = $2, started_at = COALESCE(started_at, NOW())
		WHERE id = $3
	`, progressJSON, string(p.Status), jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastExportProgress(jobID, string(p.Status), p.Percent, p.Frame, p.TotalFrames)
	}
	m.publishEvent(ctx, jobID, "export:progress", p)
	return nil
}

// Complete marks a job completed and records its output.
func (m *Module) Complete(ctx context.Context, jobID, outputPath string, outputSize int64) error {
	now := time.Now()
	progress := session.Progress{Status: session.StatusCompleted, Percent: 100}
	progressJSON, _ := json.Marshal(progress)

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE export_jobs
		SET status = $1, output_path = $2, output_size = $3, progress = $4, completed_at = $5
		WHERE id = $6
	`, StatusCompleted, outputPath, outputSize, progressJSON, now, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastExportCompleted(jobID, outputPath)
	}
	m.publishEvent(ctx, jobID, "export:completed", map[string]any{
		"jobId":      jobID,
		"outputPath": outputPath,
		"outputSize": outputSize,
	})

	m.logger.Info("Export job completed",
		zap.String("job_id", jobID),
		zap.String("output", outputPath),
		zap.Int64("size", outputSize),
	)
	return nil
}

// Fail marks a job failed.
func (m *Module) Fail(ctx context.Context, jobID string, cause error) error {
	now := time.Now()
	_, err := m.db.Pool.Exec(ctx, `
		UPDATE export_jobs SET status = $1, error = $2, completed_at = $3 WHERE id = $4
	`, StatusError, cause.Error(), now, jobID)
	if err != nil {
		return err
	}

	if m.wsHub != nil {
		m.wsHub.BroadcastExportFailed(jobID, cause.Error())
	}
	m.publishEvent(ctx, jobID, "export:failed", map[string]any{
		"jobId": jobID,
		"error": cause.Error(),
	})
	return nil
}

// MarkCancelled finishes a cancelled job. Cancellation is a terminal state
// with no output and no error.
func (m *Module) MarkCancelled(ctx context.Context, jobID string) error {
	now := time.Now()
	progress := session.Progress{Status: session.StatusCancelled}
	progressJSON, _ := json.Marshal(progress)

	_, err := m.db.Pool.Exec(ctx, `
		UPDATE export_jobs SET status = $1, progress = $2, completed_at = $3 WHERE id = $4
	`, StatusCancelled, progressJSON, now, jobID)
	if err != nil {
		return err
	}

	m.redis.Delete(ctx, cancelKey(jobID))

	if m.wsHub != nil {
		m.wsHub.BroadcastExportProgress(jobID, StatusCancelled, 0, 0, 0)
	}
	m.publishEvent(ctx, jobID, "export:cancelled", map[string]any{"jobId": jobID})

	m.logger.Info("Export job cancelled", zap.String("job_id", jobID))
	return nil
}

func (m *Module) publishEvent(ctx context.Context, jobID, eventType string, payload any) {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"jobId":   jobID,
		"payload": payload,
	})
	if err != nil {
		return
	}
	if err := m.redis.Publish(ctx, progressChannel, data); err != nil {
		m.logger.Debug("Failed to publish export event", zap.Error(err))
	}
}

// progressChannel is the redis channel carrying export events between the
// worker and API processes.
const progressChannel = "exports:events"

func cancelKey(jobID string) string {
	return "exports:cancel:" + jobID
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var userID, outputPath, errMsg *string
	var outputSize *int64
	var settingsJSON, progressJSON []byte
	var startedAt, completedAt *time.Time

	err := row.Scan(
		&job.ID, &userID, &job.ProjectPath, &job.Status, &settingsJSON, &progressJSON,
		&outputPath, &outputSize, &errMsg, &job.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		job.UserID = *userID
	}
	if outputPath != nil {
		job.OutputPath = *outputPath
	}
	if outputSize != nil {
		job.OutputSize = *outputSize
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt

	json.Unmarshal(settingsJSON, &job.Settings)
	json.Unmarshal(progressJSON, &job.Progress)

	return &job, nil
}

func nullString(s string) *string {
	if s == "" || s == "anonymous" {
		return nil
	}
	return &s
}
