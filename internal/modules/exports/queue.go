package exports

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/tracklight/backend/internal/render/encoder"
)

// Task types
const (
	TypeExportRender = "export:render"
	TypeCleanupFiles = "files:cleanup"
)

// QueueClient enqueues export tasks.
type QueueClient struct {
	client *asynq.Client
	logger *zap.Logger
}

// NewQueueClient creates a new queue client.
func NewQueueClient(redisAddr string, logger *zap.Logger) *QueueClient {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})
	return &QueueClient{
		client: client,
		logger: logger,
	}
}

// Close closes the queue client.
func (q *QueueClient) Close() error {
	return q.client.Close()
}

// ExportRenderPayload contains render task data.
type ExportRenderPayload struct {
	JobID       string           `json:"jobId"`
	ProjectPath string           `json:"projectPath"`
	OutputPath  string           `json:"outputPath"`
	Settings    encoder.Settings `json:"settings"`
}

// CleanupPayload contains file cleanup task data.
type CleanupPayload struct {
	Zone      string `json:"zone"`
	OlderThan int64  `json:"olderThan"` // Max age in seconds
}

// EnqueueExportRender queues a render task. Renders are not retried: a
// failed export surfaces to the user, who resubmits if the cause was
// transient.
func (q *QueueClient) EnqueueExportRender(payload ExportRenderPayload, priority string) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TypeExportRender, data)

	opts := []asynq.Option{
		asynq.MaxRetry(0),
		asynq.Timeout(2 * time.Hour),
	}

	switch priority {
	case "high":
		opts = append(opts, asynq.Queue("critical"))
	case "low":
		opts = append(opts, asynq.Queue("low"))
	default:
		opts = append(opts, asynq.Queue("default"))
	}

	info, err := q.client.Enqueue(task, opts...)
	if err != nil {
		q.logger.Error("Failed to enqueue export render task", zap.Error(err))
		return nil, err
	}

	q.logger.Info("Export render task enqueued",
		zap.String("task_id", info.ID),
		zap.String("job_id", payload.JobID),
		zap.String("queue", info.Queue),
	)

	return info, nil
}

// EnqueueCleanup queues a file cleanup task.
func (q *QueueClient) EnqueueCleanup(payload CleanupPayload) (*asynq.TaskInfo, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	task := asynq.NewTask(TypeCleanupFiles, data)

	opts := []asynq.Option{
		asynq.MaxRetry(1),
		asynq.Queue("low"),
	}

	return q.client.Enqueue(task, opts...)
}

// ScheduleCleanup registers periodic cleanup of the scratch and output zones.
func ScheduleCleanup(redisAddr string) (*asynq.Scheduler, error) {
	scheduler := asynq.NewScheduler(asynq.RedisClientOpt{Addr: redisAddr}, nil)

	workingPayload, _ := json.Marshal(CleanupPayload{
		Zone:      "working",
		OlderThan: int64((4 * time.Hour).Seconds()),
	})
	if _, err := scheduler.Register("@every 30m", asynq.NewTask(TypeCleanupFiles, workingPayload)); err != nil {
		return nil, err
	}

	outputPayload, _ := json.Marshal(CleanupPayload{
		Zone:      "output",
		OlderThan: int64((7 * 24 * time.Hour).Seconds()),
	})
	if _, err := scheduler.Register("@daily", asynq.NewTask(TypeCleanupFiles, outputPayload)); err != nil {
		return nil, err
	}

	return scheduler, nil
}
