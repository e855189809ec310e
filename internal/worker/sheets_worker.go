package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"resortwala/internal/domain"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
)

const (
	TaskUpsert       = models.SyncTaskUpsert
	TaskUpdateStatus = models.SyncTaskUpdateStatus

	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 20
	processedRetention  = 7 * 24 * time.Hour
	cleanupInterval     = time.Hour
)

// TaskStore is the durable side of the queue (the sync_queue table).
type TaskStore interface {
	CreateSyncTask(ctx context.Context, task *models.SyncTask) error
	GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error)
	UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
	DeleteProcessedSyncTasks(ctx context.Context, cutoff time.Time) (int64, error)
}

// sheetTaskPayload is stored as JSON in SyncTask.Payload.
type sheetTaskPayload struct {
	BookingID int64           `json:"booking_id"`
	Booking   *models.Booking `json:"booking,omitempty"`
	Status    string          `json:"status,omitempty"`
}

type taskHandler func(ctx context.Context, p sheetTaskPayload) error

// SheetsWorker mirrors booking changes to Google Sheets. Every task is written
// to the store first; the queue only shortens the delay.
type SheetsWorker struct {
	store        TaskStore
	sheets       domain.SheetsWriter
	queue        taskQueue
	retry        RetryPolicy
	handlers     map[string]taskHandler
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	logger       *zerolog.Logger
}

// NewSheetsWorker uses redis for the queue when a client is given and an
// in-process channel otherwise.
func NewSheetsWorker(store TaskStore, sheets domain.SheetsWriter, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *SheetsWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	var queue taskQueue = newMemoryQueue(models.WorkerQueueSize)
	if redisClient != nil {
		queue = &redisQueue{client: redisClient}
	}

	w := &SheetsWorker{
		store:        store,
		sheets:       sheets,
		queue:        queue,
		retry:        retry.withDefaults(),
		pollInterval: defaultPollInterval,
		batchSize:    defaultBatchSize,
		now:          time.Now,
		logger:       logger,
	}
	w.handlers = map[string]taskHandler{
		TaskUpsert:       w.upsert,
		TaskUpdateStatus: w.updateStatus,
	}
	return w
}

// EnqueueTask implements domain.SyncWorker.
func (w *SheetsWorker) EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error {
	if _, ok := w.handlers[taskType]; !ok {
		return fmt.Errorf("unknown sync task type %q", taskType)
	}
	if bookingID == 0 && booking != nil {
		bookingID = booking.ID
	}
	if bookingID == 0 {
		return errors.New("sync task needs a booking id")
	}

	payload, err := json.Marshal(sheetTaskPayload{BookingID: bookingID, Booking: booking, Status: status})
	if err != nil {
		return fmt.Errorf("encode sync payload: %w", err)
	}
	task := models.SyncTask{
		TaskType:  taskType,
		BookingID: bookingID,
		Payload:   string(payload),
		Status:    models.SyncStatusPending,
	}
	if err := w.store.CreateSyncTask(ctx, &task); err != nil {
		return fmt.Errorf("store sync task: %w", err)
	}

	if err := w.queue.push(ctx, task); err != nil {
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Msg("Sync task not queued, left for polling")
	}
	return nil
}

// Start blocks until ctx is cancelled.
func (w *SheetsWorker) Start(ctx context.Context) {
	w.logger.Info().Dur("poll_interval", w.pollInterval).Msg("Sheets worker started")
	defer w.logger.Info().Msg("Sheets worker stopped")

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for ctx.Err() == nil {
		select {
		case <-cleanup.C:
			w.cleanup(ctx)
		default:
		}

		task, ok, err := w.queue.pop(ctx, w.pollInterval)
		if err != nil {
			w.logger.Error().Err(err).Msg("Sync queue read failed")
		}
		if ok {
			w.process(ctx, task)
			continue
		}
		w.drainStore(ctx)
	}
}

// drainStore handles tasks that missed the queue or wait for a retry.
func (w *SheetsWorker) drainStore(ctx context.Context) {
	tasks, err := w.store.GetPendingSyncTasks(ctx, w.batchSize)
	if err != nil {
		if ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("Failed to load pending sync tasks")
		}
		return
	}
	for _, t := range tasks {
		if ctx.Err() != nil {
			return
		}
		w.process(ctx, t)
	}
}

func (w *SheetsWorker) process(ctx context.Context, task models.SyncTask) {
	handler, ok := w.handlers[task.TaskType]
	if !ok {
		w.fail(ctx, task, fmt.Errorf("unknown sync task type %q", task.TaskType))
		return
	}

	var payload sheetTaskPayload
	if err := json.Unmarshal([]byte(task.Payload), &payload); err != nil {
		w.fail(ctx, task, fmt.Errorf("decode sync payload: %w", err))
		return
	}

	if err := handler(ctx, payload); err != nil {
		attempt := task.RetryCount + 1
		if w.retry.Exhausted(attempt) {
			w.fail(ctx, task, err)
			return
		}
		next := w.now().Add(w.retry.Delay(attempt))
		w.logger.Warn().Err(err).Int64("task_id", task.ID).Int("attempt", attempt).Time("next_retry_at", next).Msg("Sync task will be retried")
		if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusRetry, err.Error(), &next); err != nil {
			w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to schedule sync retry")
		}
		metrics.IncSyncTask(models.SyncStatusRetry)
		return
	}

	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to complete sync task")
	}
	metrics.IncSyncTask(models.SyncStatusCompleted)
}

func (w *SheetsWorker) fail(ctx context.Context, task models.SyncTask, cause error) {
	w.logger.Error().Err(cause).Int64("task_id", task.ID).Int64("booking_id", task.BookingID).Msg("Sync task failed")
	if err := w.store.UpdateSyncTaskStatus(ctx, task.ID, models.SyncStatusFailed, cause.Error(), nil); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Failed to mark sync task failed")
	}
	if err := w.queue.deadLetter(ctx, task); err != nil {
		w.logger.Error().Err(err).Int64("task_id", task.ID).Msg("Dead letter push failed")
	}
	metrics.IncSyncTask(models.SyncStatusFailed)
}

func (w *SheetsWorker) cleanup(ctx context.Context) {
	n, err := w.store.DeleteProcessedSyncTasks(ctx, w.now().Add(-processedRetention))
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to delete processed sync tasks")
		return
	}
	if n > 0 {
		w.logger.Info().Int64("tasks", n).Msg("Processed sync tasks removed")
	}
}

func (w *SheetsWorker) upsert(ctx context.Context, p sheetTaskPayload) error {
	if p.Booking == nil {
		return errors.New("upsert task without booking")
	}
	return w.sheets.UpsertBooking(ctx, p.Booking)
}

func (w *SheetsWorker) updateStatus(ctx context.Context, p sheetTaskPayload) error {
	if p.BookingID == 0 || p.Status == "" {
		return errors.New("status task without booking id or status")
	}
	return w.sheets.UpdateBookingStatus(ctx, p.BookingID, p.Status)
}
