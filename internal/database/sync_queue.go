package database

import (
	"context"
	"fmt"
	"time"

	"resortwala/internal/models"
)

// Персистентная очередь задач синхронизации с Google Sheets.

const syncTaskSelect = `SELECT id, task_type, booking_id, payload, status, retry_count,
       last_error, created_at, processed_at, next_retry_at
  FROM sync_queue`

func scanSyncTask(s rowScanner) (models.SyncTask, error) {
	var t models.SyncTask
	err := s.Scan(&t.ID, &t.TaskType, &t.BookingID, &t.Payload, &t.Status, &t.RetryCount,
		&t.LastError, &t.CreatedAt, &t.ProcessedAt, &t.NextRetryAt)
	if err != nil {
		return t, fmt.Errorf("failed to scan sync task: %w", err)
	}
	return t, nil
}

func (db *DB) listSyncTasks(ctx context.Context, where string, args ...interface{}) ([]models.SyncTask, error) {
	rows, err := db.QueryContext(ctx, syncTaskSelect+" "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync tasks: %w", err)
	}
	defer rows.Close()

	var out []models.SyncTask
	for rows.Next() {
		t, err := scanSyncTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreateSyncTask stores a task. An empty status means pending.
func (db *DB) CreateSyncTask(ctx context.Context, task *models.SyncTask) error {
	if task.Status == "" {
		task.Status = models.SyncStatusPending
	}
	task.CreatedAt = db.now()

	res, err := db.ExecContext(ctx, `INSERT INTO sync_queue
            (task_type, booking_id, payload, status, retry_count, last_error, created_at, next_retry_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		task.TaskType, task.BookingID, task.Payload, task.Status, task.RetryCount,
		task.LastError, task.CreatedAt, utcPtr(task.NextRetryAt))
	if err != nil {
		return fmt.Errorf("failed to create sync task: %w", err)
	}
	if task.ID, err = res.LastInsertId(); err != nil {
		return fmt.Errorf("failed to read sync task id: %w", err)
	}
	return nil
}

// GetPendingSyncTasks returns up to limit pending or retrying tasks that are
// due, oldest first.
func (db *DB) GetPendingSyncTasks(ctx context.Context, limit int) ([]models.SyncTask, error) {
	return db.listSyncTasks(ctx,
		`WHERE status IN (?, ?) AND (next_retry_at IS NULL OR next_retry_at <= ?) ORDER BY created_at, id LIMIT ?`,
		models.SyncStatusPending, models.SyncStatusRetry, db.now(), limit)
}

func (db *DB) GetFailedSyncTasks(ctx context.Context) ([]models.SyncTask, error) {
	return db.listSyncTasks(ctx, `WHERE status = ? ORDER BY created_at DESC, id DESC`, models.SyncStatusFailed)
}

// UpdateSyncTaskStatus records the outcome of an attempt. Retry bumps the
// retry counter; completed and failed are terminal and stamp processed_at.
func (db *DB) UpdateSyncTaskStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error {
	set := `status = ?, last_error = ?, next_retry_at = ?`
	args := []interface{}{status, errMsg, utcPtr(nextRetryAt)}

	switch status {
	case models.SyncStatusRetry:
		set += `, retry_count = retry_count + 1`
	case models.SyncStatusCompleted, models.SyncStatusFailed:
		set += `, processed_at = ?`
		args = append(args, db.now())
	}

	if _, err := db.ExecContext(ctx, `UPDATE sync_queue SET `+set+` WHERE id = ?`, append(args, id)...); err != nil {
		return fmt.Errorf("failed to update sync task %d: %w", id, err)
	}
	return nil
}

// RequeueFailedSyncTasks puts every failed task back to pending with a fresh
// retry budget.
func (db *DB) RequeueFailedSyncTasks(ctx context.Context) (int64, error) {
	res, err := db.ExecContext(ctx, `UPDATE sync_queue
            SET status = ?, retry_count = 0, next_retry_at = NULL, processed_at = NULL
            WHERE status = ?`, models.SyncStatusPending, models.SyncStatusFailed)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue sync tasks: %w", err)
	}
	return res.RowsAffected()
}

// DeleteProcessedSyncTasks drops completed tasks processed before cutoff.
func (db *DB) DeleteProcessedSyncTasks(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE status = ? AND processed_at < ?`, models.SyncStatusCompleted, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete processed sync tasks: %w", err)
	}
	return res.RowsAffected()
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
