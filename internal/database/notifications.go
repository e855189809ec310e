package database

import (
	"context"
	"database/sql"
	"fmt"

	"resortwala/internal/models"
)

// SyncNotificationTemplates replaces the stored templates with the configured
// ones.
func (db *DB) SyncNotificationTemplates(ctx context.Context, templates []models.NotificationTemplate) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM notification_templates`); err != nil {
			return fmt.Errorf("failed to clear templates: %w", err)
		}
		query := `INSERT INTO notification_templates (event_name, channel, subject, body, is_active) VALUES (?, ?, ?, ?, ?)`
		for _, t := range templates {
			if _, err := tx.ExecContext(ctx, query, t.EventName, t.Channel, t.Subject, t.Body, t.IsActive); err != nil {
				return fmt.Errorf("failed to insert template %s/%s: %w", t.EventName, t.Channel, err)
			}
		}
		return nil
	})
}

func (db *DB) GetTemplatesForEvent(ctx context.Context, eventName string) ([]*models.NotificationTemplate, error) {
	query := `SELECT id, event_name, channel, subject, body, is_active
              FROM notification_templates WHERE event_name = ? AND is_active = 1 ORDER BY id`
	rows, err := db.QueryContext(ctx, query, eventName)
	if err != nil {
		return nil, fmt.Errorf("failed to get templates: %w", err)
	}
	defer rows.Close()

	var templates []*models.NotificationTemplate
	for rows.Next() {
		var t models.NotificationTemplate
		if err := rows.Scan(&t.ID, &t.EventName, &t.Channel, &t.Subject, &t.Body, &t.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, &t)
	}
	return templates, rows.Err()
}

func (db *DB) CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error {
	query := `INSERT INTO notification_logs (
                channel, recipient, subject, content, event_name, booking_id, status, error_message, created_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	var bookingID sql.NullInt64
	if entry.BookingID != 0 {
		bookingID = sql.NullInt64{Int64: entry.BookingID, Valid: true}
	}
	now := db.now()
	result, err := db.ExecContext(ctx, query,
		entry.Channel, entry.Recipient, entry.Subject, entry.Content, entry.EventName,
		bookingID, entry.Status, entry.ErrorMessage, now)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	entry.ID = id
	entry.CreatedAt = now
	return nil
}

func (db *DB) GetNotificationLogs(ctx context.Context, bookingID int64) ([]*models.NotificationLog, error) {
	query := `SELECT id, channel, recipient, subject, content, event_name, COALESCE(booking_id, 0),
                     status, error_message, created_at
              FROM notification_logs WHERE booking_id = ? ORDER BY id`
	rows, err := db.QueryContext(ctx, query, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get notification logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.NotificationLog
	for rows.Next() {
		var l models.NotificationLog
		err := rows.Scan(&l.ID, &l.Channel, &l.Recipient, &l.Subject, &l.Content, &l.EventName,
			&l.BookingID, &l.Status, &l.ErrorMessage, &l.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}
		logs = append(logs, &l)
	}
	return logs, rows.Err()
}
