package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"resortwala/internal/models"
)

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger

	mu              sync.RWMutex
	propertiesCache map[int64]*models.Property

	// now подменяется в тестах
	now func() time.Time
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		// Создаем директорию для БД, если её нет
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Одно соединение: транзакции выполняются строго последовательно,
	// а :memory: база не теряется между запросами.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:              sqlDB,
		path:            path,
		logger:          logger,
		propertiesCache: make(map[int64]*models.Property),
		now:             func() time.Time { return time.Now().UTC() },
	}

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS properties (
            id INTEGER PRIMARY KEY,
            vendor_id INTEGER NOT NULL DEFAULT 0,
            name TEXT NOT NULL,
            price_per_night TEXT NOT NULL DEFAULT '0',
            max_guests INTEGER NOT NULL DEFAULT 0,
            vendor_email TEXT NOT NULL DEFAULT '',
            vendor_mobile TEXT NOT NULL DEFAULT '',
            vendor_telegram_id INTEGER NOT NULL DEFAULT 0,
            share_token TEXT NOT NULL DEFAULT '',
            is_active BOOLEAN NOT NULL DEFAULT 1,
            internal_rating REAL NOT NULL DEFAULT 0,
            internal_review_count INTEGER NOT NULL DEFAULT 0,
            google_rating REAL NOT NULL DEFAULT 0,
            google_review_count INTEGER NOT NULL DEFAULT 0,
            customer_avg_rating REAL NOT NULL DEFAULT 0,
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS bookings (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id),
            customer_id INTEGER NOT NULL DEFAULT 0,
            customer_name TEXT NOT NULL,
            customer_email TEXT NOT NULL DEFAULT '',
            customer_mobile TEXT NOT NULL DEFAULT '',
            check_in TEXT NOT NULL,
            check_out TEXT NOT NULL,
            guest_count INTEGER NOT NULL DEFAULT 1,
            status TEXT NOT NULL DEFAULT 'pending',
            total_amount TEXT NOT NULL DEFAULT '0',
            payment_reference TEXT NOT NULL DEFAULT '',
            comment TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL,
            version INTEGER NOT NULL DEFAULT 1
        )`,
		// Одна активная блокировка на ночь: released_at IS NULL
		`CREATE TABLE IF NOT EXISTS calendar_locks (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id),
            date TEXT NOT NULL,
            booking_id INTEGER REFERENCES bookings(id) ON DELETE CASCADE,
            reason TEXT NOT NULL,
            expires_at DATETIME,
            created_at DATETIME NOT NULL,
            released_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS payment_transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            booking_id INTEGER NOT NULL REFERENCES bookings(id) ON DELETE CASCADE,
            gateway_reference TEXT NOT NULL UNIQUE,
            gateway_transaction_id TEXT NOT NULL DEFAULT '',
            amount_paise INTEGER NOT NULL,
            status TEXT NOT NULL,
            checksum_verified BOOLEAN NOT NULL DEFAULT 0,
            response_code TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL,
            updated_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reviews (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            property_id INTEGER NOT NULL REFERENCES properties(id),
            booking_id INTEGER NOT NULL UNIQUE REFERENCES bookings(id) ON DELETE CASCADE,
            rating INTEGER NOT NULL CHECK (rating BETWEEN 1 AND 5),
            comment TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS notification_templates (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_name TEXT NOT NULL,
            channel TEXT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            body TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            UNIQUE (event_name, channel)
        )`,
		`CREATE TABLE IF NOT EXISTS notification_logs (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            channel TEXT NOT NULL,
            recipient TEXT NOT NULL,
            subject TEXT NOT NULL DEFAULT '',
            content TEXT NOT NULL,
            event_name TEXT NOT NULL,
            booking_id INTEGER,
            status TEXT NOT NULL,
            error_message TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS sync_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            task_type TEXT NOT NULL,
            booking_id INTEGER NOT NULL,
            payload TEXT,
            status TEXT NOT NULL DEFAULT 'pending',
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            processed_at DATETIME,
            next_retry_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS backups (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            file_name TEXT NOT NULL,
            size_bytes INTEGER NOT NULL DEFAULT 0,
            status TEXT NOT NULL,
            error TEXT NOT NULL DEFAULT '',
            created_at DATETIME NOT NULL
        )`,

		`CREATE UNIQUE INDEX IF NOT EXISTS uq_calendar_locks_active
            ON calendar_locks(property_id, date) WHERE released_at IS NULL`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_locks_booking ON calendar_locks(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_locks_expires ON calendar_locks(reason, expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_property ON bookings(property_id, check_in)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_status ON bookings(status)`,
		`CREATE INDEX IF NOT EXISTS idx_bookings_customer ON bookings(customer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payment_transactions_booking ON payment_transactions(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_notification_logs_booking ON notification_logs(booking_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

// withTx runs fn inside a transaction and commits when it returns nil.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(models.DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse date %s: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	return t.Format(models.DateLayout)
}
