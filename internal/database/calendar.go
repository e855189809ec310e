package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const lockColumns = `id, property_id, date, booking_id, reason, expires_at, created_at, released_at`

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func scanLock(s rowScanner) (*models.CalendarLock, error) {
	var (
		l          models.CalendarLock
		dateStr    string
		bookingID  sql.NullInt64
		expiresAt  sql.NullTime
		releasedAt sql.NullTime
	)
	if err := s.Scan(&l.ID, &l.PropertyID, &dateStr, &bookingID, &l.Reason, &expiresAt, &l.CreatedAt, &releasedAt); err != nil {
		return nil, fmt.Errorf("failed to scan calendar lock: %w", err)
	}
	date, err := parseDate(dateStr)
	if err != nil {
		return nil, err
	}
	l.Date = date
	if bookingID.Valid {
		id := bookingID.Int64
		l.BookingID = &id
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		l.ExpiresAt = &t
	}
	if releasedAt.Valid {
		t := releasedAt.Time
		l.ReleasedAt = &t
	}
	return &l, nil
}

func queryLocks(ctx context.Context, q querier, query string, args ...interface{}) ([]*models.CalendarLock, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar locks: %w", err)
	}
	defer rows.Close()

	var locks []*models.CalendarLock
	for rows.Next() {
		l, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// activeLocks returns unreleased locks of the property in [r.Start, r.End).
// Held locks past their expiry are skipped.
func activeLocks(ctx context.Context, q querier, propertyID int64, r models.DateRange, now time.Time) ([]*models.CalendarLock, error) {
	query := `SELECT ` + lockColumns + ` FROM calendar_locks
              WHERE property_id = ? AND date >= ? AND date < ? AND released_at IS NULL
                AND NOT (reason = ? AND expires_at IS NOT NULL AND expires_at <= ?)
              ORDER BY date`
	return queryLocks(ctx, q, query, propertyID, formatDate(r.Start), formatDate(r.End), models.LockHeld, now)
}

// GetActiveLocks returns the locks blocking the property in the range.
func (db *DB) GetActiveLocks(ctx context.Context, propertyID int64, r models.DateRange, now time.Time) ([]*models.CalendarLock, error) {
	return activeLocks(ctx, db, propertyID, r, now)
}

func (db *DB) GetBookingLocks(ctx context.Context, bookingID int64) ([]*models.CalendarLock, error) {
	query := `SELECT ` + lockColumns + ` FROM calendar_locks
              WHERE booking_id = ? AND released_at IS NULL ORDER BY date`
	return queryLocks(ctx, db, query, bookingID)
}

// releaseExpiredHoldsTx frees expired holds on the given nights so the
// unique index does not count them.
func releaseExpiredHoldsTx(ctx context.Context, tx *sql.Tx, propertyID int64, r models.DateRange, now time.Time) error {
	query := `UPDATE calendar_locks SET released_at = ?
              WHERE property_id = ? AND date >= ? AND date < ? AND released_at IS NULL
                AND reason = ? AND expires_at IS NOT NULL AND expires_at <= ?`
	_, err := tx.ExecContext(ctx, query, now, propertyID, formatDate(r.Start), formatDate(r.End), models.LockHeld, now)
	if err != nil {
		return fmt.Errorf("failed to release expired holds: %w", err)
	}
	return nil
}

// insertLocksTx inserts one lock per night. A unique index violation turns
// into a ConflictError listing the nights that are already taken.
func insertLocksTx(
	ctx context.Context,
	tx *sql.Tx,
	propertyID int64,
	r models.DateRange,
	bookingID *int64,
	reason string,
	expiresAt *time.Time,
	now time.Time,
) error {
	if err := releaseExpiredHoldsTx(ctx, tx, propertyID, r, now); err != nil {
		return err
	}

	existing, err := activeLocks(ctx, tx, propertyID, r, now)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return conflictFromLocks(propertyID, existing)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO calendar_locks
            (property_id, date, booking_id, reason, expires_at, created_at)
            VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare lock insert: %w", err)
	}
	defer stmt.Close()

	for _, day := range r.Days() {
		if _, err := stmt.ExecContext(ctx, propertyID, formatDate(day), bookingID, reason, expiresAt, now); err != nil {
			if isUniqueViolation(err) {
				return &domain.ConflictError{PropertyID: propertyID, Dates: []time.Time{day}}
			}
			return fmt.Errorf("failed to insert calendar lock: %w", err)
		}
	}
	return nil
}

func conflictFromLocks(propertyID int64, locks []*models.CalendarLock) *domain.ConflictError {
	dates := make([]time.Time, 0, len(locks))
	for _, l := range locks {
		dates = append(dates, l.Date)
	}
	return &domain.ConflictError{PropertyID: propertyID, Dates: dates}
}

func releaseBookingLocksTx(ctx context.Context, tx *sql.Tx, bookingID int64, now time.Time) (int64, error) {
	result, err := tx.ExecContext(ctx,
		`UPDATE calendar_locks SET released_at = ? WHERE booking_id = ? AND released_at IS NULL`,
		now, bookingID)
	if err != nil {
		return 0, fmt.Errorf("failed to release booking locks: %w", err)
	}
	return result.RowsAffected()
}

// convertHoldTx replaces the booking's locks with booked locks for every
// night of the stay. If a hold expired and the night was taken meanwhile the
// conversion fails with a ConflictError.
func convertHoldTx(ctx context.Context, tx *sql.Tx, bookingID int64, now time.Time) error {
	var propertyID int64
	var checkIn, checkOut string
	err := tx.QueryRowContext(ctx,
		`SELECT property_id, check_in, check_out FROM bookings WHERE id = ?`, bookingID,
	).Scan(&propertyID, &checkIn, &checkOut)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("booking %d: %w", bookingID, domain.ErrNotFound)
		}
		return fmt.Errorf("failed to load booking for lock conversion: %w", err)
	}
	r, err := models.ParseDateRange(checkIn, checkOut)
	if err != nil {
		return err
	}

	if _, err := releaseBookingLocksTx(ctx, tx, bookingID, now); err != nil {
		return err
	}
	return insertLocksTx(ctx, tx, propertyID, r, &bookingID, models.LockBooked, nil, now)
}

// AcquireHold places held locks on every night of r for the booking.
func (db *DB) AcquireHold(ctx context.Context, propertyID int64, r models.DateRange, bookingID int64, expiresAt time.Time) error {
	now := db.now()
	expires := expiresAt.UTC()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertLocksTx(ctx, tx, propertyID, r, &bookingID, models.LockHeld, &expires, now)
	})
}

func (db *DB) ConvertHoldToBooked(ctx context.Context, bookingID int64) error {
	now := db.now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return convertHoldTx(ctx, tx, bookingID, now)
	})
}

func (db *DB) ReleaseBookingLocks(ctx context.Context, bookingID int64) (int64, error) {
	var released int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		n, err := releaseBookingLocksTx(ctx, tx, bookingID, db.now())
		released = n
		return err
	})
	return released, err
}

// FreezeDates blocks nights without a booking (owner lock).
func (db *DB) FreezeDates(ctx context.Context, propertyID int64, r models.DateRange) error {
	now := db.now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return insertLocksTx(ctx, tx, propertyID, r, nil, models.LockFrozen, nil, now)
	})
}

// UnfreezeDates releases frozen locks only; booking locks stay in place.
func (db *DB) UnfreezeDates(ctx context.Context, propertyID int64, r models.DateRange) (int64, error) {
	query := `UPDATE calendar_locks SET released_at = ?
              WHERE property_id = ? AND date >= ? AND date < ? AND reason = ? AND released_at IS NULL`
	result, err := db.ExecContext(ctx, query, db.now(), propertyID, formatDate(r.Start), formatDate(r.End), models.LockFrozen)
	if err != nil {
		return 0, fmt.Errorf("failed to unfreeze dates: %w", err)
	}
	return result.RowsAffected()
}

// ExpireHolds releases every hold whose expiry passed and returns the
// bookings that owned them. Pending or approved bookings left without any
// active lock are returned too: their expired holds were already released
// when another booking took the nights.
func (db *DB) ExpireHolds(ctx context.Context, now time.Time) ([]int64, error) {
	now = now.UTC()
	var bookingIDs []int64
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `SELECT booking_id FROM calendar_locks
            WHERE reason = ? AND released_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?
              AND booking_id IS NOT NULL
            UNION
            SELECT b.id FROM bookings b
            WHERE b.status IN (?, ?) AND NOT EXISTS (
                SELECT 1 FROM calendar_locks l WHERE l.booking_id = b.id AND l.released_at IS NULL)
            ORDER BY 1`,
			models.LockHeld, now, models.StatusPending, models.StatusApproved)
		if err != nil {
			return fmt.Errorf("failed to find expired holds: %w", err)
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return fmt.Errorf("failed to scan expired hold: %w", err)
			}
			bookingIDs = append(bookingIDs, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE calendar_locks SET released_at = ?
            WHERE reason = ? AND released_at IS NULL AND expires_at IS NOT NULL AND expires_at <= ?`,
			now, models.LockHeld, now)
		if err != nil {
			return fmt.Errorf("failed to release expired holds: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bookingIDs, nil
}

// GetCalendar returns per-night availability of a property for [from, to).
func (db *DB) GetCalendar(ctx context.Context, propertyID int64, r models.DateRange) ([]*models.Availability, error) {
	locks, err := db.GetActiveLocks(ctx, propertyID, r, db.now())
	if err != nil {
		return nil, err
	}
	byDate := make(map[string]*models.CalendarLock, len(locks))
	for _, l := range locks {
		byDate[formatDate(l.Date)] = l
	}

	days := r.Days()
	calendar := make([]*models.Availability, 0, len(days))
	for _, day := range days {
		a := &models.Availability{Date: day, PropertyID: propertyID, Available: true}
		if l, ok := byDate[formatDate(day)]; ok {
			a.Available = false
			a.Reason = l.Reason
		}
		calendar = append(calendar, a)
	}
	return calendar, nil
}
