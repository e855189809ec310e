package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const bookingSelect = `SELECT b.id, b.property_id, COALESCE(p.name, ''), b.customer_id, b.customer_name,
       b.customer_email, b.customer_mobile, b.check_in, b.check_out, b.guest_count, b.status,
       b.total_amount, b.payment_reference, b.comment, b.created_at, b.updated_at, b.version
  FROM bookings b
  LEFT JOIN properties p ON p.id = b.property_id`

func scanBooking(s rowScanner) (*models.Booking, error) {
	var b models.Booking
	var checkIn, checkOut string
	err := s.Scan(
		&b.ID, &b.PropertyID, &b.PropertyName, &b.CustomerID, &b.CustomerName,
		&b.CustomerEmail, &b.CustomerMobile, &checkIn, &checkOut, &b.GuestCount, &b.Status,
		&b.TotalAmount, &b.PaymentReference, &b.Comment, &b.CreatedAt, &b.UpdatedAt, &b.Version,
	)
	if err != nil {
		return nil, err
	}
	if b.CheckIn, err = parseDate(checkIn); err != nil {
		return nil, err
	}
	if b.CheckOut, err = parseDate(checkOut); err != nil {
		return nil, err
	}
	return &b, nil
}

func (db *DB) queryBookings(ctx context.Context, query string, args ...interface{}) ([]*models.Booking, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// CreateBookingWithHold inserts a pending booking and holds its nights in a
// single transaction. Nothing is written if any night is already locked.
func (db *DB) CreateBookingWithHold(ctx context.Context, booking *models.Booking, holdExpiresAt time.Time) error {
	now := db.now()
	expires := holdExpiresAt.UTC()
	r := booking.Range()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO bookings (
                property_id, customer_id, customer_name, customer_email, customer_mobile,
                check_in, check_out, guest_count, status, total_amount, payment_reference,
                comment, created_at, updated_at, version
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		result, err := tx.ExecContext(ctx, query,
			booking.PropertyID,
			booking.CustomerID,
			booking.CustomerName,
			booking.CustomerEmail,
			booking.CustomerMobile,
			formatDate(booking.CheckIn),
			formatDate(booking.CheckOut),
			booking.GuestCount,
			booking.Status,
			booking.TotalAmount,
			booking.PaymentReference,
			booking.Comment,
			now,
			now,
			1,
		)
		if err != nil {
			return fmt.Errorf("failed to insert booking in tx: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id in tx: %w", err)
		}

		if err := insertLocksTx(ctx, tx, booking.PropertyID, r, &id, models.LockHeld, &expires, now); err != nil {
			return err
		}

		booking.ID = id
		return nil
	})
	if err != nil {
		var conflict *domain.ConflictError
		if errors.As(err, &conflict) {
			db.logger.Debug().
				Int64("property_id", booking.PropertyID).
				Str("range", r.String()).
				Msg("Booking rejected: dates already locked")
		}
		booking.ID = 0
		return err
	}

	booking.CreatedAt = now
	booking.UpdatedAt = now
	booking.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	row := db.QueryRowContext(ctx, bookingSelect+` WHERE b.id = ?`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return b, nil
}

// SearchBookings returns bookings matching the filter, newest check-in first.
// From/To select stays overlapping [From, To).
func (db *DB) SearchBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.PropertyID != 0 {
		where = append(where, "b.property_id = ?")
		args = append(args, filter.PropertyID)
	}
	if filter.CustomerID != 0 {
		where = append(where, "b.customer_id = ?")
		args = append(args, filter.CustomerID)
	}
	if filter.Status != "" {
		where = append(where, "b.status = ?")
		args = append(args, filter.Status)
	}
	if !filter.From.IsZero() {
		where = append(where, "b.check_out > ?")
		args = append(args, formatDate(filter.From))
	}
	if !filter.To.IsZero() {
		where = append(where, "b.check_in < ?")
		args = append(args, formatDate(filter.To))
	}

	query := bookingSelect
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.check_in DESC, b.id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}
	return db.queryBookings(ctx, query, args...)
}

// GetBookingsByDateRange returns every booking overlapping [start, end).
func (db *DB) GetBookingsByDateRange(ctx context.Context, start, end time.Time) ([]*models.Booking, error) {
	query := bookingSelect + ` WHERE b.check_out > ? AND b.check_in < ? ORDER BY b.check_in ASC, b.id ASC`
	return db.queryBookings(ctx, query, formatDate(start), formatDate(end))
}

func (db *DB) UpdateBookingStatusWithVersion(ctx context.Context, id, fromVersion int64, status string) error {
	return db.UpdateBookingStatusWithLocks(ctx, id, fromVersion, status, domain.LocksKeep)
}

// UpdateBookingStatusWithLocks changes the status if the row still has
// fromVersion and applies the lock action in the same transaction.
func (db *DB) UpdateBookingStatusWithLocks(ctx context.Context, id, fromVersion int64, status string, action domain.LockAction) error {
	now := db.now()
	return db.withTx(ctx, func(tx *sql.Tx) error {
		query := `UPDATE bookings SET status = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
		result, err := tx.ExecContext(ctx, query, status, now, id, fromVersion)
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}
		rows, _ := result.RowsAffected()
		if rows == 0 {
			return domain.ErrConcurrentModification
		}

		switch action {
		case domain.LocksRelease:
			if _, err := releaseBookingLocksTx(ctx, tx, id, now); err != nil {
				return err
			}
		case domain.LocksConvertToBooked:
			if err := convertHoldTx(ctx, tx, id, now); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) UpdatePaymentReference(ctx context.Context, id int64, reference string) error {
	query := `UPDATE bookings SET payment_reference = ?, updated_at = ? WHERE id = ?`
	result, err := db.ExecContext(ctx, query, reference, db.now(), id)
	if err != nil {
		return fmt.Errorf("failed to update payment reference: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("booking %d: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetFinishedStays returns confirmed bookings whose check-out is on or
// before today.
func (db *DB) GetFinishedStays(ctx context.Context, today time.Time) ([]*models.Booking, error) {
	query := bookingSelect + ` WHERE b.status = ? AND b.check_out <= ? ORDER BY b.check_out ASC`
	return db.queryBookings(ctx, query, models.StatusConfirmed, formatDate(today))
}

// GetCustomerContacts returns distinct customer addresses found in bookings.
func (db *DB) GetCustomerContacts(ctx context.Context) ([]models.Contact, error) {
	query := `SELECT MAX(customer_name), customer_email, customer_mobile
              FROM bookings
              WHERE customer_email <> '' OR customer_mobile <> ''
              GROUP BY customer_email, customer_mobile
              ORDER BY MAX(id)`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get customer contacts: %w", err)
	}
	defer rows.Close()

	var contacts []models.Contact
	for rows.Next() {
		var c models.Contact
		if err := rows.Scan(&c.Name, &c.Email, &c.Mobile); err != nil {
			return nil, fmt.Errorf("failed to scan contact: %w", err)
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// PurgeResult counts the rows removed by PurgeBookings.
type PurgeResult struct {
	Bookings int64
	Locks    int64
	Payments int64
	Reviews  int64
}

// PurgeBookings deletes every booking with its locks, payments and reviews.
// Frozen dates stay.
func (db *DB) PurgeBookings(ctx context.Context) (*PurgeResult, error) {
	res := &PurgeResult{}
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		steps := []struct {
			query string
			count *int64
		}{
			{`DELETE FROM reviews`, &res.Reviews},
			{`DELETE FROM payment_transactions`, &res.Payments},
			{`DELETE FROM calendar_locks WHERE booking_id IS NOT NULL`, &res.Locks},
			{`DELETE FROM bookings`, &res.Bookings},
		}
		for _, step := range steps {
			result, err := tx.ExecContext(ctx, step.query)
			if err != nil {
				return fmt.Errorf("failed to purge (%s): %w", step.query, err)
			}
			*step.count, _ = result.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	db.logger.Warn().
		Int64("bookings", res.Bookings).
		Int64("locks", res.Locks).
		Int64("payments", res.Payments).
		Msg("All bookings purged")
	return res, nil
}
