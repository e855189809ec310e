package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const paymentColumns = `id, booking_id, gateway_reference, gateway_transaction_id, amount_paise, status,
       checksum_verified, response_code, created_at, updated_at`

func scanPayment(s rowScanner) (*models.PaymentTransaction, error) {
	var t models.PaymentTransaction
	err := s.Scan(
		&t.ID, &t.BookingID, &t.GatewayReference, &t.GatewayTransactionID, &t.AmountPaise, &t.Status,
		&t.ChecksumVerified, &t.ResponseCode, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (db *DB) CreatePaymentTransaction(ctx context.Context, txn *models.PaymentTransaction) error {
	query := `INSERT INTO payment_transactions (
                booking_id, gateway_reference, gateway_transaction_id, amount_paise, status,
                checksum_verified, response_code, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := db.now()
	result, err := db.ExecContext(ctx, query,
		txn.BookingID,
		txn.GatewayReference,
		txn.GatewayTransactionID,
		txn.AmountPaise,
		txn.Status,
		txn.ChecksumVerified,
		txn.ResponseCode,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment reference %s: %w", txn.GatewayReference, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create payment transaction: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	txn.ID = id
	txn.CreatedAt = now
	txn.UpdatedAt = now
	return nil
}

func (db *DB) GetPaymentByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	row := db.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payment_transactions WHERE gateway_reference = ?`, reference)
	t, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", reference, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return t, nil
}

func (db *DB) GetPaymentsByBooking(ctx context.Context, bookingID int64) ([]*models.PaymentTransaction, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payment_transactions WHERE booking_id = ? ORDER BY id`, bookingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.PaymentTransaction
	for rows.Next() {
		t, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, t)
	}
	return payments, rows.Err()
}

// UpdatePaymentStatus writes the callback outcome if the row is still in
// fromStatus.
func (db *DB) UpdatePaymentStatus(ctx context.Context, txn *models.PaymentTransaction, fromStatus string) error {
	query := `UPDATE payment_transactions
              SET status = ?, gateway_transaction_id = ?, checksum_verified = ?, response_code = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	now := db.now()
	result, err := db.ExecContext(ctx, query,
		txn.Status, txn.GatewayTransactionID, txn.ChecksumVerified, txn.ResponseCode, now, txn.ID, fromStatus)
	if err != nil {
		return fmt.Errorf("failed to update payment status: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.ErrConcurrentModification
	}
	txn.UpdatedAt = now
	return nil
}
