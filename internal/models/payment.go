package models

import "time"

type PaymentTransaction struct {
	ID                   int64     `json:"id"`
	BookingID            int64     `json:"booking_id"`
	GatewayReference     string    `json:"gateway_reference"`
	GatewayTransactionID string    `json:"gateway_transaction_id,omitempty"`
	AmountPaise          int64     `json:"amount_paise"`
	Status               string    `json:"status"` // initiated, success, failed, refunded
	ChecksumVerified     bool      `json:"checksum_verified"`
	ResponseCode         string    `json:"response_code,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// Terminal reports whether no further status change is allowed.
func (t *PaymentTransaction) Terminal() bool {
	return t.Status == PaymentFailed || t.Status == PaymentRefunded
}

// CanMoveTo reports whether the webhook may move the transaction to status.
func (t *PaymentTransaction) CanMoveTo(status string) bool {
	switch t.Status {
	case PaymentInitiated:
		return status == PaymentSuccess || status == PaymentFailed
	case PaymentSuccess:
		return status == PaymentRefunded
	default:
		return false
	}
}
