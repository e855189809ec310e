package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"resortwala/internal/domain"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
	"resortwala/internal/payment"
)

const (
	idempotencyKeyPrefix = "phonepe:"
	initiationFailedCode = "INITIATION_FAILED"
)

// PaymentGateway is the subset of the PhonePe client used by the service.
type PaymentGateway interface {
	NewPayRequest(merchantTxnID, merchantUserID string, amountPaise int64, mobile string) *payment.PayRequest
	Initiate(ctx context.Context, req *payment.PayRequest) (string, error)
	VerifyCallback(base64Response, xVerify string) bool
}

// CallbackResult describes how a gateway callback was applied.
type CallbackResult struct {
	MerchantTransactionID string `json:"merchant_transaction_id"`
	BookingID             int64  `json:"booking_id"`
	Code                  string `json:"code"`
	PaymentStatus         string `json:"payment_status"`
	BookingStatus         string `json:"booking_status"`
	Duplicate             bool   `json:"duplicate,omitempty"`
	RefundRequired        bool   `json:"refund_required,omitempty"`
}

type InitiateResult struct {
	RedirectURL string                     `json:"redirect_url"`
	Transaction *models.PaymentTransaction `json:"transaction"`
}

type PaymentService struct {
	gateway     PaymentGateway
	payments    domain.PaymentRepository
	bookings    *BookingService
	idempotency domain.IdempotencyStore
	now         func() time.Time
	logger      *zerolog.Logger
}

func NewPaymentService(
	gateway PaymentGateway,
	payments domain.PaymentRepository,
	bookings *BookingService,
	idempotency domain.IdempotencyStore,
	logger *zerolog.Logger,
) *PaymentService {
	return &PaymentService{
		gateway:     gateway,
		payments:    payments,
		bookings:    bookings,
		idempotency: idempotency,
		now:         time.Now,
		logger:      logger,
	}
}

// InitiatePayment registers a transaction for a pending or approved booking
// whose hold is still alive and returns the gateway checkout URL.
func (s *PaymentService) InitiatePayment(ctx context.Context, bookingID int64) (*InitiateResult, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusPending && b.Status != models.StatusApproved {
		return nil, fmt.Errorf("booking %d is %s, payment not allowed: %w", b.ID, b.Status, domain.ErrInvalidState)
	}
	held, err := s.bookings.calendar.HasActiveHold(ctx, b)
	if err != nil {
		return nil, err
	}
	if !held {
		return nil, fmt.Errorf("booking %d hold expired: %w", b.ID, domain.ErrInvalidState)
	}

	property, err := s.bookings.properties.GetProperty(ctx, b.PropertyID)
	if err != nil {
		return nil, err
	}
	userID := "USER_GUEST"
	if property.VendorID != 0 {
		userID = fmt.Sprintf("USER_%d", property.VendorID)
	}

	txn := &models.PaymentTransaction{
		BookingID:        b.ID,
		GatewayReference: payment.MerchantTransactionID(b.ID, s.now()),
		AmountPaise:      b.TotalAmount.Mul(decimal.NewFromInt(100)).Round(0).IntPart(),
		Status:           models.PaymentInitiated,
	}
	if err := s.payments.CreatePaymentTransaction(ctx, txn); err != nil {
		return nil, err
	}

	req := s.gateway.NewPayRequest(txn.GatewayReference, userID, txn.AmountPaise, b.CustomerMobile)
	url, err := s.gateway.Initiate(ctx, req)
	if err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("merchant_txn_id", txn.GatewayReference).Msg("Payment initiation failed")
		s.markInitiationFailed(ctx, txn)
		return nil, err
	}

	if err := s.bookings.bookings.UpdatePaymentReference(ctx, b.ID, txn.GatewayReference); err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("merchant_txn_id", txn.GatewayReference).
		Int64("amount_paise", txn.AmountPaise).
		Msg("Payment initiated")
	return &InitiateResult{RedirectURL: url, Transaction: txn}, nil
}

// HandleCallback verifies and applies a gateway server callback. A bad
// signature fails closed with ErrSignature and touches nothing.
func (s *PaymentService) HandleCallback(ctx context.Context, response, signature string) (*CallbackResult, error) {
	if !s.gateway.VerifyCallback(response, signature) {
		metrics.IncPaymentCallback("invalid_signature")
		s.logger.Warn().Msg("Payment callback rejected: checksum mismatch")
		return nil, domain.ErrSignature
	}

	decoded, err := payment.DecodeCallback(response)
	if err != nil {
		metrics.IncPaymentCallback("malformed")
		return nil, domain.ValidationErrors{{Field: "response", Message: err.Error()}}
	}

	merchantTxnID := decoded.Data.MerchantTransactionID
	txn, err := s.payments.GetPaymentByReference(ctx, merchantTxnID)
	if err != nil {
		metrics.IncPaymentCallback("unknown_transaction")
		return nil, err
	}

	result := &CallbackResult{
		MerchantTransactionID: merchantTxnID,
		BookingID:             txn.BookingID,
		Code:                  decoded.Code,
		PaymentStatus:         txn.Status,
	}
	if id, ok := payment.BookingIDFromTransaction(merchantTxnID); ok && id != txn.BookingID {
		s.logger.Warn().Int64("txn_booking_id", txn.BookingID).Int64("reference_booking_id", id).Msg("Payment reference points to another booking")
	}

	if decoded.Code == payment.CodePaymentPending {
		metrics.IncPaymentCallback("pending")
		return s.withBookingStatus(ctx, result), nil
	}

	key := idempotencyKeyPrefix + merchantTxnID + ":" + decoded.Code
	first, err := s.idempotency.CheckAndMark(ctx, key, models.DefaultIdempotencyTTL)
	if err != nil {
		return nil, fmt.Errorf("idempotency check: %w", err)
	}
	if !first {
		metrics.IncPaymentCallback("duplicate")
		result.Duplicate = true
		return s.withBookingStatus(ctx, result), nil
	}

	if err := s.apply(ctx, txn, decoded, result); err != nil {
		if delErr := s.idempotency.Delete(ctx, key); delErr != nil {
			s.logger.Error().Err(delErr).Str("key", key).Msg("Failed to clear idempotency key")
		}
		metrics.IncPaymentCallback("error")
		return nil, err
	}
	metrics.IncPaymentCallback(decoded.Code)
	return s.withBookingStatus(ctx, result), nil
}

func (s *PaymentService) apply(ctx context.Context, txn *models.PaymentTransaction, cb *payment.CallbackResponse, result *CallbackResult) error {
	log := s.logger.With().
		Int64("booking_id", txn.BookingID).
		Str("merchant_txn_id", txn.GatewayReference).
		Str("code", cb.Code).
		Logger()

	switch cb.Code {
	case payment.CodePaymentSuccess:
		if err := s.moveTransaction(ctx, txn, models.PaymentSuccess, cb); err != nil {
			return err
		}
		result.PaymentStatus = txn.Status
		if txn.Status != models.PaymentSuccess {
			log.Warn().Str("payment_status", txn.Status).Msg("Success callback for a closed transaction ignored")
			return nil
		}

		_, err := s.bookings.confirmPaid(ctx, txn.BookingID)
		switch {
		case err == nil:
			log.Info().Msg("Booking confirmed by payment")
		case errors.Is(err, domain.ErrConflict):
			// ночи заняты после истечения холда
			if _, rejErr := s.bookings.rejectUnpaid(ctx, txn.BookingID, "payment_conflict"); rejErr != nil {
				log.Error().Err(rejErr).Msg("Failed to reject booking after lock conflict")
			}
			result.RefundRequired = true
			log.Error().Err(err).Msg("Paid booking lost its dates, refund required")
		case errors.Is(err, domain.ErrInvalidState):
			result.RefundRequired = true
			log.Error().Err(err).Msg("Payment received for a booking that cannot be confirmed, refund required")
		default:
			return err
		}

	case payment.CodePaymentRefunded:
		if err := s.moveTransaction(ctx, txn, models.PaymentRefunded, cb); err != nil {
			return err
		}
		result.PaymentStatus = txn.Status
		log.Info().Msg("Payment refunded")

	default:
		if err := s.moveTransaction(ctx, txn, models.PaymentFailed, cb); err != nil {
			return err
		}
		result.PaymentStatus = txn.Status
		if txn.Status != models.PaymentFailed {
			return nil
		}
		b, err := s.bookings.GetBooking(ctx, txn.BookingID)
		if err != nil {
			return err
		}
		if b.Status == models.StatusPending || b.Status == models.StatusApproved {
			if _, err := s.bookings.rejectUnpaid(ctx, b.ID, "payment_failed"); err != nil {
				return err
			}
		}
		log.Warn().Msg("Payment failed, booking rejected")
	}
	return nil
}

// moveTransaction writes the new payment status when the current one allows
// it. A transaction already in the target status is left as is.
func (s *PaymentService) moveTransaction(ctx context.Context, txn *models.PaymentTransaction, to string, cb *payment.CallbackResponse) error {
	if txn.Status == to || !txn.CanMoveTo(to) {
		return nil
	}
	from := txn.Status
	txn.Status = to
	txn.ResponseCode = cb.Code
	txn.ChecksumVerified = true
	if cb.Data.TransactionID != "" {
		txn.GatewayTransactionID = cb.Data.TransactionID
	}
	if err := s.payments.UpdatePaymentStatus(ctx, txn, from); err != nil {
		txn.Status = from
		return err
	}
	return nil
}

// markInitiationFailed closes a transaction the gateway never accepted.
func (s *PaymentService) markInitiationFailed(ctx context.Context, txn *models.PaymentTransaction) {
	from := txn.Status
	txn.Status = models.PaymentFailed
	txn.ResponseCode = initiationFailedCode
	if err := s.payments.UpdatePaymentStatus(context.WithoutCancel(ctx), txn, from); err != nil {
		txn.Status = from
		s.logger.Error().Err(err).Str("merchant_txn_id", txn.GatewayReference).Msg("Failed to mark payment as failed")
	}
}

func (s *PaymentService) withBookingStatus(ctx context.Context, result *CallbackResult) *CallbackResult {
	if b, err := s.bookings.GetBooking(ctx, result.BookingID); err == nil {
		result.BookingStatus = b.Status
	}
	return result
}

// GetPayments lists the transactions of a booking.
func (s *PaymentService) GetPayments(ctx context.Context, bookingID int64) ([]*models.PaymentTransaction, error) {
	return s.payments.GetPaymentsByBooking(ctx, bookingID)
}
