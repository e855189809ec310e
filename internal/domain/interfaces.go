package domain

import (
	"context"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"resortwala/internal/models"
)

// LockAction says what happens to a booking's calendar locks together with
// a status change.
type LockAction int

const (
	LocksKeep LockAction = iota
	LocksRelease
	LocksConvertToBooked
)

type PropertyRepository interface {
	GetProperty(ctx context.Context, id int64) (*models.Property, error)
	GetActiveProperties(ctx context.Context) ([]*models.Property, error)
}

type BookingRepository interface {
	CreateBookingWithHold(ctx context.Context, booking *models.Booking, holdExpiresAt time.Time) error
	GetBooking(ctx context.Context, id int64) (*models.Booking, error)
	SearchBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	UpdateBookingStatusWithVersion(ctx context.Context, id, version int64, status string) error
	UpdateBookingStatusWithLocks(ctx context.Context, id, version int64, status string, action LockAction) error
	UpdatePaymentReference(ctx context.Context, id int64, reference string) error
	GetFinishedStays(ctx context.Context, today time.Time) ([]*models.Booking, error)
	GetCustomerContacts(ctx context.Context) ([]models.Contact, error)
}

type CalendarRepository interface {
	GetActiveLocks(ctx context.Context, propertyID int64, r models.DateRange, now time.Time) ([]*models.CalendarLock, error)
	GetBookingLocks(ctx context.Context, bookingID int64) ([]*models.CalendarLock, error)
	AcquireHold(ctx context.Context, propertyID int64, r models.DateRange, bookingID int64, expiresAt time.Time) error
	ConvertHoldToBooked(ctx context.Context, bookingID int64) error
	ReleaseBookingLocks(ctx context.Context, bookingID int64) (int64, error)
	FreezeDates(ctx context.Context, propertyID int64, r models.DateRange) error
	UnfreezeDates(ctx context.Context, propertyID int64, r models.DateRange) (int64, error)
	ExpireHolds(ctx context.Context, now time.Time) ([]int64, error)
	GetCalendar(ctx context.Context, propertyID int64, r models.DateRange) ([]*models.Availability, error)
}

type PaymentRepository interface {
	CreatePaymentTransaction(ctx context.Context, txn *models.PaymentTransaction) error
	GetPaymentByReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	GetPaymentsByBooking(ctx context.Context, bookingID int64) ([]*models.PaymentTransaction, error)
	UpdatePaymentStatus(ctx context.Context, txn *models.PaymentTransaction, fromStatus string) error
}

type ReviewRepository interface {
	CreateReview(ctx context.Context, review *models.Review) error
	GetRatingStats(ctx context.Context, propertyID int64) (*models.RatingStats, error)
	UpdatePropertyRatings(ctx context.Context, p *models.Property) error
}

type NotificationRepository interface {
	GetTemplatesForEvent(ctx context.Context, eventName string) ([]*models.NotificationTemplate, error)
	CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error
}

// IdempotencyStore remembers processed webhook keys.
type IdempotencyStore interface {
	// CheckAndMark returns true if key was not seen before and marks it.
	CheckAndMark(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type RateLimitStore interface {
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// GuardStore is the shared key/value backend behind idempotency and
// throttling (redis with an in-memory fallback).
type GuardStore interface {
	IdempotencyStore
	RateLimitStore
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramService is the part of the bot API the vendor bot uses.
type TelegramService interface {
	TelegramSender
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	GetSelf() tgbotapi.User
	StopReceivingUpdates()
}

type SheetsWriter interface {
	UpsertBooking(ctx context.Context, booking *models.Booking) error
	UpdateBookingStatus(ctx context.Context, bookingID int64, status string) error
	ReplaceBookingsSheet(ctx context.Context, bookings []*models.Booking) error
}

type SyncWorker interface {
	EnqueueTask(ctx context.Context, taskType string, bookingID int64, booking *models.Booking, status string) error
}
