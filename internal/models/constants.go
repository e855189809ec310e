package models

import "time"

const (
	StatusPending   = "pending"
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

const (
	LockBooked = "booked"
	LockFrozen = "frozen"
	LockHeld   = "held"
)

const (
	PaymentInitiated = "initiated"
	PaymentSuccess   = "success"
	PaymentFailed    = "failed"
	PaymentRefunded  = "refunded"
)

const (
	ChannelEmail    = "email"
	ChannelSMS      = "sms"
	ChannelTelegram = "telegram"
)

const (
	NotificationSent   = "sent"
	NotificationQueued = "queued"
	NotificationFailed = "failed"
)

const (
	// DefaultHoldTTL время жизни временной блокировки на период оплаты
	DefaultHoldTTL = 30 * time.Minute

	// DefaultMaxNights максимальная длина одного бронирования
	DefaultMaxNights = 30

	// DefaultMaxAdvanceDays насколько вперед можно бронировать
	DefaultMaxAdvanceDays = 365

	// DefaultIdempotencyTTL время хранения ключей обработанных колбэков
	DefaultIdempotencyTTL = 72 * time.Hour

	// WorkerQueueSize размер очереди воркера
	WorkerQueueSize = 1000

	// NotificationQueueSize размер очереди асинхронных уведомлений
	NotificationQueueSize = 256

	// HoldSweepInterval период проверки просроченных блокировок
	HoldSweepInterval = time.Minute

	// SheetsCacheTTL время жизни кэша строк Google Sheets
	SheetsCacheTTL = 60 * 60 // 1 час в секундах
)

// ActiveStatuses are booking statuses that may own calendar locks.
var ActiveStatuses = []string{StatusPending, StatusApproved, StatusConfirmed}

// IsValidStatus reports whether s is a known booking status.
func IsValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}
