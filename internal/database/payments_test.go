package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

func TestPaymentTransactions(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedProperty(t, db, 1)

	b := newBooking(1, "2024-06-01", "2024-06-03")
	require.NoError(t, db.CreateBookingWithHold(ctx, b, time.Now().Add(time.Hour)))

	txn := &models.PaymentTransaction{
		BookingID:        b.ID,
		GatewayReference: "TXN_1_1717200000",
		AmountPaise:      900000,
		Status:           models.PaymentInitiated,
	}
	require.NoError(t, db.CreatePaymentTransaction(ctx, txn))
	assert.NotZero(t, txn.ID)

	t.Run("DuplicateReference", func(t *testing.T) {
		dup := *txn
		err := db.CreatePaymentTransaction(ctx, &dup)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("GetByReference", func(t *testing.T) {
		got, err := db.GetPaymentByReference(ctx, "TXN_1_1717200000")
		require.NoError(t, err)
		assert.Equal(t, int64(900000), got.AmountPaise)
		assert.False(t, got.ChecksumVerified)

		_, err = db.GetPaymentByReference(ctx, "TXN_missing")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("UpdateStatus", func(t *testing.T) {
		txn.Status = models.PaymentSuccess
		txn.ChecksumVerified = true
		txn.GatewayTransactionID = "T2406011200"
		txn.ResponseCode = "PAYMENT_SUCCESS"
		require.NoError(t, db.UpdatePaymentStatus(ctx, txn, models.PaymentInitiated))

		// a replay still expecting "initiated" loses
		err := db.UpdatePaymentStatus(ctx, txn, models.PaymentInitiated)
		assert.ErrorIs(t, err, domain.ErrConcurrentModification)

		payments, err := db.GetPaymentsByBooking(ctx, b.ID)
		require.NoError(t, err)
		require.Len(t, payments, 1)
		assert.Equal(t, models.PaymentSuccess, payments[0].Status)
		assert.True(t, payments[0].ChecksumVerified)
		assert.Equal(t, "T2406011200", payments[0].GatewayTransactionID)
	})
}

func TestReviewsAndRatings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	p := seedProperty(t, db, 1)

	b1 := newBooking(1, "2024-06-01", "2024-06-03")
	b2 := newBooking(1, "2024-06-05", "2024-06-07")
	require.NoError(t, db.CreateBookingWithHold(ctx, b1, time.Now().Add(time.Hour)))
	require.NoError(t, db.CreateBookingWithHold(ctx, b2, time.Now().Add(time.Hour)))

	require.NoError(t, db.CreateReview(ctx, &models.Review{PropertyID: 1, BookingID: b1.ID, Rating: 5}))
	require.NoError(t, db.CreateReview(ctx, &models.Review{PropertyID: 1, BookingID: b2.ID, Rating: 4}))

	err := db.CreateReview(ctx, &models.Review{PropertyID: 1, BookingID: b1.ID, Rating: 3})
	assert.ErrorIs(t, err, domain.ErrConflict)

	stats, err := db.GetRatingStats(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	assert.InDelta(t, 4.5, stats.Average, 0.001)

	empty, err := db.GetRatingStats(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, empty.Count)

	p.InternalRating = 4.5
	p.InternalReviewCount = 2
	p.CustomerAvgRating = 4.41
	require.NoError(t, db.UpdatePropertyRatings(ctx, p))

	got, err := db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 4.41, got.CustomerAvgRating)

	assert.ErrorIs(t, db.UpdatePropertyRatings(ctx, &models.Property{ID: 99}), domain.ErrNotFound)
}

func TestNotificationTemplatesAndLogs(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	templates := []models.NotificationTemplate{
		{EventName: "booking.confirmed_customer", Channel: models.ChannelEmail, Subject: "Confirmed", Body: "Hi {{customer_name}}", IsActive: true},
		{EventName: "booking.confirmed_customer", Channel: models.ChannelSMS, Body: "Booking {{booking_id}} confirmed", IsActive: false},
		{EventName: "booking.new_request_admin", Channel: models.ChannelEmail, Body: "New request", IsActive: true},
	}
	require.NoError(t, db.SyncNotificationTemplates(ctx, templates))
	// syncing again replaces instead of duplicating
	require.NoError(t, db.SyncNotificationTemplates(ctx, templates))

	found, err := db.GetTemplatesForEvent(ctx, "booking.confirmed_customer")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, models.ChannelEmail, found[0].Channel)

	entry := &models.NotificationLog{
		Channel:   models.ChannelEmail,
		Recipient: "asha@example.com",
		Content:   "Hi Asha",
		EventName: "booking.confirmed_customer",
		BookingID: 5,
		Status:    models.NotificationSent,
	}
	require.NoError(t, db.CreateNotificationLog(ctx, entry))
	require.NoError(t, db.CreateNotificationLog(ctx, &models.NotificationLog{
		Channel: models.ChannelSMS, Recipient: "919876543210", Content: "x", EventName: "broadcast",
		Status: models.NotificationFailed, ErrorMessage: "gateway said INVALID",
	}))

	logs, err := db.GetNotificationLogs(ctx, 5)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "asha@example.com", logs[0].Recipient)
}

func TestGetProperty(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedProperty(t, db, 1)

	p, err := db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, p.ShareToken)
	assert.Equal(t, "4500", p.PricePerNight.String())

	// mutating the returned copy does not touch the cache
	p.Name = "changed"
	again, err := db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.NotEqual(t, "changed", again.Name)

	_, err = db.GetProperty(ctx, 404)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// share token survives a resync without one
	require.NoError(t, db.SyncProperties(ctx, []*models.Property{{ID: 1, Name: "Renamed", IsActive: false}}))
	renamed, err := db.GetProperty(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, p.ShareToken, renamed.ShareToken)
	assert.Equal(t, "Renamed", renamed.Name)

	active, err := db.GetActiveProperties(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	assert.Len(t, db.GetAllProperties(), 1)
}
