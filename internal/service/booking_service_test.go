package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/models"
)

func TestCreateBooking_HoldsNights(t *testing.T) {
	env := newTestEnv(t)
	b := env.createBooking(t, 7, 30, 32)

	assert.Equal(t, models.StatusPending, b.Status)
	assert.Equal(t, "9000.00", b.TotalAmount.StringFixed(2))
	assert.Equal(t, "Lake Villa", b.PropertyName)
	assert.Equal(t, int64(1), b.Version)

	locks := env.locks(t, b.ID)
	require.Len(t, locks, 2)
	for _, l := range locks {
		assert.Equal(t, models.LockHeld, l.Reason)
		require.NotNil(t, l.ExpiresAt)
	}
	assert.Equal(t, []string{events.EventBookingCreated}, env.events.seen())
	assert.Equal(t, []string{models.SyncTaskUpsert}, env.sync.tasks)
}

func TestCreateBooking_OverlapConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.createBooking(t, 7, 30, 32)

	_, err := env.bookings.CreateBooking(ctx, env.request(7, env.day(31), env.day(33)))
	require.ErrorIs(t, err, domain.ErrConflict)

	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(7), conflict.PropertyID)
	require.Len(t, conflict.Dates, 1)
	assert.Equal(t, env.day(31), conflict.Dates[0].Format(models.DateLayout))

	// check-out day of the first stay is free
	_, err = env.bookings.CreateBooking(ctx, env.request(7, env.day(32), env.day(34)))
	assert.NoError(t, err)

	// other properties are independent
	_, err = env.bookings.CreateBooking(ctx, env.request(8, env.day(30), env.day(32)))
	assert.NoError(t, err)

	all, err := env.bookings.SearchBookings(ctx, models.BookingFilter{PropertyID: 7})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateBooking_ConcurrentOverlapSingleWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var wins, conflicts int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(shift int) {
			defer wg.Done()
			_, err := env.bookings.CreateBooking(ctx, env.request(7, env.day(40+shift%2), env.day(43)))
			switch {
			case err == nil:
				atomic.AddInt32(&wins, 1)
			case assert.ErrorIs(t, err, domain.ErrConflict):
				atomic.AddInt32(&conflicts, 1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
	assert.Equal(t, int32(9), conflicts)
}

func TestCreateBooking_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		mutate  func(r *CreateBookingRequest)
		wantErr error
		field   string
	}{
		{"missing mobile", func(r *CreateBookingRequest) { r.CustomerMobile = "" }, domain.ErrValidation, "customer_mobile"},
		{"bad mobile", func(r *CreateBookingRequest) { r.CustomerMobile = "12ab" }, domain.ErrValidation, "customer_mobile"},
		{"bad email", func(r *CreateBookingRequest) { r.CustomerEmail = "nope" }, domain.ErrValidation, "customer_email"},
		{"bad date", func(r *CreateBookingRequest) { r.CheckIn = "01/06/2024" }, domain.ErrValidation, "check_in"},
		{"zero guests", func(r *CreateBookingRequest) { r.GuestCount = 0 }, domain.ErrValidation, "guest_count"},
		{"too many guests", func(r *CreateBookingRequest) { r.GuestCount = 7 }, domain.ErrValidation, "guest_count"},
		{"reversed range", func(r *CreateBookingRequest) { r.CheckIn, r.CheckOut = r.CheckOut, r.CheckIn }, domain.ErrValidation, ""},
		{"too long", func(r *CreateBookingRequest) { r.CheckOut = env.day(80) }, domain.ErrValidation, "check_out"},
		{"past", func(r *CreateBookingRequest) { r.CheckIn, r.CheckOut = env.day(-2), env.day(-1) }, domain.ErrPastDate, ""},
		{"too far", func(r *CreateBookingRequest) { r.CheckIn, r.CheckOut = env.day(400), env.day(402) }, domain.ErrDateTooFar, ""},
		{"inactive property", func(r *CreateBookingRequest) { r.PropertyID = 9 }, domain.ErrValidation, "property_id"},
		{"unknown property", func(r *CreateBookingRequest) { r.PropertyID = 99 }, domain.ErrNotFound, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.request(7, env.day(30), env.day(32))
			tt.mutate(req)
			_, err := env.bookings.CreateBooking(ctx, req)
			require.ErrorIs(t, err, tt.wantErr)

			if tt.field != "" {
				var verrs domain.ValidationErrors
				require.ErrorAs(t, err, &verrs)
				assert.Equal(t, tt.field, verrs[0].Field)
			}
		})
	}

	all, err := env.bookings.SearchBookings(ctx, models.BookingFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := env.createBooking(t, 7, 30, 32)
	approved, err := env.bookings.Approve(ctx, b.ID, "vendor")
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, approved.Status)
	assert.Equal(t, int64(2), approved.Version)
	assert.Len(t, env.locks(t, b.ID), 2, "approval keeps the hold")

	_, err = env.bookings.Approve(ctx, b.ID, "vendor")
	var invalid *domain.InvalidStateError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.StatusApproved, invalid.From)
	assert.Equal(t, models.StatusApproved, invalid.To)

	_, err = env.bookings.Complete(ctx, b.ID, "vendor")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	rejected, err := env.bookings.Reject(ctx, b.ID, "vendor")
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)
	assert.Empty(t, env.locks(t, b.ID))

	_, err = env.bookings.Cancel(ctx, b.ID, "customer")
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	assert.Equal(t, []string{
		events.EventBookingCreated,
		events.EventBookingApproved,
		events.EventBookingRejected,
	}, env.events.seen())
}

func TestCancel_ReleasesLocks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	b := env.createBooking(t, 7, 30, 32)
	_, err := env.bookings.Cancel(ctx, b.ID, "customer")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCancelled, env.status(t, b.ID))
	assert.Empty(t, env.locks(t, b.ID))

	// the nights can be booked again
	again := env.createBooking(t, 7, 30, 32)
	assert.NotEqual(t, b.ID, again.ID)
}

func TestTransition_StaleVersion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t, 7, 30, 32)

	stale := *b
	_, err := env.bookings.Approve(ctx, b.ID, "vendor")
	require.NoError(t, err)

	err = env.bookings.apply(ctx, &stale, models.StatusRejected, domain.LocksRelease, "vendor")
	assert.ErrorIs(t, err, domain.ErrConcurrentModification)
	assert.Equal(t, models.StatusApproved, env.status(t, b.ID))
}

func TestConfirm_NotReachableWithoutPayment(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t, 7, 30, 32)
	_, err := env.bookings.Approve(ctx, b.ID, "vendor")
	require.NoError(t, err)

	_, err = env.bookings.transition(ctx, b.ID, models.StatusConfirmed, "admin")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
	assert.Equal(t, models.StatusApproved, env.status(t, b.ID))
}

func TestExpireHolds_RejectsBookings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.calendar.now = fixedClock(time.Now().Add(-2 * time.Hour))
	stale := env.createBooking(t, 7, 30, 32)
	staleApproved := env.createBooking(t, 7, 35, 36)
	_, err := env.bookings.Approve(ctx, staleApproved.ID, "vendor")
	require.NoError(t, err)

	env.calendar.now = time.Now
	fresh := env.createBooking(t, 8, 30, 32)

	n, err := env.bookings.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, models.StatusRejected, env.status(t, stale.ID))
	assert.Equal(t, models.StatusRejected, env.status(t, staleApproved.ID))
	assert.Equal(t, models.StatusPending, env.status(t, fresh.ID))
	assert.Empty(t, env.locks(t, stale.ID))
	assert.Len(t, env.locks(t, fresh.ID), 2)

	n, err = env.bookings.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireHolds_RejectsBookingWhoseNightsWereTaken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	checkIn, checkOut := env.day(30), env.day(32)

	env.calendar.now = fixedClock(time.Now().Add(-31 * time.Minute))
	first, err := env.bookings.CreateBooking(ctx, env.request(7, checkIn, checkOut))
	require.NoError(t, err)

	env.calendar.now = time.Now
	second, err := env.bookings.CreateBooking(ctx, env.request(7, checkIn, checkOut))
	require.NoError(t, err)
	require.Empty(t, env.locks(t, first.ID))

	n, err := env.bookings.ExpireHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, models.StatusRejected, env.status(t, first.ID))
	assert.Equal(t, models.StatusPending, env.status(t, second.ID))
	assert.Len(t, env.locks(t, second.ID), 2)

	_, err = env.bookings.Approve(ctx, first.ID, "vendor")
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAddReview_OnlyCompletedStays(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t, 7, 30, 32)

	_, err := env.bookings.AddReview(ctx, b.ID, &ReviewRequest{Rating: 5})
	assert.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = env.bookings.AddReview(ctx, b.ID, &ReviewRequest{Rating: 9})
	assert.ErrorIs(t, err, domain.ErrValidation)

	confirmed, err := env.bookings.confirmPaid(ctx, b.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusConfirmed, confirmed.Status)

	n, err := env.bookings.CompleteFinishedStays(ctx, env.calendar.Today().AddDate(0, 0, 32))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	review, err := env.bookings.AddReview(ctx, b.ID, &ReviewRequest{Rating: 4, Comment: "Lovely lake view"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), review.PropertyID)

	_, err = env.bookings.AddReview(ctx, b.ID, &ReviewRequest{Rating: 3})
	assert.ErrorIs(t, err, domain.ErrConflict)
}

func TestCompleteFinishedStays_SkipsFutureCheckout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	b := env.createBooking(t, 7, 30, 32)
	_, err := env.bookings.confirmPaid(ctx, b.ID)
	require.NoError(t, err)

	n, err := env.bookings.CompleteFinishedStays(ctx, env.calendar.Today().AddDate(0, 0, 31))
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, models.StatusConfirmed, env.status(t, b.ID))
}
