package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, _ := time.Parse(DateLayout, s)
	return t
}

func TestDateRange(t *testing.T) {
	t.Run("Parse", func(t *testing.T) {
		r, err := ParseDateRange("2024-06-01", "2024-06-03")
		require.NoError(t, err)
		assert.True(t, r.Valid())
		assert.Equal(t, "2024-06-01..2024-06-03", r.String())

		_, err = ParseDateRange("06/01/2024", "2024-06-03")
		assert.Error(t, err)
		_, err = ParseDateRange("2024-06-01", "")
		assert.Error(t, err)
	})

	t.Run("DaysExcludeCheckOut", func(t *testing.T) {
		r := DateRange{Start: day("2024-06-01"), End: day("2024-06-03")}
		days := r.Days()
		require.Len(t, days, 2)
		assert.Equal(t, "2024-06-01", days[0].Format(DateLayout))
		assert.Equal(t, "2024-06-02", days[1].Format(DateLayout))
	})

	t.Run("EmptyAndReversed", func(t *testing.T) {
		same := DateRange{Start: day("2024-06-01"), End: day("2024-06-01")}
		assert.False(t, same.Valid())
		assert.Empty(t, same.Days())

		reversed := DateRange{Start: day("2024-06-05"), End: day("2024-06-01")}
		assert.False(t, reversed.Valid())
	})

	t.Run("Overlaps", func(t *testing.T) {
		a := DateRange{Start: day("2024-06-01"), End: day("2024-06-03")}
		b := DateRange{Start: day("2024-06-02"), End: day("2024-06-04")}
		c := DateRange{Start: day("2024-06-03"), End: day("2024-06-05")}
		assert.True(t, a.Overlaps(b))
		assert.True(t, b.Overlaps(a))
		// check-out day is free for the next check-in
		assert.False(t, a.Overlaps(c))
	})

	t.Run("TruncateDay", func(t *testing.T) {
		ts := time.Date(2024, 6, 1, 23, 59, 0, 0, time.UTC)
		assert.Equal(t, day("2024-06-01"), TruncateDay(ts))
	})
}

func TestBookingNights(t *testing.T) {
	b := &Booking{CheckIn: day("2024-06-01"), CheckOut: day("2024-06-04")}
	assert.Equal(t, 3, b.Nights())
	assert.Equal(t, 3, len(b.Range().Days()))
}

func TestPaymentTransactionTransitions(t *testing.T) {
	tests := []struct {
		from string
		to   string
		ok   bool
	}{
		{PaymentInitiated, PaymentSuccess, true},
		{PaymentInitiated, PaymentFailed, true},
		{PaymentInitiated, PaymentRefunded, false},
		{PaymentSuccess, PaymentRefunded, true},
		{PaymentSuccess, PaymentFailed, false},
		{PaymentFailed, PaymentSuccess, false},
		{PaymentRefunded, PaymentSuccess, false},
	}
	for _, tt := range tests {
		txn := &PaymentTransaction{Status: tt.from}
		assert.Equal(t, tt.ok, txn.CanMoveTo(tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.True(t, (&PaymentTransaction{Status: PaymentFailed}).Terminal())
	assert.True(t, (&PaymentTransaction{Status: PaymentRefunded}).Terminal())
	assert.False(t, (&PaymentTransaction{Status: PaymentSuccess}).Terminal())
}

func TestCalendarLockActive(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	assert.True(t, (&CalendarLock{Reason: LockBooked}).Active(now))
	assert.True(t, (&CalendarLock{Reason: LockHeld, ExpiresAt: &future}).Active(now))
	assert.False(t, (&CalendarLock{Reason: LockHeld, ExpiresAt: &past}).Active(now))
	assert.False(t, (&CalendarLock{Reason: LockFrozen, ReleasedAt: &past}).Active(now))
}
