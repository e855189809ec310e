package models

import "time"

// CalendarLock marks one night of a property as unavailable.
type CalendarLock struct {
	ID         int64      `json:"id"`
	PropertyID int64      `json:"property_id"`
	Date       time.Time  `json:"date"`
	BookingID  *int64     `json:"booking_id,omitempty"`
	Reason     string     `json:"reason"` // booked, frozen, held
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`
}

// Active reports whether the lock still blocks its date at now.
func (l *CalendarLock) Active(now time.Time) bool {
	if l.ReleasedAt != nil {
		return false
	}
	if l.Reason == LockHeld && l.ExpiresAt != nil && !l.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AvailabilityResult is the outcome of a calendar check for a stay.
type AvailabilityResult struct {
	PropertyID int64           `json:"property_id"`
	CheckIn    string          `json:"check_in"`
	CheckOut   string          `json:"check_out"`
	Available  bool            `json:"available"`
	Conflicts  []string        `json:"conflicts,omitempty"`
	Locks      []*CalendarLock `json:"-"`
}

type Availability struct {
	Date       time.Time `json:"date"`
	PropertyID int64     `json:"property_id"`
	Available  bool      `json:"available"`
	Reason     string    `json:"reason,omitempty"`
}
