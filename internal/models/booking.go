package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Booking struct {
	ID               int64           `json:"id"`
	PropertyID       int64           `json:"property_id"`
	PropertyName     string          `json:"property_name,omitempty"`
	CustomerID       int64           `json:"customer_id"`
	CustomerName     string          `json:"customer_name"`
	CustomerEmail    string          `json:"customer_email,omitempty"`
	CustomerMobile   string          `json:"customer_mobile"`
	CheckIn          time.Time       `json:"check_in"`
	CheckOut         time.Time       `json:"check_out"`
	GuestCount       int             `json:"guest_count"`
	Status           string          `json:"status"` // pending, approved, rejected, confirmed, cancelled, completed
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Comment          string          `json:"comment,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Version          int64           `json:"version"`
}

// Nights returns the number of nights covered by [CheckIn, CheckOut).
func (b *Booking) Nights() int {
	return NightsBetween(b.CheckIn, b.CheckOut)
}

// Range returns the stay as a DateRange.
func (b *Booking) Range() DateRange {
	return DateRange{Start: b.CheckIn, End: b.CheckOut}
}

// BookingFilter narrows SearchBookings. Zero values are ignored.
type BookingFilter struct {
	PropertyID int64
	CustomerID int64
	Status     string
	From       time.Time
	To         time.Time
	Limit      int
}
