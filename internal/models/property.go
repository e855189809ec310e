package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Property struct {
	ID                  int64           `yaml:"id" json:"id"`
	VendorID            int64           `yaml:"vendor_id" json:"vendor_id"`
	Name                string          `yaml:"name" json:"name"`
	PricePerNight       decimal.Decimal `yaml:"price_per_night" json:"price_per_night"`
	MaxGuests           int             `yaml:"max_guests" json:"max_guests"`
	VendorEmail         string          `yaml:"vendor_email" json:"-"`
	VendorMobile        string          `yaml:"vendor_mobile" json:"-"`
	VendorTelegramID    int64           `yaml:"vendor_telegram_id" json:"-"`
	ShareToken          string          `yaml:"share_token" json:"share_token,omitempty"`
	IsActive            bool            `yaml:"is_active" json:"is_active"`
	InternalRating      float64         `yaml:"-" json:"internal_rating"`
	InternalReviewCount int             `yaml:"-" json:"internal_review_count"`
	GoogleRating        float64         `yaml:"google_rating" json:"google_rating"`
	GoogleReviewCount   int             `yaml:"google_review_count" json:"google_review_count"`
	CustomerAvgRating   float64         `yaml:"-" json:"customer_avg_rating"`
	CreatedAt           time.Time       `yaml:"-" json:"created_at"`
	UpdatedAt           time.Time       `yaml:"-" json:"updated_at"`
}
