package models

import "time"

type Review struct {
	ID         int64     `json:"id"`
	PropertyID int64     `json:"property_id"`
	BookingID  int64     `json:"booking_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// RatingStats is the aggregated internal review score of a property.
type RatingStats struct {
	PropertyID int64
	Average    float64
	Count      int
}

type BackupRecord struct {
	ID        int64     `json:"id"`
	FileName  string    `json:"file_name"`
	SizeBytes int64     `json:"size_bytes"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
