package models

import "time"

type NotificationTemplate struct {
	ID        int64  `yaml:"-" json:"id"`
	EventName string `yaml:"event" json:"event_name"`
	Channel   string `yaml:"channel" json:"channel"`
	Subject   string `yaml:"subject" json:"subject"`
	Body      string `yaml:"body" json:"body"`
	IsActive  bool   `yaml:"is_active" json:"is_active"`
}

type NotificationLog struct {
	ID           int64     `json:"id"`
	Channel      string    `json:"channel"`
	Recipient    string    `json:"recipient"`
	Subject      string    `json:"subject,omitempty"`
	Content      string    `json:"content"`
	EventName    string    `json:"event_name"`
	BookingID    int64     `json:"booking_id,omitempty"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Contact is a customer address collected from bookings for broadcasts.
type Contact struct {
	Name   string
	Email  string
	Mobile string
}
