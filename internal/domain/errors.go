package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrConflict               = errors.New("dates already booked or locked")
	ErrInvalidState           = errors.New("invalid booking state transition")
	ErrSignature              = errors.New("payment signature verification failed")
	ErrConcurrentModification = errors.New("booking was modified concurrently")
	ErrValidation             = errors.New("validation failed")
	ErrPastDate               = errors.New("check-in date is in the past")
	ErrDateTooFar             = errors.New("check-in date is too far in the future")
)

// ConflictError lists the nights of a property that are already locked.
type ConflictError struct {
	PropertyID int64
	Dates      []time.Time
}

func (e *ConflictError) Error() string {
	if len(e.Dates) == 0 {
		return fmt.Sprintf("property %d: %s", e.PropertyID, ErrConflict)
	}
	dates := make([]string, 0, len(e.Dates))
	for _, d := range e.Dates {
		dates = append(dates, d.Format("2006-01-02"))
	}
	return fmt.Sprintf("property %d: %s: %s", e.PropertyID, ErrConflict, strings.Join(dates, ", "))
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InvalidStateError is returned when a booking cannot move from From to To.
type InvalidStateError struct {
	BookingID int64
	From      string
	To        string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("booking %d: cannot move from %s to %s", e.BookingID, e.From, e.To)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (v ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ErrValidation.Error()
	}
	messages := make([]string, 0, len(v))
	for _, err := range v {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (v ValidationErrors) Unwrap() error { return ErrValidation }
