package service

import (
	"resortwala/internal/domain"
	"resortwala/internal/models"
)

// transitions lists every allowed booking status change. approved→confirmed
// is reserved for the verified payment path.
var transitions = map[string][]string{
	models.StatusPending:   {models.StatusApproved, models.StatusRejected, models.StatusCancelled},
	models.StatusApproved:  {models.StatusConfirmed, models.StatusRejected, models.StatusCancelled},
	models.StatusConfirmed: {models.StatusCancelled, models.StatusCompleted},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to string) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func checkTransition(b *models.Booking, to string) error {
	if !CanTransition(b.Status, to) {
		return &domain.InvalidStateError{BookingID: b.ID, From: b.Status, To: to}
	}
	return nil
}

// releasesLocks reports whether entering status frees the calendar.
func releasesLocks(status string) bool {
	return status == models.StatusRejected || status == models.StatusCancelled
}
