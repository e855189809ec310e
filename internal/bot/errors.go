package bot

import (
	"errors"
	"strings"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

func (b *Bot) getErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var conflict *domain.ConflictError
	if errors.As(err, &conflict) {
		dates := make([]string, 0, len(conflict.Dates))
		for _, d := range conflict.Dates {
			dates = append(dates, d.Format(models.DateLayout))
		}
		return "⚠️ These dates are already taken: " + strings.Join(dates, ", ")
	}

	var invalid domain.ValidationErrors
	if errors.As(err, &invalid) {
		return "⚠️ " + invalid.Error()
	}

	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "⚠️ Not found."
	case errors.Is(err, domain.ErrInvalidState):
		return "⚠️ This booking can no longer be changed that way."
	case errors.Is(err, domain.ErrConcurrentModification):
		return "⚠️ The booking was changed by someone else. Please refresh and try again."
	case errors.Is(err, domain.ErrPastDate):
		return "⚠️ The date is in the past."
	case errors.Is(err, domain.ErrDateTooFar):
		return "⚠️ The date is too far in the future."
	}

	return "❌ Something went wrong. Please try again later."
}
