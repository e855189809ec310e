package domain

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestErrorsUnwrap(t *testing.T) {
	d := time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC)
	conflict := fmt.Errorf("acquire hold: %w", &ConflictError{PropertyID: 7, Dates: []time.Time{d}})
	assert.ErrorIs(t, conflict, ErrConflict)
	assert.Contains(t, conflict.Error(), "2024-06-02")

	var ce *ConflictError
	assert.True(t, errors.As(conflict, &ce))
	assert.Equal(t, int64(7), ce.PropertyID)

	state := &InvalidStateError{BookingID: 42, From: "rejected", To: "confirmed"}
	assert.ErrorIs(t, state, ErrInvalidState)
	assert.Equal(t, "booking 42: cannot move from rejected to confirmed", state.Error())

	verrs := ValidationErrors{{Field: "check_in", Message: "is required"}}
	assert.ErrorIs(t, verrs, ErrValidation)
	assert.Equal(t, "validation failed: check_in: is required", verrs.Error())
}
