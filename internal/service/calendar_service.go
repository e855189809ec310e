package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"resortwala/internal/config"
	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
)

// maxCalendarWindow ограничивает окно календаря для просмотра
const maxCalendarWindow = 366

type CalendarService struct {
	properties domain.PropertyRepository
	calendar   domain.CalendarRepository
	eventBus   domain.EventPublisher
	cfg        config.BookingConfig
	loc        *time.Location
	now        func() time.Time
	logger     *zerolog.Logger
}

func NewCalendarService(
	properties domain.PropertyRepository,
	calendar domain.CalendarRepository,
	eventBus domain.EventPublisher,
	cfg config.BookingConfig,
	logger *zerolog.Logger,
) *CalendarService {
	if cfg.HoldTTL <= 0 {
		cfg.HoldTTL = models.DefaultHoldTTL
	}
	if cfg.MaxNights <= 0 {
		cfg.MaxNights = models.DefaultMaxNights
	}
	if cfg.MaxAdvanceDays <= 0 {
		cfg.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn().Err(err).Str("timezone", cfg.Timezone).Msg("Unknown timezone, using UTC")
		loc = time.UTC
	}
	return &CalendarService{
		properties: properties,
		calendar:   calendar,
		eventBus:   eventBus,
		cfg:        cfg,
		loc:        loc,
		now:        time.Now,
		logger:     logger,
	}
}

// Today returns the current calendar day in the booking timezone as a UTC
// midnight value.
func (s *CalendarService) Today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseRange parses YYYY-MM-DD bounds into a range.
func ParseRange(start, end string) (models.DateRange, error) {
	r, err := models.ParseDateRange(start, end)
	if err != nil {
		return models.DateRange{}, domain.ValidationErrors{{Field: "dates", Message: err.Error()}}
	}
	if !r.Valid() {
		return models.DateRange{}, domain.ValidationErrors{{Field: "dates", Message: "end date must be after start date"}}
	}
	return r, nil
}

// ValidateStay checks a range used for a new booking or hold.
func (s *CalendarService) ValidateStay(r models.DateRange) error {
	if !r.Valid() {
		return domain.ValidationErrors{{Field: "check_out", Message: "must be after check_in"}}
	}
	if nights := models.NightsBetween(r.Start, r.End); nights > s.cfg.MaxNights {
		return domain.ValidationErrors{{
			Field:   "check_out",
			Message: fmt.Sprintf("stay of %d nights exceeds maximum of %d", nights, s.cfg.MaxNights),
		}}
	}

	today := s.Today()
	start := models.TruncateDay(r.Start)
	if start.Before(today) {
		return domain.ErrPastDate
	}
	if start.After(today.AddDate(0, 0, s.cfg.MaxAdvanceDays)) {
		return domain.ErrDateTooFar
	}
	return nil
}

// CheckAvailability reports whether every night of r is free. Expired holds
// are not conflicts.
func (s *CalendarService) CheckAvailability(ctx context.Context, propertyID int64, r models.DateRange) (*models.AvailabilityResult, error) {
	if err := s.ValidateStay(r); err != nil {
		return nil, err
	}
	if _, err := s.properties.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}

	locks, err := s.calendar.GetActiveLocks(ctx, propertyID, r, s.now().UTC())
	if err != nil {
		return nil, err
	}

	result := &models.AvailabilityResult{
		PropertyID: propertyID,
		CheckIn:    r.Start.Format(models.DateLayout),
		CheckOut:   r.End.Format(models.DateLayout),
		Available:  len(locks) == 0,
		Locks:      locks,
	}
	for _, l := range locks {
		result.Conflicts = append(result.Conflicts, l.Date.Format(models.DateLayout))
	}
	return result, nil
}

// HoldExpiry returns the expiry for a hold created now.
func (s *CalendarService) HoldExpiry() time.Time {
	return s.now().UTC().Add(s.cfg.HoldTTL)
}

// AcquireHold places a provisional lock for bookingID on every night of r.
func (s *CalendarService) AcquireHold(ctx context.Context, propertyID int64, r models.DateRange, bookingID int64) error {
	err := s.calendar.AcquireHold(ctx, propertyID, r, bookingID, s.HoldExpiry())
	if errors.Is(err, domain.ErrConflict) {
		metrics.IncCalendarConflict()
	}
	return err
}

func (s *CalendarService) ConvertHoldToBooked(ctx context.Context, bookingID int64) error {
	return s.calendar.ConvertHoldToBooked(ctx, bookingID)
}

func (s *CalendarService) ReleaseBookingLocks(ctx context.Context, bookingID int64) (int64, error) {
	return s.calendar.ReleaseBookingLocks(ctx, bookingID)
}

// HasActiveHold reports whether the booking still owns unexpired locks for
// every night of its stay.
func (s *CalendarService) HasActiveHold(ctx context.Context, b *models.Booking) (bool, error) {
	locks, err := s.calendar.GetBookingLocks(ctx, b.ID)
	if err != nil {
		return false, err
	}
	now := s.now().UTC()
	live := 0
	for _, l := range locks {
		if l.Active(now) {
			live++
		}
	}
	return live > 0 && live == b.Nights(), nil
}

// Freeze blocks nights for the owner. It fails with ErrConflict when any
// night is already locked.
func (s *CalendarService) Freeze(ctx context.Context, propertyID int64, r models.DateRange, changedBy string) error {
	if !r.Valid() {
		return domain.ValidationErrors{{Field: "end_date", Message: "must be after start_date"}}
	}
	if _, err := s.properties.GetProperty(ctx, propertyID); err != nil {
		return err
	}
	if err := s.calendar.FreezeDates(ctx, propertyID, r); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncCalendarConflict()
		}
		return err
	}

	s.logger.Info().Int64("property_id", propertyID).Str("range", r.String()).Str("by", changedBy).Msg("Dates frozen")
	s.publish(events.EventCalendarFrozen, propertyID, r, changedBy)
	return nil
}

// Unfreeze releases frozen nights only. It returns the number of nights freed.
func (s *CalendarService) Unfreeze(ctx context.Context, propertyID int64, r models.DateRange, changedBy string) (int64, error) {
	if !r.Valid() {
		return 0, domain.ValidationErrors{{Field: "end_date", Message: "must be after start_date"}}
	}
	if _, err := s.properties.GetProperty(ctx, propertyID); err != nil {
		return 0, err
	}
	n, err := s.calendar.UnfreezeDates(ctx, propertyID, r)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.publish(events.EventCalendarUnfrozen, propertyID, r, changedBy)
	}
	return n, nil
}

// ExpireHolds releases every hold past its expiry and returns the owning
// bookings.
func (s *CalendarService) ExpireHolds(ctx context.Context) ([]int64, error) {
	return s.calendar.ExpireHolds(ctx, s.now().UTC())
}

func (s *CalendarService) GetCalendar(ctx context.Context, propertyID int64, r models.DateRange) ([]*models.Availability, error) {
	if !r.Valid() {
		return nil, domain.ValidationErrors{{Field: "to", Message: "must be after from"}}
	}
	if models.NightsBetween(r.Start, r.End) > maxCalendarWindow {
		return nil, domain.ValidationErrors{{Field: "to", Message: fmt.Sprintf("window exceeds %d days", maxCalendarWindow)}}
	}
	if _, err := s.properties.GetProperty(ctx, propertyID); err != nil {
		return nil, err
	}
	return s.calendar.GetCalendar(ctx, propertyID, r)
}

func (s *CalendarService) publish(eventType string, propertyID int64, r models.DateRange, changedBy string) {
	if s.eventBus == nil {
		return
	}
	payload := events.CalendarEventPayload{
		PropertyID: propertyID,
		StartDate:  r.Start.Format(models.DateLayout),
		EndDate:    r.End.Format(models.DateLayout),
		ChangedBy:  changedBy,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
