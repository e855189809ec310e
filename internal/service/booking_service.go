package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"resortwala/internal/domain"
	"resortwala/internal/events"
	"resortwala/internal/metrics"
	"resortwala/internal/models"
)

// eventByStatus maps the status a booking enters to the event published.
var eventByStatus = map[string]string{
	models.StatusPending:   events.EventBookingCreated,
	models.StatusApproved:  events.EventBookingApproved,
	models.StatusRejected:  events.EventBookingRejected,
	models.StatusConfirmed: events.EventBookingConfirmed,
	models.StatusCancelled: events.EventBookingCancelled,
	models.StatusCompleted: events.EventBookingCompleted,
}

type BookingService struct {
	bookings     domain.BookingRepository
	properties   domain.PropertyRepository
	reviews      domain.ReviewRepository
	calendar     *CalendarService
	eventBus     domain.EventPublisher
	sheetsWorker domain.SyncWorker
	validate     *validator.Validate
	logger       *zerolog.Logger
}

func NewBookingService(
	bookings domain.BookingRepository,
	properties domain.PropertyRepository,
	reviews domain.ReviewRepository,
	calendar *CalendarService,
	eventBus domain.EventPublisher,
	sheetsWorker domain.SyncWorker,
	logger *zerolog.Logger,
) *BookingService {
	return &BookingService{
		bookings:     bookings,
		properties:   properties,
		reviews:      reviews,
		calendar:     calendar,
		eventBus:     eventBus,
		sheetsWorker: sheetsWorker,
		validate:     newValidator(),
		logger:       logger,
	}
}

// CreateBooking validates the request, prices the stay and stores a pending
// booking together with its hold. Nothing is stored on conflict.
func (s *BookingService) CreateBooking(ctx context.Context, req *CreateBookingRequest) (*models.Booking, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}

	r, err := ParseRange(req.CheckIn, req.CheckOut)
	if err != nil {
		return nil, err
	}
	if err := s.calendar.ValidateStay(r); err != nil {
		return nil, err
	}

	property, err := s.properties.GetProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if !property.IsActive {
		return nil, domain.ValidationErrors{{Field: "property_id", Message: "property is not accepting bookings"}}
	}
	if property.MaxGuests > 0 && req.GuestCount > property.MaxGuests {
		return nil, domain.ValidationErrors{{
			Field:   "guest_count",
			Message: fmt.Sprintf("property allows at most %d guests", property.MaxGuests),
		}}
	}

	nights := models.NightsBetween(r.Start, r.End)
	booking := &models.Booking{
		PropertyID:     property.ID,
		PropertyName:   property.Name,
		CustomerID:     req.CustomerID,
		CustomerName:   req.CustomerName,
		CustomerEmail:  req.CustomerEmail,
		CustomerMobile: req.CustomerMobile,
		CheckIn:        r.Start,
		CheckOut:       r.End,
		GuestCount:     req.GuestCount,
		Status:         models.StatusPending,
		TotalAmount:    property.PricePerNight.Mul(decimal.NewFromInt(int64(nights))),
		Comment:        req.Comment,
	}

	if err := s.bookings.CreateBookingWithHold(ctx, booking, s.calendar.HoldExpiry()); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncCalendarConflict()
		}
		return nil, err
	}

	s.logger.Info().
		Int64("booking_id", booking.ID).
		Int64("property_id", booking.PropertyID).
		Str("range", r.String()).
		Str("total", booking.TotalAmount.StringFixed(2)).
		Msg("Booking created")

	s.publishEvent(events.EventBookingCreated, booking, "", "customer")
	s.enqueueSync(ctx, booking, models.SyncTaskUpsert)
	return booking, nil
}

func (s *BookingService) Approve(ctx context.Context, bookingID int64, changedBy string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusApproved, changedBy)
}

func (s *BookingService) Reject(ctx context.Context, bookingID int64, changedBy string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusRejected, changedBy)
}

func (s *BookingService) Cancel(ctx context.Context, bookingID int64, changedBy string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusCancelled, changedBy)
}

func (s *BookingService) Complete(ctx context.Context, bookingID int64, changedBy string) (*models.Booking, error) {
	return s.transition(ctx, bookingID, models.StatusCompleted, changedBy)
}

// transition applies a vendor/admin status change. Confirmation is only
// reachable through confirmPaid.
func (s *BookingService) transition(ctx context.Context, bookingID int64, to, changedBy string) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if to == models.StatusConfirmed {
		return nil, &domain.InvalidStateError{BookingID: b.ID, From: b.Status, To: to}
	}
	action := domain.LocksKeep
	if releasesLocks(to) {
		action = domain.LocksRelease
	}
	if err := s.apply(ctx, b, to, action, changedBy); err != nil {
		return nil, err
	}
	return b, nil
}

// apply moves b to status "to" with a version check and publishes the change.
// b is updated in place on success.
func (s *BookingService) apply(ctx context.Context, b *models.Booking, to string, action domain.LockAction, changedBy string) error {
	if err := checkTransition(b, to); err != nil {
		return err
	}

	from := b.Status
	if err := s.bookings.UpdateBookingStatusWithLocks(ctx, b.ID, b.Version, to, action); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.IncCalendarConflict()
		}
		return err
	}
	b.Status = to
	b.Version++
	b.UpdatedAt = time.Now().UTC()
	metrics.IncBookingTransition(from, to)

	s.logger.Info().
		Int64("booking_id", b.ID).
		Str("from", from).
		Str("to", to).
		Str("by", changedBy).
		Msg("Booking status changed")

	s.publishEvent(eventByStatus[to], b, from, changedBy)
	s.enqueueSync(ctx, b, models.SyncTaskUpdateStatus)
	return nil
}

// confirmPaid confirms a booking after a verified payment. A pending booking
// passes through approved. The hold becomes booked in the same transaction as
// the final status change.
func (s *BookingService) confirmPaid(ctx context.Context, bookingID int64) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status == models.StatusConfirmed {
		return b, nil
	}
	if b.Status == models.StatusPending {
		if err := s.apply(ctx, b, models.StatusApproved, domain.LocksKeep, "payment"); err != nil {
			return nil, err
		}
	}
	if err := s.apply(ctx, b, models.StatusConfirmed, domain.LocksConvertToBooked, "payment"); err != nil {
		return b, err
	}
	return b, nil
}

// rejectUnpaid rejects a pending or approved booking after a failed payment
// and frees its nights.
func (s *BookingService) rejectUnpaid(ctx context.Context, bookingID int64, reason string) (*models.Booking, error) {
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, b, models.StatusRejected, domain.LocksRelease, reason); err != nil {
		return nil, err
	}
	return b, nil
}

// ExpireHolds releases expired holds and rejects the bookings that owned them.
func (s *BookingService) ExpireHolds(ctx context.Context) (int, error) {
	ids, err := s.calendar.ExpireHolds(ctx)
	if err != nil {
		return 0, err
	}

	rejected := 0
	for _, id := range ids {
		b, err := s.bookings.GetBooking(ctx, id)
		if err != nil {
			s.logger.Error().Err(err).Int64("booking_id", id).Msg("Failed to load booking with expired hold")
			continue
		}
		if b.Status != models.StatusPending && b.Status != models.StatusApproved {
			continue
		}
		if err := s.apply(ctx, b, models.StatusRejected, domain.LocksRelease, "hold_expiry"); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", id).Msg("Failed to reject booking with expired hold")
			continue
		}
		rejected++
	}
	metrics.AddExpiredHolds(rejected)
	return rejected, nil
}

// CompleteFinishedStays marks confirmed bookings whose check-out is on or
// before today as completed.
func (s *BookingService) CompleteFinishedStays(ctx context.Context, today time.Time) (int, error) {
	stays, err := s.bookings.GetFinishedStays(ctx, models.TruncateDay(today))
	if err != nil {
		return 0, err
	}
	completed := 0
	for _, b := range stays {
		if err := s.apply(ctx, b, models.StatusCompleted, domain.LocksKeep, "system"); err != nil {
			s.logger.Warn().Err(err).Int64("booking_id", b.ID).Msg("Failed to complete stay")
			continue
		}
		completed++
	}
	return completed, nil
}

// AddReview stores a guest review. Only completed stays can be reviewed.
func (s *BookingService) AddReview(ctx context.Context, bookingID int64, req *ReviewRequest) (*models.Review, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	b, err := s.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if b.Status != models.StatusCompleted {
		return nil, fmt.Errorf("booking %d is %s, only completed stays can be reviewed: %w", b.ID, b.Status, domain.ErrInvalidState)
	}

	review := &models.Review{
		PropertyID: b.PropertyID,
		BookingID:  b.ID,
		Rating:     req.Rating,
		Comment:    req.Comment,
	}
	if err := s.reviews.CreateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *BookingService) GetBooking(ctx context.Context, id int64) (*models.Booking, error) {
	return s.bookings.GetBooking(ctx, id)
}

func (s *BookingService) SearchBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error) {
	return s.bookings.SearchBookings(ctx, filter)
}

func (s *BookingService) publishEvent(eventType string, b *models.Booking, from, changedBy string) {
	if s.eventBus == nil || eventType == "" {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:    b.ID,
		PropertyID:   b.PropertyID,
		PropertyName: b.PropertyName,
		CustomerID:   b.CustomerID,
		CustomerName: b.CustomerName,
		CheckIn:      b.CheckIn.Format(models.DateLayout),
		CheckOut:     b.CheckOut.Format(models.DateLayout),
		FromStatus:   from,
		Status:       b.Status,
		TotalAmount:  b.TotalAmount.StringFixed(2),
		ChangedBy:    changedBy,
	}

	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (s *BookingService) enqueueSync(ctx context.Context, b *models.Booking, taskType string) {
	if s.sheetsWorker == nil {
		return
	}

	var status string
	if taskType == models.SyncTaskUpdateStatus {
		status = b.Status
	}

	snapshot := *b
	if err := s.sheetsWorker.EnqueueTask(ctx, taskType, b.ID, &snapshot, status); err != nil {
		s.logger.Error().Err(err).Int64("booking_id", b.ID).Str("task", taskType).Msg("sheets enqueue error")
	}
}
