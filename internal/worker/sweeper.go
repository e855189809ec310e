package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// BookingJanitor is the part of the booking service the sweeper drives.
type BookingJanitor interface {
	ExpireHolds(ctx context.Context) (int, error)
	CompleteFinishedStays(ctx context.Context, today time.Time) (int, error)
}

// Sweeper periodically releases expired holds and completes finished stays.
type Sweeper struct {
	bookings         BookingJanitor
	holdInterval     time.Duration
	completeInterval time.Duration
	now              func() time.Time
	logger           *zerolog.Logger
}

func NewSweeper(bookings BookingJanitor, holdInterval time.Duration, logger *zerolog.Logger) *Sweeper {
	if holdInterval <= 0 {
		holdInterval = time.Minute
	}
	return &Sweeper{
		bookings:         bookings,
		holdInterval:     holdInterval,
		completeInterval: time.Hour,
		now:              time.Now,
		logger:           logger,
	}
}

// Start blocks until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("hold_interval", s.holdInterval).Msg("Hold sweeper started")

	holdTicker := time.NewTicker(s.holdInterval)
	defer holdTicker.Stop()
	completeTicker := time.NewTicker(s.completeInterval)
	defer completeTicker.Stop()

	s.sweepHolds(ctx)
	s.completeStays(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Hold sweeper stopped")
			return
		case <-holdTicker.C:
			s.sweepHolds(ctx)
		case <-completeTicker.C:
			s.completeStays(ctx)
		}
	}
}

func (s *Sweeper) sweepHolds(ctx context.Context) {
	n, err := s.bookings.ExpireHolds(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to expire holds")
		return
	}
	if n > 0 {
		s.logger.Info().Int("bookings", n).Msg("Expired holds released")
	}
}

func (s *Sweeper) completeStays(ctx context.Context) {
	n, err := s.bookings.CompleteFinishedStays(ctx, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to complete finished stays")
		return
	}
	if n > 0 {
		s.logger.Info().Int("bookings", n).Msg("Finished stays completed")
	}
}
