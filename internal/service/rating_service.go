package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const (
	internalWeight   = 0.7
	googleWeight     = 0.3
	googleOnlyFactor = 0.9
)

type RatingService struct {
	properties domain.PropertyRepository
	reviews    domain.ReviewRepository
	logger     *zerolog.Logger
}

func NewRatingService(properties domain.PropertyRepository, reviews domain.ReviewRepository, logger *zerolog.Logger) *RatingService {
	return &RatingService{properties: properties, reviews: reviews, logger: logger}
}

// RatingSyncResult summarises one rating sync run.
type RatingSyncResult struct {
	Updated int
	Failed  int
}

// CombinedRating blends the internal review average with the google score.
// Google alone is discounted; the result has two decimals.
func CombinedRating(internal float64, internalCount int, google float64, googleCount int) float64 {
	hasInternal := internalCount > 0 && internal > 0
	hasGoogle := googleCount > 0 && google > 0

	var score float64
	switch {
	case hasInternal && hasGoogle:
		score = internal*internalWeight + google*googleWeight
	case hasInternal:
		score = internal
	case hasGoogle:
		score = google * googleOnlyFactor
	default:
		return 0
	}
	return round2(score)
}

func round2(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// SyncRatings recomputes internal and customer-facing ratings of every
// active property. One failing property does not stop the others.
func (s *RatingService) SyncRatings(ctx context.Context) (*RatingSyncResult, error) {
	properties, err := s.properties.GetActiveProperties(ctx)
	if err != nil {
		return nil, err
	}

	res := &RatingSyncResult{}
	var errs error
	for _, p := range properties {
		if err := s.syncProperty(ctx, p); err != nil {
			res.Failed++
			errs = multierr.Append(errs, fmt.Errorf("property %d: %w", p.ID, err))
			continue
		}
		res.Updated++
	}

	s.logger.Info().Int("updated", res.Updated).Int("failed", res.Failed).Msg("Rating sync finished")
	return res, errs
}

func (s *RatingService) syncProperty(ctx context.Context, p *models.Property) error {
	stats, err := s.reviews.GetRatingStats(ctx, p.ID)
	if err != nil {
		return err
	}
	p.InternalRating = round2(stats.Average)
	p.InternalReviewCount = stats.Count
	p.CustomerAvgRating = CombinedRating(p.InternalRating, p.InternalReviewCount, p.GoogleRating, p.GoogleReviewCount)
	return s.reviews.UpdatePropertyRatings(ctx, p)
}
