package database

import (
	"context"
	"fmt"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	query := `INSERT INTO reviews (property_id, booking_id, rating, comment, created_at) VALUES (?, ?, ?, ?, ?)`
	now := db.now()
	result, err := db.ExecContext(ctx, query, review.PropertyID, review.BookingID, review.Rating, review.Comment, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("booking %d already reviewed: %w", review.BookingID, domain.ErrConflict)
		}
		return fmt.Errorf("failed to create review: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	review.ID = id
	review.CreatedAt = now
	return nil
}

func (db *DB) GetRatingStats(ctx context.Context, propertyID int64) (*models.RatingStats, error) {
	stats := &models.RatingStats{PropertyID: propertyID}
	query := `SELECT COALESCE(AVG(rating), 0), COUNT(*) FROM reviews WHERE property_id = ?`
	if err := db.QueryRowContext(ctx, query, propertyID).Scan(&stats.Average, &stats.Count); err != nil {
		return nil, fmt.Errorf("failed to get rating stats: %w", err)
	}
	return stats, nil
}
