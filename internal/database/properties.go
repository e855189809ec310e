package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"resortwala/internal/domain"
	"resortwala/internal/models"
)

const propertyColumns = `id, vendor_id, name, price_per_night, max_guests, vendor_email, vendor_mobile,
       vendor_telegram_id, share_token, is_active, internal_rating, internal_review_count,
       google_rating, google_review_count, customer_avg_rating, created_at, updated_at`

// SyncProperties upserts the property catalogue and refreshes the cache.
// Ratings computed by the rating sync are not overwritten, except the google
// score which comes from the catalogue.
func (db *DB) SyncProperties(ctx context.Context, properties []*models.Property) error {
	now := db.now()
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		query := `INSERT INTO properties (
                id, vendor_id, name, price_per_night, max_guests, vendor_email, vendor_mobile,
                vendor_telegram_id, share_token, is_active, google_rating, google_review_count,
                created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(id) DO UPDATE SET
                vendor_id = excluded.vendor_id,
                name = excluded.name,
                price_per_night = excluded.price_per_night,
                max_guests = excluded.max_guests,
                vendor_email = excluded.vendor_email,
                vendor_mobile = excluded.vendor_mobile,
                vendor_telegram_id = excluded.vendor_telegram_id,
                share_token = CASE WHEN excluded.share_token = '' THEN properties.share_token ELSE excluded.share_token END,
                is_active = excluded.is_active,
                google_rating = excluded.google_rating,
                google_review_count = excluded.google_review_count,
                updated_at = excluded.updated_at`
		for _, p := range properties {
			if p.ID == 0 {
				return fmt.Errorf("property %q has invalid ID 0", p.Name)
			}
			token := p.ShareToken
			if token == "" {
				token = uuid.NewString()
			}
			_, err := tx.ExecContext(ctx, query,
				p.ID, p.VendorID, p.Name, p.PricePerNight, p.MaxGuests, p.VendorEmail, p.VendorMobile,
				p.VendorTelegramID, token, p.IsActive, p.GoogleRating, p.GoogleReviewCount,
				now, now,
			)
			if err != nil {
				return fmt.Errorf("failed to upsert property %d: %w", p.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	if _, err := db.loadProperties(ctx); err != nil {
		return err
	}
	db.logger.Info().Int("count", len(properties)).Msg("Properties synced")
	return nil
}

func (db *DB) loadProperties(ctx context.Context) ([]*models.Property, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+propertyColumns+` FROM properties ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to load properties: %w", err)
	}
	defer rows.Close()

	var properties []*models.Property
	cache := make(map[int64]*models.Property)
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, err
		}
		properties = append(properties, p)
		cp := *p
		cache[p.ID] = &cp
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate properties: %w", err)
	}

	db.mu.Lock()
	db.propertiesCache = cache
	db.mu.Unlock()
	return properties, nil
}

func scanProperty(s rowScanner) (*models.Property, error) {
	p := &models.Property{}
	err := s.Scan(
		&p.ID, &p.VendorID, &p.Name, &p.PricePerNight, &p.MaxGuests, &p.VendorEmail, &p.VendorMobile,
		&p.VendorTelegramID, &p.ShareToken, &p.IsActive, &p.InternalRating, &p.InternalReviewCount,
		&p.GoogleRating, &p.GoogleReviewCount, &p.CustomerAvgRating, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan property: %w", err)
	}
	return p, nil
}

// GetProperty returns a property from the cache, falling back to the table.
func (db *DB) GetProperty(ctx context.Context, id int64) (*models.Property, error) {
	db.mu.RLock()
	cached, ok := db.propertiesCache[id]
	db.mu.RUnlock()
	if ok {
		p := *cached
		return &p, nil
	}

	row := db.QueryRowContext(ctx, `SELECT `+propertyColumns+` FROM properties WHERE id = ?`, id)
	p, err := scanProperty(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("property %d: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}

	db.mu.Lock()
	db.propertiesCache[id] = p
	db.mu.Unlock()

	cp := *p
	return &cp, nil
}

func (db *DB) GetActiveProperties(ctx context.Context) ([]*models.Property, error) {
	properties, err := db.loadProperties(ctx)
	if err != nil {
		return nil, err
	}
	active := make([]*models.Property, 0, len(properties))
	for _, p := range properties {
		if p.IsActive {
			active = append(active, p)
		}
	}
	return active, nil
}

// GetAllProperties returns the cached catalogue sorted by id.
func (db *DB) GetAllProperties() []*models.Property {
	db.mu.RLock()
	defer db.mu.RUnlock()

	properties := make([]*models.Property, 0, len(db.propertiesCache))
	for _, p := range db.propertiesCache {
		cp := *p
		properties = append(properties, &cp)
	}
	sort.Slice(properties, func(i, j int) bool { return properties[i].ID < properties[j].ID })
	return properties
}

// UpdatePropertyRatings stores the result of the rating sync.
func (db *DB) UpdatePropertyRatings(ctx context.Context, p *models.Property) error {
	query := `UPDATE properties SET internal_rating = ?, internal_review_count = ?,
                     customer_avg_rating = ?, updated_at = ?
              WHERE id = ?`
	result, err := db.ExecContext(ctx, query,
		p.InternalRating, p.InternalReviewCount, p.CustomerAvgRating, db.now(), p.ID)
	if err != nil {
		return fmt.Errorf("failed to update property ratings: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("property %d: %w", p.ID, domain.ErrNotFound)
	}

	db.mu.Lock()
	if cached, ok := db.propertiesCache[p.ID]; ok {
		cached.InternalRating = p.InternalRating
		cached.InternalReviewCount = p.InternalReviewCount
		cached.CustomerAvgRating = p.CustomerAvgRating
	}
	db.mu.Unlock()
	return nil
}
