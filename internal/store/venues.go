package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"guestlist/internal/guest"
)

const venueColumns = `id, name, city, active, default_ticket_price, cost_type, cost_rate,
	created_at, updated_at`

// Venues lists every known venue, active first, then alphabetically.
func (s *Store) Venues(ctx context.Context) ([]guest.Venue, error) {
	query := `
		SELECT ` + venueColumns + `
		FROM venues
		ORDER BY active DESC, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query venues: %w", err)
	}
	defer rows.Close()

	var venues []guest.Venue
	for rows.Next() {
		venue, err := scanVenue(rows)
		if err != nil {
			return nil, fmt.Errorf("scan venue: %w", err)
		}
		venues = append(venues, *venue)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate venues: %w", err)
	}
	return venues, nil
}

// VenueByName fetches one venue by its canonical name.
func (s *Store) VenueByName(ctx context.Context, name string) (*guest.Venue, error) {
	query := `
		SELECT ` + venueColumns + `
		FROM venues
		WHERE name = $1`

	venue, err := scanVenue(s.db.QueryRowContext(ctx, query, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query venue by name: %w", err)
	}
	return venue, nil
}

// CreateVenue registers a new venue. Names are unique.
func (s *Store) CreateVenue(ctx context.Context, v *guest.Venue) error {
	query := `
		INSERT INTO venues (name, city, active, default_ticket_price, cost_type, cost_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		v.Name, v.City, v.Active, v.DefaultTicketPrice, v.CostType, v.CostRate,
	).Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrVenueExists
		}
		return fmt.Errorf("insert venue: %w", err)
	}
	return nil
}

// UpdateVenue rewrites a venue's city, active flag and cost configuration.
func (s *Store) UpdateVenue(ctx context.Context, v *guest.Venue) error {
	query := `
		UPDATE venues
		SET city = $1, active = $2, default_ticket_price = $3, cost_type = $4,
			cost_rate = $5, updated_at = NOW()
		WHERE name = $6`

	result, err := s.db.ExecContext(ctx, query,
		v.City, v.Active, v.DefaultTicketPrice, v.CostType, v.CostRate, v.Name,
	)
	if err != nil {
		return fmt.Errorf("update venue: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update venue rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func scanVenue(row rowScanner) (*guest.Venue, error) {
	var (
		v     guest.Venue
		price sql.NullFloat64
	)
	err := row.Scan(
		&v.ID, &v.Name, &v.City, &v.Active, &price, &v.CostType, &v.CostRate,
		&v.CreatedAt, &v.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if price.Valid {
		p := price.Float64
		v.DefaultTicketPrice = &p
	}
	return &v, nil
}
