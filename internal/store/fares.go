package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/klmetro-live/pkg/models"
)

// ErrFareNotFound is returned when no fare row exists for the pair.
var ErrFareNotFound = errors.New("fare not found")

// Fare looks up the fare between two stations. The fares table is loaded by
// the setup tooling and read-only here.
func (s *Store) Fare(ctx context.Context, originID, destinationID int) (*models.Fare, error) {
	const query = `
		SELECT origin_id, destination_id, fare, distance_km, travel_time_min
		FROM metro.fares
		WHERE origin_id = $1 AND destination_id = $2
	`

	var f models.Fare
	err := s.db.DB().QueryRowContext(ctx, query, originID, destinationID).Scan(
		&f.OriginID,
		&f.DestinationID,
		&f.Amount,
		&f.DistanceKM,
		&f.TravelTimeMin,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFareNotFound
		}
		return nil, fmt.Errorf("querying fare %d -> %d: %w", originID, destinationID, err)
	}

	return &f, nil
}
