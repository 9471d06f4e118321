package store

import (
	"context"
	"fmt"

	"github.com/klmetro-live/internal/common/db"
	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/pkg/models"
)

// Store is the durable mirror of train state: one upserted row per train in
// metro.trains plus an append-only movement log in metro.train_movements.
// Writes for different trains touch different rows, so concurrent Persist
// calls do not contend.
type Store struct {
	db     *db.DB
	logger logger.Logger
}

func New(database *db.DB, log logger.Logger) *Store {
	return &Store{
		db:     database,
		logger: log,
	}
}

// Persist upserts the train's current row and appends a history row. Both
// writes commit together; a failure leaves the previous snapshot intact and
// the caller broadcasts from memory instead.
func (s *Store) Persist(ctx context.Context, update models.PositionUpdate) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	const upsert = `
		INSERT INTO metro.trains (train_id, line, station_id, latitude, longitude, direction, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (train_id) DO UPDATE SET
			line = EXCLUDED.line,
			station_id = EXCLUDED.station_id,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			direction = EXCLUDED.direction,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := tx.ExecContext(ctx, upsert,
		update.TrainID,
		update.Line,
		update.StationID,
		update.Latitude,
		update.Longitude,
		string(update.Direction),
		update.Timestamp,
	); err != nil {
		return fmt.Errorf("upserting train %d: %w", update.TrainID, err)
	}

	const appendHistory = `
		INSERT INTO metro.train_movements (train_id, from_station_id, to_station_id, departed_at, arrived_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, appendHistory,
		update.TrainID,
		update.PrevStationID,
		update.StationID,
		update.DepartedAt,
		update.Timestamp,
	); err != nil {
		return fmt.Errorf("appending movement history for train %d: %w", update.TrainID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing position write for train %d: %w", update.TrainID, err)
	}

	return nil
}

// CurrentPositions returns the persisted snapshot of every train ordered by
// train id. Used to seed new subscribers and to restore the fleet on startup.
func (s *Store) CurrentPositions(ctx context.Context) ([]models.Train, error) {
	const query = `
		SELECT train_id, line, station_id, direction, updated_at
		FROM metro.trains
		ORDER BY train_id
	`

	rows, err := s.db.DB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying current positions: %w", err)
	}
	defer rows.Close()

	var trains []models.Train
	for rows.Next() {
		var t models.Train
		var direction string
		if err := rows.Scan(&t.ID, &t.Line, &t.StationID, &direction, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning train row: %w", err)
		}
		t.Direction = models.Direction(direction)
		trains = append(trains, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating train rows: %w", err)
	}

	return trains, nil
}
