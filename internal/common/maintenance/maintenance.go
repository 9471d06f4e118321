package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/klmetro-live/internal/common/db"
	"github.com/klmetro-live/internal/common/logger"
)

// Maintenance handles cleanup of the append-only movement history. The
// current-position table is bounded by the fleet size and never needs
// trimming; the history table grows every tick.
type Maintenance struct {
	db     *db.DB
	logger logger.Logger
}

// CleanupResult summarizes one history cleanup run.
type CleanupResult struct {
	RecordsDeleted int64
	Batches        int
	Cutoff         time.Time
}

// New creates a new Maintenance instance
func New(database *db.DB, logger logger.Logger) *Maintenance {
	return &Maintenance{
		db:     database,
		logger: logger,
	}
}

// CleanupMovementHistory removes history rows whose arrival is older than the
// retention window, deleting in batches so a large backlog never holds a
// long-running lock.
func (m *Maintenance) CleanupMovementHistory(ctx context.Context, retention time.Duration, batchSize int) (CleanupResult, error) {
	cutoff := time.Now().Add(-retention)
	result := CleanupResult{Cutoff: cutoff}

	m.logger.Info("Starting movement history cleanup",
		"retention", retention,
		"cutoff", cutoff,
		"batch_size", batchSize)

	const query = `
		DELETE FROM metro.train_movements
		WHERE id IN (
			SELECT id FROM metro.train_movements
			WHERE arrived_at < $1
			ORDER BY id
			LIMIT $2
		)
	`

	for {
		res, err := m.db.DB().ExecContext(ctx, query, cutoff, batchSize)
		if err != nil {
			return result, fmt.Errorf("deleting movement history batch: %w", err)
		}

		deleted, err := res.RowsAffected()
		if err != nil {
			return result, fmt.Errorf("reading rows affected: %w", err)
		}

		result.RecordsDeleted += deleted
		result.Batches++

		m.logger.Debug("Processed cleanup batch",
			"batch", result.Batches,
			"records_deleted", deleted)

		if deleted < int64(batchSize) {
			break
		}

		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}
	}

	m.logger.Info("Movement history cleanup completed",
		"total_records_deleted", result.RecordsDeleted,
		"total_batches", result.Batches)

	if result.RecordsDeleted > 0 {
		if err := m.VacuumHistoryTable(ctx); err != nil {
			m.logger.Warn("Failed to vacuum history table after cleanup", "error", err)
			// Don't return error - cleanup was successful, vacuum is just optimization
		}
	}

	return result, nil
}

// VacuumHistoryTable runs VACUUM ANALYZE on the history table (must be called outside transaction)
func (m *Maintenance) VacuumHistoryTable(ctx context.Context) error {
	m.logger.Info("Starting VACUUM ANALYZE of movement history")

	start := time.Now()
	if _, err := m.db.DB().ExecContext(ctx, "VACUUM ANALYZE metro.train_movements"); err != nil {
		return fmt.Errorf("executing vacuum: %w", err)
	}

	m.logger.Info("VACUUM ANALYZE completed", "duration", time.Since(start))
	return nil
}
