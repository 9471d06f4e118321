package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/klmetro-live/internal/common/db"
	"github.com/klmetro-live/internal/common/discord"
	"github.com/klmetro-live/internal/common/logger"
)

// CleanupScheduler handles periodic maintenance tasks
type CleanupScheduler struct {
	maintenance *Maintenance
	logger      logger.Logger
	config      SchedulerConfig
	alerts      *discord.Client
	isRunning   bool
	mu          sync.RWMutex
	cancelFn    context.CancelFunc
}

// SchedulerConfig contains configuration for the cleanup scheduler
type SchedulerConfig struct {
	CleanupInterval  time.Duration // How often to trim movement history
	HistoryRetention time.Duration // How long history rows are kept
	BatchSize        int           // Records per delete batch
}

// DefaultSchedulerConfig returns sensible defaults
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		CleanupInterval:  24 * time.Hour,
		HistoryRetention: 7 * 24 * time.Hour,
		BatchSize:        5000,
	}
}

// NewCleanupScheduler creates a new cleanup scheduler. The discord client may
// be nil when webhook escalation is not configured.
func NewCleanupScheduler(database *db.DB, logger logger.Logger, config SchedulerConfig, alerts *discord.Client) *CleanupScheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 5000
	}
	return &CleanupScheduler{
		maintenance: New(database, logger),
		logger:      logger,
		config:      config,
		alerts:      alerts,
	}
}

// Start begins the cleanup scheduling
func (s *CleanupScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("cleanup scheduler is already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancelFn = cancel
	s.isRunning = true

	s.logger.Info("Starting cleanup scheduler",
		"cleanup_interval", s.config.CleanupInterval,
		"history_retention", s.config.HistoryRetention,
		"batch_size", s.config.BatchSize)

	go s.cleanupLoop(ctx)

	return nil
}

// Stop stops the cleanup scheduler
func (s *CleanupScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return
	}

	s.logger.Info("Stopping cleanup scheduler")

	if s.cancelFn != nil {
		s.cancelFn()
	}

	s.isRunning = false
	s.logger.Info("Cleanup scheduler stopped")
}

// IsRunning returns whether the scheduler is active
func (s *CleanupScheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// cleanupLoop runs periodic history cleanup
func (s *CleanupScheduler) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	// Run initial cleanup after a short delay
	initialDelay := time.NewTimer(5 * time.Minute)
	defer initialDelay.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Cleanup loop stopping")
			return

		case <-initialDelay.C:
			s.performCleanup(ctx)

		case <-ticker.C:
			s.performCleanup(ctx)
		}
	}
}

// performCleanup executes history cleanup
func (s *CleanupScheduler) performCleanup(ctx context.Context) {
	s.logger.Info("Starting scheduled movement history cleanup")

	start := time.Now()
	result, err := s.maintenance.CleanupMovementHistory(ctx, s.config.HistoryRetention, s.config.BatchSize)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error("Movement history cleanup failed", "error", err, "duration", duration)
		if s.alerts != nil {
			if alertErr := s.alerts.Notify("ERROR", "Movement history cleanup failed", map[string]interface{}{
				"error":    err.Error(),
				"duration": duration.String(),
			}); alertErr != nil {
				s.logger.Warn("Failed to send cleanup alert", "error", alertErr)
			}
		}
		return
	}

	s.logger.Info("Movement history cleanup completed successfully",
		"duration", duration,
		"records_deleted", result.RecordsDeleted,
		"batches", result.Batches)
}

// TriggerCleanup manually triggers history cleanup (for testing/manual use)
func (s *CleanupScheduler) TriggerCleanup(ctx context.Context) error {
	s.logger.Info("Manual movement history cleanup triggered")
	_, err := s.maintenance.CleanupMovementHistory(ctx, s.config.HistoryRetention, s.config.BatchSize)
	return err
}

// GetStatus returns the current status of the cleanup scheduler
func (s *CleanupScheduler) GetStatus() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"is_running":        s.isRunning,
		"cleanup_interval":  s.config.CleanupInterval.String(),
		"history_retention": s.config.HistoryRetention.String(),
		"batch_size":        s.config.BatchSize,
	}
}
