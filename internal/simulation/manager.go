package simulation

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/klmetro-live/internal/common/config"
	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/common/metrics"
	"github.com/klmetro-live/internal/topology"
	"github.com/klmetro-live/pkg/models"
)

// PositionStore is the durable mirror of train state. Persist failures are
// reported, never fatal: the broadcast path keeps working from memory and
// the next tick's write recovers the row.
type PositionStore interface {
	Persist(ctx context.Context, update models.PositionUpdate) error
	CurrentPositions(ctx context.Context) ([]models.Train, error)
}

// Broadcaster receives each tick's batch after it has been persisted.
type Broadcaster interface {
	Publish(batch []models.PositionUpdate)
	PublishAlert(alert models.SystemAlert)
}

// Manager owns the tick loop. It is the single writer of train state:
// everything downstream of the engine only ever reads snapshots or
// consumes the per-tick update batches.
type Manager struct {
	config config.SimulationConfig
	topo   *topology.Topology
	engine *Engine
	store  PositionStore
	hub    Broadcaster
	logger logger.Logger
	rng    *rand.Rand

	mu        sync.RWMutex
	isRunning bool
	cancelFn  context.CancelFunc
	wg        sync.WaitGroup

	tickCount uint64
}

func NewManager(cfg config.SimulationConfig, topo *topology.Topology, store PositionStore, hub Broadcaster, log logger.Logger) *Manager {
	return &Manager{
		config: cfg,
		topo:   topo,
		engine: NewEngine(topo, log),
		store:  store,
		hub:    hub,
		logger: log,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Engine exposes the movement engine for snapshot readers.
func (m *Manager) Engine() *Engine {
	return m.engine
}

// Start seeds the fleet and launches the tick loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.isRunning {
		return fmt.Errorf("simulation manager is already running")
	}

	if m.config.TickMin <= 0 || m.config.TickMax < m.config.TickMin {
		return fmt.Errorf("invalid tick interval range [%v, %v]", m.config.TickMin, m.config.TickMax)
	}

	if err := m.seedTrains(ctx); err != nil {
		return fmt.Errorf("seeding trains: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	m.cancelFn = cancel
	m.isRunning = true

	m.wg.Add(1)
	go m.run(ctx)

	m.logger.Info("Simulation manager started",
		"trains", m.engine.TrainCount(),
		"lines", len(m.topo.Lines()),
		"tick_min", m.config.TickMin,
		"tick_max", m.config.TickMax)

	return nil
}

// Stop halts the tick loop and waits for the in-flight tick to finish.
// Stopping the driver is the only way to halt movement.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.isRunning {
		m.mu.Unlock()
		return
	}
	m.logger.Info("Stopping simulation manager")
	if m.cancelFn != nil {
		m.cancelFn()
	}
	m.isRunning = false
	m.mu.Unlock()

	m.wg.Wait()
	m.logger.Info("Simulation manager stopped")
}

// IsRunning returns whether the tick loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}

// seedTrains restores last-known positions from the store and fills the
// remainder of the fleet. Restored rows that no longer match the topology
// are dropped rather than trusted.
func (m *Manager) seedTrains(ctx context.Context) error {
	restored := 0
	if persisted, err := m.store.CurrentPositions(ctx); err != nil {
		m.logger.Warn("Could not restore train positions, seeding fresh fleet", "error", err)
	} else {
		for _, t := range persisted {
			if err := m.engine.AddTrain(t); err != nil {
				m.logger.Warn("Discarding persisted train state", "train_id", t.ID, "error", err)
				continue
			}
			restored++
		}
	}

	if restored > 0 {
		m.logger.Info("Restored train positions from store", "trains", restored)
		return nil
	}

	now := time.Now()
	nextID := 1
	for _, line := range m.topo.Lines() {
		seq := m.topo.StationsOf(line)
		for i := 0; i < m.config.TrainsPerLine; i++ {
			// Even slots start at the head of the line running forward,
			// odd slots at the tail running backward, spread a few stops in
			// so trains on the same line do not bunch up.
			offset := (i / 2) % len(seq)
			train := models.Train{
				ID:        nextID,
				Line:      line,
				Direction: models.Forward,
				StationID: seq[offset],
				UpdatedAt: now,
			}
			if i%2 == 1 {
				train.Direction = models.Backward
				train.StationID = seq[len(seq)-1-offset]
			}
			if err := m.engine.AddTrain(train); err != nil {
				return err
			}
			nextID++
		}
	}

	// Persist the seeded fleet so a restart resumes from the same layout.
	for _, t := range m.engine.Snapshot() {
		station, _ := m.topo.Station(t.StationID)
		update := models.PositionUpdate{
			TrainID:       t.ID,
			StationID:     t.StationID,
			StationName:   station.Name,
			Latitude:      station.Latitude,
			Longitude:     station.Longitude,
			Line:          t.Line,
			Direction:     t.Direction,
			PrevStationID: t.StationID,
			DepartedAt:    t.UpdatedAt,
			Timestamp:     t.UpdatedAt,
		}
		if err := m.store.Persist(ctx, update); err != nil {
			m.logger.Warn("Failed to persist seeded train", "train_id", t.ID, "error", err)
		}
	}

	m.logger.Info("Seeded fresh train fleet", "trains", m.engine.TrainCount())
	return nil
}

// run is the tick driver: advance, persist, publish, sleep. The sleep
// between ticks is the loop's only suspension point.
func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		m.tick(ctx, time.Now())

		interval := m.nextInterval()
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.logger.Info("Tick loop stopping")
			return
		case <-timer.C:
		}
	}
}

// tick advances every train once and pushes the resulting batch downstream.
// Store failures are contained here: the batch is always handed to the hub.
func (m *Manager) tick(ctx context.Context, now time.Time) {
	start := time.Now()
	batch := m.engine.Advance(now)
	if len(batch) == 0 {
		return
	}

	for _, update := range batch {
		if err := m.store.Persist(ctx, update); err != nil {
			metrics.AddCounter(metrics.StoreWriteErrors, 1)
			m.logger.Error("Failed to persist train position, broadcasting from memory",
				"train_id", update.TrainID,
				"station_id", update.StationID,
				"error", err)
			continue
		}
		metrics.AddCounter(metrics.StoreWrites, 1)
	}

	m.hub.Publish(batch)

	m.tickCount++
	metrics.AddCounter(metrics.TicksTotal, 1)
	metrics.RecordSeconds(metrics.TickDuration, time.Since(start).Seconds())

	m.logger.Debug("Tick completed",
		"tick", m.tickCount,
		"trains_moved", len(batch),
		"duration", time.Since(start))

	if m.config.AlertEvery > 0 && m.tickCount%uint64(m.config.AlertEvery) == 0 {
		m.hub.PublishAlert(m.serviceEvent(now))
	}
}

// nextInterval picks a random tick interval within the configured range.
func (m *Manager) nextInterval() time.Duration {
	spread := m.config.TickMax - m.config.TickMin
	if spread <= 0 {
		return m.config.TickMin
	}
	return m.config.TickMin + time.Duration(m.rng.Int63n(int64(spread)+1))
}

// serviceEvent rotates through a small set of low-severity service notices.
func (m *Manager) serviceEvent(now time.Time) models.SystemAlert {
	events := []models.SystemAlert{
		{Type: "MAINTENANCE", Message: "Scheduled maintenance completed", Severity: 1},
		{Type: "TRAFFIC", Message: "Minor delay reported on the network", Severity: 2},
		{Type: "INFO", Message: "Service operating normally", Severity: 1},
	}
	alert := events[int(m.tickCount/uint64(max(m.config.AlertEvery, 1)))%len(events)]
	alert.Zone = "all"
	alert.Timestamp = now
	return alert
}
