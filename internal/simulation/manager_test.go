package simulation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klmetro-live/internal/common/config"
	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/pkg/models"
)

type fakeStore struct {
	persisted []models.PositionUpdate
	restored  []models.Train
	failWrite bool
	failRead  bool
}

func (f *fakeStore) Persist(_ context.Context, update models.PositionUpdate) error {
	if f.failWrite {
		return errors.New("connection refused")
	}
	f.persisted = append(f.persisted, update)
	return nil
}

func (f *fakeStore) CurrentPositions(_ context.Context) ([]models.Train, error) {
	if f.failRead {
		return nil, errors.New("connection refused")
	}
	return f.restored, nil
}

type fakeBroadcaster struct {
	batches [][]models.PositionUpdate
	alerts  []models.SystemAlert
}

func (f *fakeBroadcaster) Publish(batch []models.PositionUpdate) {
	f.batches = append(f.batches, batch)
}

func (f *fakeBroadcaster) PublishAlert(alert models.SystemAlert) {
	f.alerts = append(f.alerts, alert)
}

func testSimConfig() config.SimulationConfig {
	return config.SimulationConfig{
		TickMin:       time.Millisecond,
		TickMax:       2 * time.Millisecond,
		TrainsPerLine: 2,
		AlertEvery:    0,
	}
}

func TestStartRejectsInvalidTickRange(t *testing.T) {
	cfg := testSimConfig()
	cfg.TickMin = 5 * time.Second
	cfg.TickMax = 2 * time.Second

	m := NewManager(cfg, fourStationTopology(t), &fakeStore{}, &fakeBroadcaster{}, logger.Nop())
	if err := m.Start(context.Background()); err == nil {
		t.Error("Expected error for tick max below tick min")
		m.Stop()
	}
}

func TestSeedingFillsEveryLine(t *testing.T) {
	store := &fakeStore{}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, &fakeBroadcaster{}, logger.Nop())

	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}

	if got := m.Engine().TrainCount(); got != 2 {
		t.Errorf("Expected 2 trains seeded, got %d", got)
	}
	// Seeded positions are written through so a restart can restore them.
	if len(store.persisted) != 2 {
		t.Errorf("Expected 2 seed positions persisted, got %d", len(store.persisted))
	}
	for _, train := range m.Engine().Snapshot() {
		if !train.Direction.Valid() {
			t.Errorf("Train %d seeded with invalid direction %q", train.ID, train.Direction)
		}
	}
}

func TestSeedingRestoresPersistedPositions(t *testing.T) {
	store := &fakeStore{
		restored: []models.Train{
			{ID: 1, Line: "Ampang", StationID: 3, Direction: models.Backward, UpdatedAt: time.Now()},
		},
	}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, &fakeBroadcaster{}, logger.Nop())

	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}

	snap := m.Engine().Snapshot()
	if len(snap) != 1 {
		t.Fatalf("Expected 1 restored train, got %d", len(snap))
	}
	if snap[0].StationID != 3 || snap[0].Direction != models.Backward {
		t.Errorf("Expected restored train at station 3 backward, got station %d %s", snap[0].StationID, snap[0].Direction)
	}
}

func TestSeedingDiscardsStaleRows(t *testing.T) {
	// A persisted row for a station no longer on the line is dropped and
	// a fresh fleet is seeded instead.
	store := &fakeStore{
		restored: []models.Train{
			{ID: 1, Line: "Ampang", StationID: 99, Direction: models.Forward},
		},
	}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, &fakeBroadcaster{}, logger.Nop())

	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}
	if got := m.Engine().TrainCount(); got != 2 {
		t.Errorf("Expected fresh fleet of 2, got %d", got)
	}
}

func TestSeedingSurvivesStoreReadFailure(t *testing.T) {
	store := &fakeStore{failRead: true}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, &fakeBroadcaster{}, logger.Nop())

	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Seeding must not fail on store read error: %v", err)
	}
	if got := m.Engine().TrainCount(); got != 2 {
		t.Errorf("Expected fresh fleet of 2, got %d", got)
	}
}

func TestTickPersistsThenBroadcasts(t *testing.T) {
	store := &fakeStore{}
	hub := &fakeBroadcaster{}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, hub, logger.Nop())
	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}
	store.persisted = nil

	m.tick(context.Background(), time.Now())

	if len(store.persisted) != 2 {
		t.Errorf("Expected 2 persisted updates, got %d", len(store.persisted))
	}
	if len(hub.batches) != 1 {
		t.Fatalf("Expected 1 broadcast batch, got %d", len(hub.batches))
	}
	if len(hub.batches[0]) != 2 {
		t.Errorf("Expected 2 updates in the batch, got %d", len(hub.batches[0]))
	}
}

// A store outage during a tick must not stop the broadcast, and the next
// successful tick writes current state again.
func TestStoreFailureDoesNotDropBroadcast(t *testing.T) {
	store := &fakeStore{}
	hub := &fakeBroadcaster{}
	m := NewManager(testSimConfig(), fourStationTopology(t), store, hub, logger.Nop())
	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}
	store.persisted = nil

	store.failWrite = true
	m.tick(context.Background(), time.Now())

	if len(store.persisted) != 0 {
		t.Errorf("Expected no writes during outage, got %d", len(store.persisted))
	}
	if len(hub.batches) != 1 {
		t.Fatalf("Expected broadcast despite store outage, got %d batches", len(hub.batches))
	}

	store.failWrite = false
	m.tick(context.Background(), time.Now())

	if len(store.persisted) != 2 {
		t.Errorf("Expected recovery writes on next tick, got %d", len(store.persisted))
	}
	if len(hub.batches) != 2 {
		t.Errorf("Expected 2 batches total, got %d", len(hub.batches))
	}

	// The recovered rows carry the post-outage state, one tick further on.
	outage, recovered := hub.batches[0], hub.batches[1]
	for i := range recovered {
		if recovered[i].PrevStationID != outage[i].StationID {
			t.Errorf("Train %d: recovery write should follow from the outage tick state", recovered[i].TrainID)
		}
	}
}

func TestAlertEmittedEveryN(t *testing.T) {
	cfg := testSimConfig()
	cfg.AlertEvery = 3

	hub := &fakeBroadcaster{}
	m := NewManager(cfg, fourStationTopology(t), &fakeStore{}, hub, logger.Nop())
	if err := m.seedTrains(context.Background()); err != nil {
		t.Fatalf("Failed to seed trains: %v", err)
	}

	for i := 0; i < 6; i++ {
		m.tick(context.Background(), time.Now())
	}

	if len(hub.alerts) != 2 {
		t.Errorf("Expected 2 alerts over 6 ticks with AlertEvery=3, got %d", len(hub.alerts))
	}
	for _, a := range hub.alerts {
		if a.Zone != "all" || a.Timestamp.IsZero() {
			t.Errorf("Alert missing zone or timestamp: %+v", a)
		}
	}
}

func TestStartStopLifecycle(t *testing.T) {
	m := NewManager(testSimConfig(), fourStationTopology(t), &fakeStore{}, &fakeBroadcaster{}, logger.Nop())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start manager: %v", err)
	}
	if !m.IsRunning() {
		t.Error("Expected manager to be running after Start")
	}
	if err := m.Start(context.Background()); err == nil {
		t.Error("Expected error starting an already running manager")
	}

	m.Stop()
	if m.IsRunning() {
		t.Error("Expected manager to be stopped after Stop")
	}
	m.Stop() // second stop is a no-op
}

func TestNextIntervalWithinRange(t *testing.T) {
	cfg := testSimConfig()
	cfg.TickMin = 3 * time.Second
	cfg.TickMax = 6 * time.Second

	m := NewManager(cfg, fourStationTopology(t), &fakeStore{}, &fakeBroadcaster{}, logger.Nop())
	for i := 0; i < 100; i++ {
		d := m.nextInterval()
		if d < cfg.TickMin || d > cfg.TickMax {
			t.Fatalf("Interval %v outside [%v, %v]", d, cfg.TickMin, cfg.TickMax)
		}
	}
}
