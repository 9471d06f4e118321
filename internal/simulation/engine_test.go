package simulation

import (
	"testing"
	"time"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/topology"
	"github.com/klmetro-live/pkg/models"
)

func fourStationTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(
		[]models.Line{{Name: "Ampang", Stations: []int{1, 2, 3, 4}}},
		[]models.Station{
			{ID: 1, Name: "A", Line: "Ampang"},
			{ID: 2, Name: "B", Line: "Ampang"},
			{ID: 3, Name: "C", Line: "Ampang"},
			{ID: 4, Name: "D", Line: "Ampang"},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build topology: %v", err)
	}
	return topo
}

func twoStationTopology(t *testing.T) *topology.Topology {
	t.Helper()
	topo, err := topology.New(
		[]models.Line{{Name: "Shuttle", Stations: []int{10, 11}}},
		[]models.Station{
			{ID: 10, Name: "East", Line: "Shuttle"},
			{ID: 11, Name: "West", Line: "Shuttle"},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build topology: %v", err)
	}
	return topo
}

func TestAddTrainValidation(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())

	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 1, Direction: "sideways"}); err == nil {
		t.Error("Expected error for invalid direction")
	}
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 99, Direction: models.Forward}); err == nil {
		t.Error("Expected error for station not on line")
	}
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 1, Direction: models.Forward}); err != nil {
		t.Fatalf("Failed to add valid train: %v", err)
	}
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 2, Direction: models.Forward}); err == nil {
		t.Error("Expected error for duplicate train id")
	}
}

// A single train on a four station line sweeps end to end and back:
// starting at the first station it visits 2, 3, 4, 3, 2, 1, 2, ...
func TestTrainSweepsLineWithTerminalReversal(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 1, Direction: models.Forward}); err != nil {
		t.Fatalf("Failed to add train: %v", err)
	}

	want := []int{2, 3, 4, 3, 2, 1, 2, 3}
	for i, expected := range want {
		batch := engine.Advance(time.Now())
		if len(batch) != 1 {
			t.Fatalf("Tick %d: expected 1 update, got %d", i, len(batch))
		}
		if batch[0].StationID != expected {
			t.Errorf("Tick %d: expected station %d, got %d", i, expected, batch[0].StationID)
		}
	}
}

func TestReversalFlipsDirection(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 4, Direction: models.Forward}); err != nil {
		t.Fatalf("Failed to add train: %v", err)
	}

	batch := engine.Advance(time.Now())
	if len(batch) != 1 {
		t.Fatalf("Expected 1 update, got %d", len(batch))
	}
	if batch[0].StationID != 3 {
		t.Errorf("Expected train to step back to station 3, got %d", batch[0].StationID)
	}
	if batch[0].Direction != models.Backward {
		t.Errorf("Expected direction backward after reversal, got %s", batch[0].Direction)
	}
}

// A two station line oscillates between its ends every tick.
func TestTwoStationLineOscillates(t *testing.T) {
	engine := NewEngine(twoStationTopology(t), logger.Nop())
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Shuttle", StationID: 10, Direction: models.Forward}); err != nil {
		t.Fatalf("Failed to add train: %v", err)
	}

	want := []int{11, 10, 11, 10}
	for i, expected := range want {
		batch := engine.Advance(time.Now())
		if batch[0].StationID != expected {
			t.Errorf("Tick %d: expected station %d, got %d", i, expected, batch[0].StationID)
		}
	}
}

func TestBatchOrderedByTrainID(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())
	for _, id := range []int{7, 3, 5, 1} {
		if err := engine.AddTrain(models.Train{ID: id, Line: "Ampang", StationID: 2, Direction: models.Forward}); err != nil {
			t.Fatalf("Failed to add train %d: %v", id, err)
		}
	}

	batch := engine.Advance(time.Now())
	if len(batch) != 4 {
		t.Fatalf("Expected 4 updates, got %d", len(batch))
	}
	want := []int{1, 3, 5, 7}
	for i, u := range batch {
		if u.TrainID != want[i] {
			t.Errorf("Position %d: expected train %d, got %d", i, want[i], u.TrainID)
		}
	}
}

func TestUpdateCarriesPreviousStation(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())
	departed := time.Now().Add(-5 * time.Second)
	if err := engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 2, Direction: models.Forward, UpdatedAt: departed}); err != nil {
		t.Fatalf("Failed to add train: %v", err)
	}

	now := time.Now()
	batch := engine.Advance(now)
	u := batch[0]
	if u.PrevStationID != 2 {
		t.Errorf("Expected previous station 2, got %d", u.PrevStationID)
	}
	if !u.DepartedAt.Equal(departed) {
		t.Errorf("Expected departed_at %v, got %v", departed, u.DepartedAt)
	}
	if !u.Timestamp.Equal(now) {
		t.Errorf("Expected timestamp %v, got %v", now, u.Timestamp)
	}
	if u.StationName != "C" {
		t.Errorf("Expected station name C, got %s", u.StationName)
	}
}

// Every train stays on its own line's station sequence no matter how many
// ticks elapse.
func TestTrainsStayOnTheirLines(t *testing.T) {
	topo, err := topology.New(
		[]models.Line{
			{Name: "Ampang", Stations: []int{1, 2, 3, 4}},
			{Name: "Shuttle", Stations: []int{10, 11}},
		},
		[]models.Station{
			{ID: 1, Name: "A"}, {ID: 2, Name: "B"}, {ID: 3, Name: "C"}, {ID: 4, Name: "D"},
			{ID: 10, Name: "East"}, {ID: 11, Name: "West"},
		},
		nil,
	)
	if err != nil {
		t.Fatalf("Failed to build topology: %v", err)
	}

	engine := NewEngine(topo, logger.Nop())
	engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 1, Direction: models.Forward})
	engine.AddTrain(models.Train{ID: 2, Line: "Shuttle", StationID: 10, Direction: models.Forward})

	for i := 0; i < 50; i++ {
		for _, u := range engine.Advance(time.Now()) {
			if _, ok := topo.IndexOf(u.Line, u.StationID); !ok {
				t.Fatalf("Tick %d: train %d left its line, at station %d", i, u.TrainID, u.StationID)
			}
		}
	}

	for _, train := range engine.Snapshot() {
		if _, ok := topo.IndexOf(train.Line, train.StationID); !ok {
			t.Errorf("Train %d ended off its line at station %d", train.ID, train.StationID)
		}
	}
}

func TestSnapshotSortedAndIndependent(t *testing.T) {
	engine := NewEngine(fourStationTopology(t), logger.Nop())
	engine.AddTrain(models.Train{ID: 2, Line: "Ampang", StationID: 1, Direction: models.Forward})
	engine.AddTrain(models.Train{ID: 1, Line: "Ampang", StationID: 4, Direction: models.Backward})

	snap := engine.Snapshot()
	if len(snap) != 2 || snap[0].ID != 1 || snap[1].ID != 2 {
		t.Fatalf("Expected snapshot ordered [1, 2], got %v", snap)
	}

	snap[0].StationID = 99
	again := engine.Snapshot()
	if again[0].StationID == 99 {
		t.Error("Mutating a snapshot must not affect engine state")
	}
}
