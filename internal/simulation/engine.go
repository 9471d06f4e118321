package simulation

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/common/metrics"
	"github.com/klmetro-live/internal/topology"
	"github.com/klmetro-live/pkg/models"
)

// Engine advances every train one station per tick along its line,
// reversing at terminals. The tick driver is the only caller of Advance,
// so a single mutex is enough to keep concurrent Snapshot readers
// consistent with the batch semantics: a reader sees the state either
// before or after a full tick, never in between.
type Engine struct {
	mu     sync.Mutex
	topo   *topology.Topology
	trains map[int]*TrainState
	logger logger.Logger
}

func NewEngine(topo *topology.Topology, log logger.Logger) *Engine {
	return &Engine{
		topo:   topo,
		trains: make(map[int]*TrainState),
		logger: log,
	}
}

// AddTrain registers a train with the engine. The station must be a member
// of the train's line and the direction must be valid.
func (e *Engine) AddTrain(t models.Train) error {
	if !t.Direction.Valid() {
		return fmt.Errorf("train %d: invalid direction %q", t.ID, t.Direction)
	}
	if _, ok := e.topo.IndexOf(t.Line, t.StationID); !ok {
		return fmt.Errorf("train %d: station %d is not on line %q", t.ID, t.StationID, t.Line)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.trains[t.ID]; dup {
		return fmt.Errorf("train %d already registered", t.ID)
	}
	e.trains[t.ID] = NewTrainState(t)
	return nil
}

// TrainCount returns the number of registered trains.
func (e *Engine) TrainCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.trains)
}

// Snapshot returns a copy of every train ordered by id.
func (e *Engine) Snapshot() []models.Train {
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]models.Train, 0, len(e.trains))
	for _, state := range e.trains {
		out = append(out, state.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Advance executes one tick: every train computes its next station, terminal
// reversals included, and the resulting updates are returned as one batch in
// ascending train-id order. A train whose state no longer matches its line is
// logged and skipped for the tick; the rest of the batch is unaffected.
func (e *Engine) Advance(now time.Time) []models.PositionUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]int, 0, len(e.trains))
	for id := range e.trains {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	batch := make([]models.PositionUpdate, 0, len(ids))
	for _, id := range ids {
		state := e.trains[id]
		update, ok := e.step(state, now)
		if !ok {
			metrics.AddCounter(metrics.TrainsSkipped, 1)
			continue
		}
		batch = append(batch, update)
	}

	metrics.AddCounter(metrics.TrainsMoved, int64(len(batch)))
	return batch
}

// step moves one train a single station. Reaching the terminal in the travel
// direction flips the direction and steps back the other way, which always
// succeeds on a well-formed line of two or more stations. A 2-station line
// therefore oscillates between its ends every tick.
func (e *Engine) step(state *TrainState, now time.Time) (models.PositionUpdate, bool) {
	t := state.Snapshot()

	if _, ok := e.topo.IndexOf(t.Line, t.StationID); !ok {
		e.logger.Error("Train station not on its line, skipping for this tick",
			"train_id", t.ID,
			"line", t.Line,
			"station_id", t.StationID)
		return models.PositionUpdate{}, false
	}

	dir := t.Direction
	next, ok := e.topo.Neighbor(t.Line, t.StationID, dir)
	if !ok {
		// Terminal reached in the travel direction: reverse.
		dir = dir.Flip()
		next, ok = e.topo.Neighbor(t.Line, t.StationID, dir)
		if !ok {
			// Cannot happen on a line with >= 2 stations, but a broken
			// topology must not take the whole tick down.
			e.logger.Error("Train stuck with no neighbor in either direction",
				"train_id", t.ID,
				"line", t.Line,
				"station_id", t.StationID)
			return models.PositionUpdate{}, false
		}
		e.logger.Debug("Train reversing at terminal",
			"train_id", t.ID,
			"line", t.Line,
			"station_id", t.StationID,
			"direction", dir)
	}

	prev := state.ApplyStep(next, dir, now)

	station, _ := e.topo.Station(next)
	return models.PositionUpdate{
		TrainID:       t.ID,
		StationID:     next,
		StationName:   station.Name,
		Latitude:      station.Latitude,
		Longitude:     station.Longitude,
		Line:          t.Line,
		Direction:     dir,
		PrevStationID: prev.StationID,
		DepartedAt:    prev.UpdatedAt,
		Timestamp:     now,
	}, true
}
