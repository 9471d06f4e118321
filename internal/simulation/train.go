package simulation

import (
	"time"

	"github.com/klmetro-live/pkg/models"
)

// TrainState is the mutable in-memory record of one train. The movement
// engine is its only writer; everything else works from the copies it
// hands out, so no per-train locking is needed.
type TrainState struct {
	train models.Train
}

func NewTrainState(t models.Train) *TrainState {
	return &TrainState{train: t}
}

// Snapshot returns a copy of the current state.
func (s *TrainState) Snapshot() models.Train {
	return s.train
}

// ApplyStep moves the train to a new station and direction and returns the
// state as it was before the step. The previous snapshot is taken before any
// field is touched so callers can diff old against new. No topology
// validation happens here; that is the engine's job.
func (s *TrainState) ApplyStep(stationID int, dir models.Direction, now time.Time) models.Train {
	prev := s.train
	s.train.StationID = stationID
	s.train.Direction = dir
	s.train.UpdatedAt = now
	return prev
}
