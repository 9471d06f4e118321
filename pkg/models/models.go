package models

import "time"

// Direction is the travel direction of a train relative to its line's
// station sequence.
type Direction string

const (
	// Forward moves toward increasing sequence index.
	Forward Direction = "forward"
	// Backward moves toward decreasing sequence index.
	Backward Direction = "backward"
)

// Flip returns the opposite direction.
func (d Direction) Flip() Direction {
	if d == Forward {
		return Backward
	}
	return Forward
}

// Valid reports whether d is one of the two known directions.
func (d Direction) Valid() bool {
	return d == Forward || d == Backward
}

// Station is a single metro station. Immutable after topology load.
type Station struct {
	ID        int     `json:"station_id" yaml:"id"`
	Name      string  `json:"name" yaml:"name"`
	Latitude  float64 `json:"latitude" yaml:"latitude"`
	Longitude float64 `json:"longitude" yaml:"longitude"`
	Line      string  `json:"line" yaml:"line"`
}

// Line is a named, ordered sequence of station ids running from one
// terminal to the other.
type Line struct {
	Name     string `json:"name" yaml:"name"`
	Stations []int  `json:"stations" yaml:"stations"`
}

// Train is the current state of one simulated train. It is exclusively
// owned by the movement engine for mutation; other components only ever
// see copies.
type Train struct {
	ID        int       `json:"train_id"`
	Line      string    `json:"line"`
	StationID int       `json:"station_id"`
	Direction Direction `json:"direction"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PositionUpdate is the transient message produced once per train per tick.
// It carries everything the store and the broadcast sinks need so neither
// has to reach back into the engine.
type PositionUpdate struct {
	TrainID       int       `json:"train_id"`
	StationID     int       `json:"station_id"`
	StationName   string    `json:"station_name"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Line          string    `json:"line"`
	Direction     Direction `json:"direction"`
	PrevStationID int       `json:"previous_station_id"`
	DepartedAt    time.Time `json:"departed_at"`
	Timestamp     time.Time `json:"timestamp"`
}

// SystemAlert is an operational event broadcast alongside train updates
// (service disruptions, maintenance notices).
type SystemAlert struct {
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  int       `json:"severity"`
	Zone      string    `json:"zone"`
	Timestamp time.Time `json:"timestamp"`
}

// Fare is a single origin/destination fare row.
type Fare struct {
	OriginID      int     `json:"origin_id"`
	DestinationID int     `json:"destination_id"`
	Amount        float64 `json:"fare"`
	DistanceKM    float64 `json:"distance_km"`
	TravelTimeMin int     `json:"travel_time_min"`
}
