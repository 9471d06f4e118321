package broadcast

import (
	"time"

	"github.com/klmetro-live/pkg/models"
)

// Message event types on the subscriber channel. The names match what the
// browser client listens for.
const (
	EventInitialTrains = "initial_trains"
	EventTrainUpdate   = "train_update"
	EventTrainsData    = "trains_data"
	EventStatus        = "status"
	EventSystemAlert   = "system_alert"
	EventPong          = "pong"
)

// Envelope is the outbound frame sent to websocket subscribers.
type Envelope struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// StatusData acknowledges a new connection.
type StatusData struct {
	Msg         string `json:"msg"`
	Status      string `json:"status"`
	ClientCount int    `json:"client_count"`
}

// TrainsData answers an explicit request_trains message.
type TrainsData struct {
	Trains    []models.Train `json:"trains"`
	Timestamp time.Time      `json:"timestamp"`
	Source    string         `json:"source"`
}

// PongData answers a ping, echoing the client's correlation fields so it
// can measure round-trip latency.
type PongData struct {
	Timestamp        time.Time  `json:"timestamp"`
	ServerStatus     string     `json:"server_status"`
	ConnectedClients int        `json:"connected_clients"`
	PingID           string     `json:"ping_id,omitempty"`
	ClientTimestamp  *float64   `json:"client_timestamp,omitempty"`
	ServerTimestamp  *time.Time `json:"server_timestamp,omitempty"`
}

// clientRequest is the inbound frame read from a subscriber.
type clientRequest struct {
	Type      string   `json:"type"`
	PingID    string   `json:"ping_id,omitempty"`
	Timestamp *float64 `json:"timestamp,omitempty"`
}

// multicastMessage is the datagram payload, one per update. Shape follows
// what the external multicast monitors parse.
type multicastMessage struct {
	Type        string  `json:"type"`
	TrainID     int     `json:"train_id"`
	StationID   int     `json:"station_id"`
	StationName string  `json:"station_name"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	Line        string  `json:"line"`
	Direction   string  `json:"direction"`
	Timestamp   int64   `json:"timestamp"`
}
