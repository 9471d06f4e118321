package broadcast

import (
	"sync"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/pkg/models"
)

// Sink is one delivery channel for position updates. The hub treats all
// sinks the same; adding a new transport means adding a Sink, not touching
// the movement engine.
type Sink interface {
	Publish(batch []models.PositionUpdate)
	PublishAlert(alert models.SystemAlert)
	Close() error
}

// Hub fans each tick's batch out to every registered sink. A sink failure
// is the sink's own problem; the hub never retries and never lets one sink
// block another.
type Hub struct {
	mu     sync.RWMutex
	sinks  []Sink
	logger logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{logger: log}
}

// AddSink registers a delivery channel. Sinks registered after a Publish
// began receive only subsequent batches.
func (h *Hub) AddSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// Publish hands the batch to every sink in registration order. The batch is
// complete: every train in it computed its new state before the hub saw any
// of it.
func (h *Hub) Publish(batch []models.PositionUpdate) {
	if len(batch) == 0 {
		return
	}
	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()

	for _, s := range sinks {
		s.Publish(batch)
	}
}

// PublishAlert fans a system alert out to every sink.
func (h *Hub) PublishAlert(alert models.SystemAlert) {
	h.mu.RLock()
	sinks := h.sinks
	h.mu.RUnlock()

	for _, s := range sinks {
		s.PublishAlert(alert)
	}
}

// Close shuts every sink down.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range h.sinks {
		if err := s.Close(); err != nil {
			h.logger.Warn("Error closing broadcast sink", "error", err)
		}
	}
	h.sinks = nil
}
