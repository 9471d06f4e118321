package broadcast

import (
	"encoding/json"
	"fmt"
	"net"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/common/metrics"
	"github.com/klmetro-live/pkg/models"
)

// MulticastSink pushes each update as an independent JSON datagram to a
// fixed multicast group. Delivery is fire-and-forget: no acknowledgment,
// no retry, no ordering. External monitors join the group to observe the
// network without holding a connection to the service.
type MulticastSink struct {
	conn   *net.UDPConn
	group  *net.UDPAddr
	logger logger.Logger
}

func NewMulticastSink(group string, port int, log logger.Logger) (*MulticastSink, error) {
	ip := net.ParseIP(group)
	if ip == nil || !ip.IsMulticast() {
		return nil, fmt.Errorf("%q is not a multicast group address", group)
	}

	addr := &net.UDPAddr{IP: ip, Port: port}
	conn, err := net.DialUDP("udp4", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("opening multicast socket: %w", err)
	}

	log.Info("Multicast sink initialized", "group", group, "port", port)

	return &MulticastSink{
		conn:   conn,
		group:  addr,
		logger: log,
	}, nil
}

// Publish serializes and sends every update of the batch. A send failure
// is logged and the rest of the batch still goes out; nothing propagates
// to the tick driver.
func (m *MulticastSink) Publish(batch []models.PositionUpdate) {
	for _, update := range batch {
		msg := multicastMessage{
			Type:        "TRAIN_UPDATE",
			TrainID:     update.TrainID,
			StationID:   update.StationID,
			StationName: update.StationName,
			Latitude:    update.Latitude,
			Longitude:   update.Longitude,
			Line:        update.Line,
			Direction:   string(update.Direction),
			Timestamp:   update.Timestamp.Unix(),
		}

		payload, err := json.Marshal(msg)
		if err != nil {
			m.logger.Error("Failed to marshal multicast message", "train_id", update.TrainID, "error", err)
			continue
		}

		if _, err := m.conn.Write(payload); err != nil {
			metrics.AddCounter(metrics.MulticastErrors, 1)
			m.logger.Warn("Multicast send failed", "train_id", update.TrainID, "error", err)
			continue
		}
		metrics.AddCounter(metrics.MulticastSends, 1)
	}
}

// PublishAlert sends a system alert datagram to the group.
func (m *MulticastSink) PublishAlert(alert models.SystemAlert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		m.logger.Error("Failed to marshal multicast alert", "error", err)
		return
	}

	if _, err := m.conn.Write(payload); err != nil {
		metrics.AddCounter(metrics.MulticastErrors, 1)
		m.logger.Warn("Multicast alert send failed", "error", err)
		return
	}
	metrics.AddCounter(metrics.MulticastSends, 1)
}

// Close releases the socket.
func (m *MulticastSink) Close() error {
	return m.conn.Close()
}
