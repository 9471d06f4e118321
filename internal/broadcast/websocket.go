package broadcast

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/internal/common/metrics"
	"github.com/klmetro-live/pkg/models"
)

// SnapshotSource supplies the full current state sent to a subscriber the
// moment it connects, so a late joiner never sees a gap.
type SnapshotSource interface {
	CurrentPositions(ctx context.Context) ([]models.Train, error)
}

// wsConn is the slice of *websocket.Conn the write path needs. Tests
// substitute fakes; production always passes the real thing.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Subscriber is one connected websocket client with a bounded outbound
// queue. When the queue is full the oldest pending message is discarded;
// a slow reader falls behind, it never stalls the tick.
type Subscriber struct {
	ID   string
	conn wsConn
	send chan Envelope
	done chan struct{}
	once sync.Once
}

func newSubscriber(conn wsConn, queueSize int) *Subscriber {
	return &Subscriber{
		ID:   uuid.NewString(),
		conn: conn,
		send: make(chan Envelope, queueSize),
		done: make(chan struct{}),
	}
}

// enqueue adds a message, dropping the oldest pending one on overflow.
func (s *Subscriber) enqueue(env Envelope) {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case s.send <- env:
			return
		default:
		}
		select {
		case <-s.send:
			metrics.AddCounter(metrics.SubscriberOverflows, 1)
		default:
		}
	}
}

func (s *Subscriber) close() {
	s.once.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// SubscriberSink fans updates out to all connected websocket clients. The
// subscriber set is guarded by one mutex so a connect during a publish never
// yields a torn read.
type SubscriberSink struct {
	mu          sync.Mutex
	subscribers map[string]*Subscriber

	snapshots    SnapshotSource
	fallback     func() []models.Train
	logger       logger.Logger
	queueSize    int
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
}

// SubscriberSinkConfig configures the websocket fan-out.
type SubscriberSinkConfig struct {
	QueueSize    int
	WriteTimeout time.Duration
}

// NewSubscriberSink creates the websocket sink. The fallback supplies an
// in-memory snapshot when the store read fails on connect; it may be nil.
func NewSubscriberSink(cfg SubscriberSinkConfig, snapshots SnapshotSource, fallback func() []models.Train, log logger.Logger) *SubscriberSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	return &SubscriberSink{
		subscribers:  make(map[string]*Subscriber),
		snapshots:    snapshots,
		fallback:     fallback,
		logger:       log,
		queueSize:    cfg.QueueSize,
		writeTimeout: cfg.WriteTimeout,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and hands it to the fan-out set.
func (f *SubscriberSink) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("Websocket upgrade failed", "error", err)
		return
	}

	sub := f.connect(r.Context(), conn)
	go f.readPump(conn, sub)
}

// connect builds the subscriber, queues its snapshot, and registers it.
// The snapshot is enqueued before registration, so the first frame a
// subscriber receives is always the full current state.
func (f *SubscriberSink) connect(ctx context.Context, conn wsConn) *Subscriber {
	sub := newSubscriber(conn, f.queueSize)

	sub.enqueue(Envelope{Type: EventInitialTrains, Data: f.snapshot(ctx)})

	f.mu.Lock()
	f.subscribers[sub.ID] = sub
	count := len(f.subscribers)
	f.mu.Unlock()

	sub.enqueue(Envelope{Type: EventStatus, Data: StatusData{
		Msg:         "Connected to real-time metro tracking",
		Status:      "success",
		ClientCount: count,
	}})

	metrics.AddUpDown(metrics.SubscribersConnected, 1)
	f.logger.Info("Subscriber connected", "subscriber_id", sub.ID, "client_count", count)

	go f.writePump(sub)
	return sub
}

// snapshot reads the persisted positions, falling back to the in-memory
// fleet when the store is unavailable.
func (f *SubscriberSink) snapshot(ctx context.Context) []models.Train {
	trains, err := f.snapshots.CurrentPositions(ctx)
	if err != nil {
		f.logger.Warn("Snapshot read failed, serving in-memory state", "error", err)
		if f.fallback != nil {
			return f.fallback()
		}
		return nil
	}
	return trains
}

// Publish queues every update of the batch, in order, on every subscriber.
func (f *SubscriberSink) Publish(batch []models.PositionUpdate) {
	f.mu.Lock()
	subs := make([]*Subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	for _, update := range batch {
		env := Envelope{Type: EventTrainUpdate, Data: update}
		for _, sub := range subs {
			sub.enqueue(env)
		}
	}

	metrics.AddCounter(metrics.BroadcastUpdates, int64(len(batch)*len(subs)))
}

// PublishAlert queues a system alert on every subscriber.
func (f *SubscriberSink) PublishAlert(alert models.SystemAlert) {
	f.mu.Lock()
	subs := make([]*Subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.mu.Unlock()

	env := Envelope{Type: EventSystemAlert, Data: alert}
	for _, sub := range subs {
		sub.enqueue(env)
	}
}

// Close disconnects every subscriber.
func (f *SubscriberSink) Close() error {
	f.mu.Lock()
	subs := f.subscribers
	f.subscribers = make(map[string]*Subscriber)
	f.mu.Unlock()

	for _, sub := range subs {
		sub.close()
	}
	return nil
}

// Count returns the number of connected subscribers.
func (f *SubscriberSink) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// remove drops a subscriber after a write failure or disconnect. Idempotent:
// a subscriber already gone is a no-op.
func (f *SubscriberSink) remove(sub *Subscriber, reason string) {
	f.mu.Lock()
	_, present := f.subscribers[sub.ID]
	delete(f.subscribers, sub.ID)
	f.mu.Unlock()

	sub.close()

	if present {
		metrics.AddUpDown(metrics.SubscribersConnected, -1)
		metrics.AddCounter(metrics.SubscriberDrops, 1)
		f.logger.Info("Subscriber removed", "subscriber_id", sub.ID, "reason", reason)
	}
}

// writePump drains the subscriber's queue onto the wire. The first write
// failure removes the subscriber; delivery to everyone else is unaffected.
func (f *SubscriberSink) writePump(sub *Subscriber) {
	for {
		select {
		case <-sub.done:
			return
		case env := <-sub.send:
			payload, err := json.Marshal(env)
			if err != nil {
				f.logger.Error("Failed to marshal outbound message", "error", err)
				continue
			}
			if err := sub.conn.SetWriteDeadline(time.Now().Add(f.writeTimeout)); err != nil {
				f.remove(sub, "write deadline: "+err.Error())
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				f.remove(sub, "write failed: "+err.Error())
				return
			}
		}
	}
}

// readPump handles inbound client requests until the connection drops.
func (f *SubscriberSink) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer f.remove(sub, "connection closed")

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req clientRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			f.logger.Debug("Ignoring malformed client message", "subscriber_id", sub.ID, "error", err)
			continue
		}

		switch req.Type {
		case "request_trains":
			sub.enqueue(Envelope{Type: EventTrainsData, Data: TrainsData{
				Trains:    f.snapshot(context.Background()),
				Timestamp: time.Now(),
				Source:    "database_query",
			}})
		case "ping":
			sub.enqueue(Envelope{Type: EventPong, Data: f.pong(req)})
		default:
			f.logger.Debug("Unknown client request", "subscriber_id", sub.ID, "type", req.Type)
		}
	}
}

func (f *SubscriberSink) pong(req clientRequest) PongData {
	pong := PongData{
		Timestamp:        time.Now(),
		ServerStatus:     "healthy",
		ConnectedClients: f.Count(),
		PingID:           req.PingID,
	}
	if req.Timestamp != nil {
		now := time.Now()
		pong.ClientTimestamp = req.Timestamp
		pong.ServerTimestamp = &now
	}
	return pong
}
