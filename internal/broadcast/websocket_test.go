package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klmetro-live/internal/common/logger"
	"github.com/klmetro-live/pkg/models"
)

type fakeConn struct {
	mu       sync.Mutex
	messages [][]byte
	failNext bool
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failNext {
		return errors.New("broken pipe")
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	c.messages = append(c.messages, buf)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failNext = true
}

func (c *fakeConn) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.messages))
	copy(out, c.messages)
	return out
}

// waitForMessages polls until the connection has received at least n frames.
func waitForMessages(t *testing.T, c *fakeConn, n int) [][]byte {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		msgs := c.snapshot()
		if len(msgs) >= n {
			return msgs
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d messages, have %d", n, len(c.snapshot()))
	return nil
}

type fakeSnapshots struct {
	trains []models.Train
	err    error
}

func (f *fakeSnapshots) CurrentPositions(context.Context) ([]models.Train, error) {
	return f.trains, f.err
}

func testSink(snapshots SnapshotSource, fallback func() []models.Train) *SubscriberSink {
	return NewSubscriberSink(SubscriberSinkConfig{QueueSize: 16}, snapshots, fallback, logger.Nop())
}

func decodeEnvelope(t *testing.T, raw []byte) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return env
}

// The first frame a subscriber receives is always the full snapshot, even
// when a batch is published the instant it connects.
func TestSubscriberReceivesSnapshotFirst(t *testing.T) {
	snapshots := &fakeSnapshots{trains: []models.Train{
		{ID: 1, Line: "Ampang", StationID: 2, Direction: models.Forward},
		{ID: 2, Line: "Ampang", StationID: 4, Direction: models.Backward},
	}}
	sink := testSink(snapshots, nil)
	defer sink.Close()

	conn := &fakeConn{}
	sub := sink.connect(context.Background(), conn)
	defer sink.remove(sub, "test done")

	sink.Publish([]models.PositionUpdate{{TrainID: 1, StationID: 3, Line: "Ampang"}})

	msgs := waitForMessages(t, conn, 3)
	first := decodeEnvelope(t, msgs[0])
	if first.Type != EventInitialTrains {
		t.Fatalf("Expected first frame %q, got %q", EventInitialTrains, first.Type)
	}

	var trains []models.Train
	raw, _ := json.Marshal(first.Data)
	if err := json.Unmarshal(raw, &trains); err != nil {
		t.Fatalf("Failed to decode snapshot payload: %v", err)
	}
	if len(trains) != 2 || trains[0].ID != 1 || trains[1].ID != 2 {
		t.Errorf("Snapshot does not match store state: %+v", trains)
	}
}

func TestSnapshotFallsBackToMemoryOnStoreError(t *testing.T) {
	snapshots := &fakeSnapshots{err: errors.New("connection refused")}
	fallback := func() []models.Train {
		return []models.Train{{ID: 9, Line: "Ampang", StationID: 1, Direction: models.Forward}}
	}
	sink := testSink(snapshots, fallback)
	defer sink.Close()

	conn := &fakeConn{}
	sub := sink.connect(context.Background(), conn)
	defer sink.remove(sub, "test done")

	msgs := waitForMessages(t, conn, 1)
	first := decodeEnvelope(t, msgs[0])
	if first.Type != EventInitialTrains {
		t.Fatalf("Expected first frame %q, got %q", EventInitialTrains, first.Type)
	}

	var trains []models.Train
	raw, _ := json.Marshal(first.Data)
	json.Unmarshal(raw, &trains)
	if len(trains) != 1 || trains[0].ID != 9 {
		t.Errorf("Expected in-memory fallback snapshot, got %+v", trains)
	}
}

// One broken subscriber is removed without disturbing delivery to others.
func TestBrokenSubscriberIsIsolated(t *testing.T) {
	sink := testSink(&fakeSnapshots{}, nil)
	defer sink.Close()

	healthy := &fakeConn{}
	broken := &fakeConn{}
	healthySub := sink.connect(context.Background(), healthy)
	defer sink.remove(healthySub, "test done")
	sink.connect(context.Background(), broken)

	// Let the connect frames drain, then break one connection.
	waitForMessages(t, healthy, 2)
	waitForMessages(t, broken, 2)
	broken.fail()

	batch := []models.PositionUpdate{
		{TrainID: 1, StationID: 2, Line: "Ampang", Direction: models.Forward},
		{TrainID: 2, StationID: 3, Line: "Ampang", Direction: models.Backward},
	}
	sink.Publish(batch)

	msgs := waitForMessages(t, healthy, 4)
	for _, raw := range msgs[2:] {
		env := decodeEnvelope(t, raw)
		if env.Type != EventTrainUpdate {
			t.Errorf("Expected %q frame, got %q", EventTrainUpdate, env.Type)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.Count() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.Count(); got != 1 {
		t.Errorf("Expected broken subscriber removed, count = %d", got)
	}
}

// When the queue is full the oldest pending message is dropped so the
// newest state always gets through.
func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	sub := newSubscriber(&fakeConn{}, 2)

	for i := 1; i <= 5; i++ {
		sub.enqueue(Envelope{Type: EventTrainUpdate, Data: i})
	}

	got := make([]int, 0, 2)
	for len(got) < 2 {
		env := <-sub.send
		got = append(got, env.Data.(int))
	}
	if got[0] != 4 || got[1] != 5 {
		t.Errorf("Expected newest messages [4, 5] to survive, got %v", got)
	}
}

func TestEnqueueAfterCloseIsNoop(t *testing.T) {
	sub := newSubscriber(&fakeConn{}, 1)
	sub.close()
	sub.enqueue(Envelope{Type: EventTrainUpdate}) // must not block or panic
	if len(sub.send) != 0 {
		t.Errorf("Expected no messages queued after close, got %d", len(sub.send))
	}
}

func TestCloseDisconnectsEverySubscriber(t *testing.T) {
	sink := testSink(&fakeSnapshots{}, nil)

	conns := []*fakeConn{{}, {}, {}}
	for _, c := range conns {
		sink.connect(context.Background(), c)
	}
	if got := sink.Count(); got != 3 {
		t.Fatalf("Expected 3 subscribers, got %d", got)
	}

	sink.Close()
	if got := sink.Count(); got != 0 {
		t.Errorf("Expected 0 subscribers after close, got %d", got)
	}
	for i, c := range conns {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if !closed {
			t.Errorf("Connection %d not closed", i)
		}
	}
}

func TestPublishAlertReachesSubscribers(t *testing.T) {
	sink := testSink(&fakeSnapshots{}, nil)
	defer sink.Close()

	conn := &fakeConn{}
	sub := sink.connect(context.Background(), conn)
	defer sink.remove(sub, "test done")
	waitForMessages(t, conn, 2)

	sink.PublishAlert(models.SystemAlert{Type: "MAINTENANCE", Message: "Track work tonight", Severity: 1})

	msgs := waitForMessages(t, conn, 3)
	env := decodeEnvelope(t, msgs[2])
	if env.Type != EventSystemAlert {
		t.Errorf("Expected %q frame, got %q", EventSystemAlert, env.Type)
	}
}
