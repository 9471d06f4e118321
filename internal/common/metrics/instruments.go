package metrics

import (
	"context"

	"go.opentelemetry.io/otel/metric"
)

// Simulation metrics
var (
	// TicksTotal counts completed simulation ticks
	TicksTotal metric.Int64Counter

	// TickDuration measures the duration of one tick (move + persist + publish)
	TickDuration metric.Float64Histogram

	// TrainsMoved counts trains advanced per tick
	TrainsMoved metric.Int64Counter

	// TrainsSkipped counts trains skipped because of corrupted state
	TrainsSkipped metric.Int64Counter
)

// Store metrics
var (
	// StoreWrites counts successful position writes
	StoreWrites metric.Int64Counter

	// StoreWriteErrors counts failed position writes
	StoreWriteErrors metric.Int64Counter
)

// Broadcast metrics
var (
	// BroadcastUpdates counts updates fanned out to subscribers
	BroadcastUpdates metric.Int64Counter

	// SubscribersConnected tracks the current subscriber count
	SubscribersConnected metric.Int64UpDownCounter

	// SubscriberDrops counts subscribers removed after write failures
	SubscriberDrops metric.Int64Counter

	// SubscriberOverflows counts messages discarded by drop-oldest queues
	SubscriberOverflows metric.Int64Counter

	// MulticastSends counts datagrams sent to the multicast group
	MulticastSends metric.Int64Counter

	// MulticastErrors counts failed multicast sends
	MulticastErrors metric.Int64Counter
)

// initializeInstruments creates all metric instruments
func initializeInstruments() error {
	var err error

	TicksTotal, err = Meter.Int64Counter(
		"simulation.ticks.total",
		metric.WithDescription("Total number of completed simulation ticks"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return err
	}

	TickDuration, err = Meter.Float64Histogram(
		"simulation.tick.duration",
		metric.WithDescription("Duration of one simulation tick"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.5),
	)
	if err != nil {
		return err
	}

	TrainsMoved, err = Meter.Int64Counter(
		"simulation.trains.moved",
		metric.WithDescription("Trains advanced one station"),
		metric.WithUnit("{train}"),
	)
	if err != nil {
		return err
	}

	TrainsSkipped, err = Meter.Int64Counter(
		"simulation.trains.skipped",
		metric.WithDescription("Trains skipped for a tick due to corrupted state"),
		metric.WithUnit("{train}"),
	)
	if err != nil {
		return err
	}

	StoreWrites, err = Meter.Int64Counter(
		"store.writes.total",
		metric.WithDescription("Successful position writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return err
	}

	StoreWriteErrors, err = Meter.Int64Counter(
		"store.writes.errors",
		metric.WithDescription("Failed position writes"),
		metric.WithUnit("{write}"),
	)
	if err != nil {
		return err
	}

	BroadcastUpdates, err = Meter.Int64Counter(
		"broadcast.updates.total",
		metric.WithDescription("Position updates fanned out to subscribers"),
		metric.WithUnit("{update}"),
	)
	if err != nil {
		return err
	}

	SubscribersConnected, err = Meter.Int64UpDownCounter(
		"broadcast.subscribers.connected",
		metric.WithDescription("Currently connected websocket subscribers"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return err
	}

	SubscriberDrops, err = Meter.Int64Counter(
		"broadcast.subscribers.dropped",
		metric.WithDescription("Subscribers removed after write failures"),
		metric.WithUnit("{subscriber}"),
	)
	if err != nil {
		return err
	}

	SubscriberOverflows, err = Meter.Int64Counter(
		"broadcast.subscribers.overflows",
		metric.WithDescription("Messages discarded by full subscriber queues"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return err
	}

	MulticastSends, err = Meter.Int64Counter(
		"broadcast.multicast.sends",
		metric.WithDescription("Datagrams sent to the multicast group"),
		metric.WithUnit("{datagram}"),
	)
	if err != nil {
		return err
	}

	MulticastErrors, err = Meter.Int64Counter(
		"broadcast.multicast.errors",
		metric.WithDescription("Failed multicast sends"),
		metric.WithUnit("{datagram}"),
	)
	return err
}

// AddCounter records n on a counter when metrics are enabled.
func AddCounter(c metric.Int64Counter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}

// AddUpDown records n on an up/down counter when metrics are enabled.
func AddUpDown(c metric.Int64UpDownCounter, n int64) {
	if c != nil {
		c.Add(context.Background(), n)
	}
}

// RecordSeconds records a duration histogram sample when metrics are enabled.
func RecordSeconds(h metric.Float64Histogram, seconds float64) {
	if h != nil {
		h.Record(context.Background(), seconds)
	}
}
