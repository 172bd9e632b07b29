package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/metrics"
	"github.com/riftstore/eventstore/internal/scope"
)

// maxConcurrentDeliveries bounds how many consumers of one topic a single
// dispatcher iteration delivers to at once, so a topic with many
// subscribers doesn't open unbounded concurrent HTTP requests.
const maxConcurrentDeliveries = 8

// TopicDispatcher is the long-running task that fans events to consumers
// subscribed to one qualified topic (spec.md §4.8). State machine: Idle ->
// Delivering -> Idle on every loop iteration; Idle/Delivering -> Terminated
// on Stop.
type TopicDispatcher struct {
	qualifiedTopic  string
	store           *eventlog.Store
	consumers       *ConsumerRegistry
	delivery        DeliveryPort
	metrics         *metrics.Metrics
	logger          *slog.Logger
	batchSize       int
	pollInterval    time.Duration
	deliveryTimeout time.Duration

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
}

func newTopicDispatcher(qualifiedTopic string, store *eventlog.Store, consumers *ConsumerRegistry, delivery DeliveryPort, m *metrics.Metrics, logger *slog.Logger, batchSize int, pollInterval, deliveryTimeout time.Duration) *TopicDispatcher {
	return &TopicDispatcher{
		qualifiedTopic:  qualifiedTopic,
		store:           store,
		consumers:       consumers,
		delivery:        delivery,
		metrics:         m,
		logger:          logger,
		batchSize:       batchSize,
		pollInterval:    pollInterval,
		deliveryTimeout: deliveryTimeout,
		wake:            make(chan struct{}, 1),
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// run is the dispatcher's loop (spec.md §4.8): wait on a wake signal or the
// poll interval, snapshot subscribed consumers, deliver a bounded batch to
// each. Call in its own goroutine; returns once Stop is called.
func (d *TopicDispatcher) run() {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		d.deliverOnce()

		select {
		case <-d.stop:
			return
		case <-d.wake:
		case <-ticker.C:
		}
	}
}

// wakeUp coalesces multiple publish notifications into one pending wake
// signal, per spec.md §9's bounded single-slot signal.
func (d *TopicDispatcher) wakeUp() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Stop signals the dispatcher to finish its current iteration and
// terminate, then waits for it to exit (spec.md §5's graceful-shutdown
// policy: "cancel dispatchers after their current iteration").
func (d *TopicDispatcher) Stop() {
	close(d.stop)
	<-d.done
}

// deliverOnce snapshots consumers subscribed to this topic and attempts one
// delivery to each. Consumers are independent, so deliveries fan out
// concurrently (bounded by maxConcurrentDeliveries); at most one batch per
// consumer is ever in flight, preserving spec.md §4.8's per-consumer
// ordering guarantee.
func (d *TopicDispatcher) deliverOnce() {
	sc, topic, err := scope.Split(d.qualifiedTopic)
	if err != nil {
		d.logger.Error("dispatcher: malformed qualified topic", "topic", d.qualifiedTopic, "error", err)
		return
	}

	var g errgroup.Group
	g.SetLimit(maxConcurrentDeliveries)
	for _, consumer := range d.consumers.FindByTopic(d.qualifiedTopic) {
		consumer := consumer
		g.Go(func() error {
			d.deliverToConsumer(sc, topic, consumer)
			return nil
		})
	}
	_ = g.Wait()
}

func (d *TopicDispatcher) deliverToConsumer(sc scope.Scope, topic string, consumer eventstore.Consumer) {
	since := consumer.Topics[d.qualifiedTopic]

	events, err := d.store.GetEvents(sc, topic, eventstore.ReadOptions{SinceID: since, HasLimit: true, Limit: d.batchSize})
	if err != nil {
		d.logger.Error("dispatcher: read failed", "topic", d.qualifiedTopic, "consumer", consumer.ID, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.deliveryTimeout)
	start := time.Now()
	result := d.delivery.Deliver(ctx, consumer, events)
	cancel()

	if !result.Success {
		d.logger.Warn("dispatcher: delivery failed, evicting consumer",
			"topic", d.qualifiedTopic, "consumer", consumer.ID, "error", result.Error)
		d.consumers.Delete(consumer.ID)
		if d.metrics != nil {
			d.metrics.RecordDelivery(topic, false, time.Since(start))
			d.metrics.RecordEviction(topic)
		}
		return
	}

	_, lastSeq, err := eventstore.ParseEventID(events[len(events)-1].ID)
	if err != nil {
		d.logger.Error("dispatcher: could not parse delivered event id", "topic", d.qualifiedTopic, "error", err)
		return
	}
	d.consumers.UpdateCursor(consumer.ID, d.qualifiedTopic, lastSeq)
	if d.metrics != nil {
		d.metrics.RecordDelivery(topic, true, time.Since(start))
	}
}
