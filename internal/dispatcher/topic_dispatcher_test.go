package dispatcher

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
)

func TestTopicDispatcher_BatchSizeBound(t *testing.T) {
	_, _, store, consumers := newTestFixture(t)
	capture := &captureDelivery{}

	mgr := NewManager(store, consumers, WithPollInterval(20*time.Millisecond), WithBatchSize(5))

	_, err := consumers.Register(scope.Default(), RegistrationRequest{
		InProcess: capture.handle,
		Topics:    map[string]uint64{"user-events": 0},
	})
	require.NoError(t, err)
	mgr.EnsureRunning([]string{"default/default/user-events"})
	defer mgr.StopAll()

	const total = 12
	reqs := make([]eventstore.PublishRequest, total)
	for i := 0; i < total; i++ {
		reqs[i] = eventstore.PublishRequest{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": fmt.Sprintf("%d", i)}}
	}
	_, err = store.PublishBatch(scope.Default(), reqs)
	require.NoError(t, err)
	mgr.NotifyPublished([]string{"default/default/user-events"})

	waitFor(t, 2*time.Second, func() bool { return capture.received() == total })

	capture.mu.Lock()
	defer capture.mu.Unlock()
	for _, batch := range capture.batches {
		assert.LessOrEqual(t, len(batch), 5)
	}
}

func TestTopicDispatcher_WakeCoalescesAndStopIsGraceful(t *testing.T) {
	_, _, store, consumers := newTestFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := newTopicDispatcher("default/default/user-events", store, consumers, NewHTTPDeliveryPort(time.Second), nil, logger, DefaultBatchSize, time.Hour, time.Second)

	go d.run()

	// multiple wakes before the dispatcher drains its channel must not block
	d.wakeUp()
	d.wakeUp()
	d.wakeUp()

	d.Stop()
	select {
	case <-d.done:
	default:
		t.Fatal("dispatcher did not terminate after Stop")
	}
}
