package dispatcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftstore/eventstore/internal/eventstore"
)

func TestHTTPDeliveryPort_SuccessOn2xx(t *testing.T) {
	var gotBody deliveryPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := NewHTTPDeliveryPort(time.Second)
	consumer := eventstore.Consumer{ID: "c1", Callback: srv.URL}
	events := []eventstore.Event{{ID: "user-events-1", Type: "user.created", Payload: map[string]any{"id": "1"}}}

	result := port.Deliver(context.Background(), consumer, events)
	assert.True(t, result.Success)
	assert.Equal(t, "c1", gotBody.ConsumerID)
	require.Len(t, gotBody.Events, 1)
	assert.Equal(t, "user-events-1", gotBody.Events[0].ID)
}

func TestHTTPDeliveryPort_FailureOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	port := NewHTTPDeliveryPort(time.Second)
	consumer := eventstore.Consumer{ID: "c1", Callback: srv.URL}
	result := port.Deliver(context.Background(), consumer, []eventstore.Event{{ID: "user-events-1"}})
	assert.False(t, result.Success)
	assert.Error(t, result.Error)
}

func TestHTTPDeliveryPort_FailureOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	port := NewHTTPDeliveryPort(5 * time.Millisecond)
	consumer := eventstore.Consumer{ID: "c1", Callback: srv.URL}
	result := port.Deliver(context.Background(), consumer, []eventstore.Event{{ID: "user-events-1"}})
	assert.False(t, result.Success)
	assert.Error(t, result.Error)
}

func TestHTTPDeliveryPort_InProcessConsumerBypassesHTTP(t *testing.T) {
	port := NewHTTPDeliveryPort(time.Second)
	called := false
	consumer := eventstore.Consumer{
		ID: "c1",
		InProcess: func(consumerID string, events []eventstore.Event) eventstore.DeliveryResult {
			called = true
			return eventstore.DeliveryResult{Success: true}
		},
	}
	result := port.Deliver(context.Background(), consumer, []eventstore.Event{{ID: "user-events-1"}})
	assert.True(t, result.Success)
	assert.True(t, called)
}
