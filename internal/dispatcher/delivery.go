package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/riftstore/eventstore/internal/eventstore"
)

// DeliveryPort is the dispatcher's delivery capability, uniform across the
// HTTP and in-process consumer variants (spec.md §9's "polymorphic
// consumer").
type DeliveryPort interface {
	Deliver(ctx context.Context, consumer eventstore.Consumer, events []eventstore.Event) eventstore.DeliveryResult
}

// deliveryPayload is the wire body POSTed to a consumer's callback (spec.md
// §6.2).
type deliveryPayload struct {
	ConsumerID string             `json:"consumerId"`
	Events     []eventstore.Event `json:"events"`
}

// HTTPDeliveryPort delivers batches over HTTP POST, and falls back to a
// consumer's InProcess handler when one is set (used by tests in place of a
// real callback server).
type HTTPDeliveryPort struct {
	client *http.Client
}

// NewHTTPDeliveryPort returns a delivery port whose HTTP requests time out
// after timeout (spec.md §4.8's default 30s).
func NewHTTPDeliveryPort(timeout time.Duration) *HTTPDeliveryPort {
	return &HTTPDeliveryPort{
		client: &http.Client{Timeout: timeout},
	}
}

// Deliver POSTs events to consumer.Callback. A 2xx response is success;
// anything else — non-2xx status, timeout, connection error — is failure
// (spec.md §4.8).
func (p *HTTPDeliveryPort) Deliver(ctx context.Context, consumer eventstore.Consumer, events []eventstore.Event) eventstore.DeliveryResult {
	if consumer.InProcess != nil {
		return consumer.InProcess(consumer.ID, events)
	}

	body, err := json.Marshal(deliveryPayload{ConsumerID: consumer.ID, Events: events})
	if err != nil {
		return eventstore.DeliveryResult{Success: false, Error: fmt.Errorf("encoding delivery payload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, consumer.Callback, bytes.NewReader(body))
	if err != nil {
		return eventstore.DeliveryResult{Success: false, Error: fmt.Errorf("building delivery request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return eventstore.DeliveryResult{Success: false, Error: err}
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return eventstore.DeliveryResult{Success: true}
	}
	return eventstore.DeliveryResult{Success: false, Error: fmt.Errorf("callback returned status %d", resp.StatusCode)}
}
