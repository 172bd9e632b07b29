//go:build bdd

package steps

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
)

// deliveryPayload mirrors the body the dispatcher POSTs to a consumer
// callback (spec.md §6.2): {consumerId, events[]}.
type deliveryPayload struct {
	ConsumerID string                   `json:"consumerId"`
	Events     []map[string]interface{} `json:"events"`
}

// WebhookRecorder is a fake consumer endpoint. Each registered path answers
// with a fixed status and records every delivery it receives, so scenarios
// can assert on at-least-once delivery order (S3) and failure eviction (S4).
type WebhookRecorder struct {
	mu         sync.Mutex
	server     *httptest.Server
	statusFor  map[string]int
	deliveries map[string][]deliveryPayload
}

// NewWebhookRecorder starts a recorder server. Unregistered paths answer 200.
func NewWebhookRecorder() *WebhookRecorder {
	w := &WebhookRecorder{
		statusFor:  make(map[string]int),
		deliveries: make(map[string][]deliveryPayload),
	}
	w.server = httptest.NewServer(http.HandlerFunc(w.handle))
	return w
}

func (w *WebhookRecorder) handle(rw http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	var payload deliveryPayload
	_ = json.Unmarshal(data, &payload)

	w.mu.Lock()
	w.deliveries[r.URL.Path] = append(w.deliveries[r.URL.Path], payload)
	status := w.statusFor[r.URL.Path]
	w.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	rw.WriteHeader(status)
}

// URL returns the full callback URL for path, registering it to answer with
// status on every delivery.
func (w *WebhookRecorder) URL(path string, status int) string {
	w.mu.Lock()
	w.statusFor[path] = status
	w.mu.Unlock()
	return w.server.URL + path
}

// Deliveries returns every delivery recorded for path, in arrival order.
func (w *WebhookRecorder) Deliveries(path string) []deliveryPayload {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]deliveryPayload, len(w.deliveries[path]))
	copy(out, w.deliveries[path])
	return out
}

// Reset clears recorded deliveries and status overrides between scenarios.
func (w *WebhookRecorder) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.statusFor = make(map[string]int)
	w.deliveries = make(map[string][]deliveryPayload)
}

// Close shuts down the underlying HTTP server.
func (w *WebhookRecorder) Close() {
	w.server.Close()
}
