// Package handlers provides HTTP request handlers for the event store
// surface (spec.md §6.1).
package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/riftstore/eventstore/internal/api/types"
	"github.com/riftstore/eventstore/internal/dispatcher"
	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/scope"
)

// Handler provides HTTP handlers wiring the Topic Registry, Event Store,
// Consumer Registry, and Dispatcher Manager to the HTTP surface.
type Handler struct {
	registry  *registry.Registry
	store     *eventlog.Store
	consumers *dispatcher.ConsumerRegistry
	dispatch  *dispatcher.Manager
	logger    *slog.Logger
}

// New creates a new Handler.
func New(reg *registry.Registry, store *eventlog.Store, consumers *dispatcher.ConsumerRegistry, dispatch *dispatcher.Manager, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		registry:  reg,
		store:     store,
		consumers: consumers,
		dispatch:  dispatch,
		logger:    logger,
	}
}

// HealthCheck handles GET /health.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:             "UP",
		Consumers:          h.consumers.Count(),
		RunningDispatchers: h.dispatch.RunningDispatchers(),
	})
}

// ListTopics handles GET /topics.
func (h *Handler) ListTopics(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())
	topics := h.registry.GetAllTopics(sc)

	resp := types.TopicListResponse{Topics: make([]types.TopicResponse, len(topics))}
	for i, t := range topics {
		resp.Topics[i] = topicToResponse(t)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateTopic handles POST /topics.
func (h *Handler) CreateTopic(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())

	var req types.CreateTopicRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "malformed request body")
		return
	}

	if err := h.registry.CreateTopic(sc, req.Name, req.Schemas); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.MessageResponse{Message: "topic created"})
}

// GetTopic handles GET /topics/{t}.
func (h *Handler) GetTopic(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())
	name := chi.URLParam(r, "topic")

	topic, err := h.registry.GetTopic(sc, name)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, topicToResponse(topic))
}

// UpdateSchemas handles PUT /topics/{t}.
func (h *Handler) UpdateSchemas(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())
	name := chi.URLParam(r, "topic")

	var req types.UpdateSchemasRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "malformed request body")
		return
	}

	if err := h.registry.UpdateSchemas(sc, name, req.Schemas); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "schemas updated"})
}

// PublishEvents handles POST /events.
func (h *Handler) PublishEvents(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())

	var reqs []types.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
		writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "malformed request body")
		return
	}

	publishReqs := make([]eventstore.PublishRequest, len(reqs))
	for i, pr := range reqs {
		publishReqs[i] = eventstore.PublishRequest{Topic: pr.Topic, Type: pr.Type, Payload: pr.Payload}
	}

	ids, err := h.store.PublishBatch(sc, publishReqs)
	if err != nil {
		// Every rejected publish batch is a 400, including an unknown topic
		// or eventType, which StatusHint alone would report as 404.
		status := eventstore.StatusHint(err)
		if status == http.StatusNotFound {
			status = http.StatusBadRequest
		}
		writeError(w, status, eventstore.Code(err), err.Error())
		return
	}

	h.dispatch.NotifyPublished(touchedTopics(sc, publishReqs))
	writeJSON(w, http.StatusCreated, types.PublishResponse{EventIDs: ids})
}

// GetEvents handles GET /topics/{t}/events.
func (h *Handler) GetEvents(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())
	name := chi.URLParam(r, "topic")

	opts := eventstore.ReadOptions{Date: r.URL.Query().Get("date")}
	if v := r.URL.Query().Get("sinceEventId"); v != "" {
		since, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "invalid sinceEventId")
			return
		}
		opts.SinceID = since
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "invalid limit")
			return
		}
		opts.Limit = limit
		opts.HasLimit = true
	}

	events, err := h.store.GetEvents(sc, name, opts)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	resp := types.EventListResponse{Events: make([]types.EventResponse, len(events))}
	for i, e := range events {
		resp.Events[i] = eventToResponse(e)
	}
	writeJSON(w, http.StatusOK, resp)
}

// RegisterConsumer handles POST /consumers/register.
func (h *Handler) RegisterConsumer(w http.ResponseWriter, r *http.Request) {
	sc := scope.FromContext(r.Context())

	var req types.RegisterConsumerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidRequest), "malformed request body")
		return
	}

	topics := make(map[string]uint64, len(req.Topics))
	for name, lastEventID := range req.Topics {
		if lastEventID == nil || *lastEventID == "" {
			topics[name] = 0
			continue
		}
		_, seq, err := eventstore.ParseEventID(*lastEventID)
		if err != nil {
			writeError(w, http.StatusBadRequest, eventstore.Code(eventstore.ErrInvalidConsumerRegistration), "invalid lastEventId for topic "+name)
			return
		}
		topics[name] = seq
	}

	consumer, err := h.consumers.Register(sc, dispatcher.RegistrationRequest{
		Callback: req.Callback,
		Topics:   topics,
	})
	if err != nil {
		writeStoreError(w, err)
		return
	}

	qualifiedTopics := make([]string, 0, len(consumer.Topics))
	for qt := range consumer.Topics {
		qualifiedTopics = append(qualifiedTopics, qt)
	}
	h.dispatch.EnsureRunning(qualifiedTopics)

	writeJSON(w, http.StatusCreated, types.RegisterConsumerResponse{ConsumerID: consumer.ID})
}

// ListConsumers handles GET /consumers.
func (h *Handler) ListConsumers(w http.ResponseWriter, r *http.Request) {
	consumers := h.consumers.FindAll()
	resp := types.ConsumerListResponse{Consumers: make([]types.ConsumerResponse, len(consumers))}
	for i, c := range consumers {
		resp.Consumers[i] = consumerToResponse(c)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetConsumer handles GET /consumers/{id}.
func (h *Handler) GetConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	consumer, err := h.consumers.Get(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, consumerToResponse(consumer))
}

// DeleteConsumer handles DELETE /consumers/{id}.
func (h *Handler) DeleteConsumer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !h.consumers.Delete(id) {
		writeStoreError(w, fmt.Errorf("%w: consumer %q", eventstore.ErrConsumerNotFound, id))
		return
	}
	writeJSON(w, http.StatusOK, types.MessageResponse{Message: "consumer deleted"})
}

// touchedTopics returns the distinct fully-qualified topic names a publish
// batch wrote to, for waking the dispatchers that subscribe to them.
func touchedTopics(sc scope.Scope, reqs []eventstore.PublishRequest) []string {
	seen := make(map[string]bool, len(reqs))
	out := make([]string, 0, len(reqs))
	for _, req := range reqs {
		qualified := sc.Qualify(req.Topic)
		if !seen[qualified] {
			seen[qualified] = true
			out = append(out, qualified)
		}
	}
	return out
}

func topicToResponse(t eventstore.Topic) types.TopicResponse {
	return types.TopicResponse{Name: t.Name, Sequence: t.Sequence, Schemas: t.Schemas}
}

func eventToResponse(e eventstore.Event) types.EventResponse {
	return types.EventResponse{
		ID:        e.ID,
		Timestamp: e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		Type:      e.Type,
		Payload:   e.Payload,
	}
}

func consumerToResponse(c eventstore.Consumer) types.ConsumerResponse {
	topics := make(map[string]string, len(c.Topics))
	for qt, lastID := range c.Topics {
		_, topic, err := scope.Split(qt)
		if err != nil {
			continue
		}
		topics[qt] = topic + "-" + strconv.FormatUint(lastID, 10)
	}
	return types.ConsumerResponse{ID: c.ID, Callback: c.Callback, Topics: topics}
}

// writeJSON writes a JSON response body with the given status code.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes the {error, code} response shape (spec.md §6.1).
func writeError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: message, Code: code})
}

// writeStoreError maps a sentinel error from the registry, event log,
// validator, or dispatcher package to the {error, code} HTTP response
// (spec.md §7), using the status code StatusHint returns.
func writeStoreError(w http.ResponseWriter, err error) {
	status := eventstore.StatusHint(err)
	writeError(w, status, eventstore.Code(err), err.Error())
}
