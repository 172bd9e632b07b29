package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftstore/eventstore/internal/api/types"
	"github.com/riftstore/eventstore/internal/dispatcher"
	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/scope"
	"github.com/riftstore/eventstore/internal/validator"
)

func schemaFromJSON(t *testing.T, raw string) eventstore.Schema {
	t.Helper()
	var s eventstore.Schema
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func userCreatedSchema(t *testing.T) eventstore.Schema {
	return schemaFromJSON(t, `{
		"eventType": "user.created",
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {"id": {"type": "string"}, "name": {"type": "string"}},
		"required": ["id", "name"]
	}`)
}

func setupTestHandler(t *testing.T) *Handler {
	t.Helper()
	v := validator.New()
	reg := registry.New(t.TempDir(), v, nil)
	consumers := dispatcher.NewConsumerRegistry(reg)
	store := eventlog.New(t.TempDir(), reg, v)
	mgr := dispatcher.NewManager(store, consumers, dispatcher.WithPollInterval(20*time.Millisecond))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(reg, store, consumers, mgr, logger)
}

func doJSON(t *testing.T, r chi.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_HealthCheck(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Get("/health", h.HealthCheck)

	w := doJSON(t, r, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp types.HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "UP", resp.Status)
	assert.Equal(t, 0, resp.Consumers)
	assert.Empty(t, resp.RunningDispatchers)
}

func TestHandler_CreateAndGetTopic(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Get("/topics/{topic}", h.GetTopic)

	w := doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{
		Name:    "user-events",
		Schemas: []eventstore.Schema{userCreatedSchema(t)},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/topics/user-events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.TopicResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "user-events", resp.Name)
	assert.Equal(t, uint64(0), resp.Sequence)
	require.Len(t, resp.Schemas, 1)
	assert.Equal(t, "user.created", resp.Schemas[0].EventType())
}

func TestHandler_CreateTopic_DuplicateRejected(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)

	req := types.CreateTopicRequest{Name: "t", Schemas: []eventstore.Schema{userCreatedSchema(t)}}
	w := doJSON(t, r, http.MethodPost, "/topics", req)
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, r, http.MethodPost, "/topics", req)
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "TopicAlreadyExists", errResp.Code)
}

func TestHandler_ListTopics(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Get("/topics", h.ListTopics)

	bare := `{"eventType":"e","$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`
	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "a", Schemas: []eventstore.Schema{schemaFromJSON(t, bare)}})
	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "b", Schemas: []eventstore.Schema{schemaFromJSON(t, bare)}})

	w := doJSON(t, r, http.MethodGet, "/topics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp types.TopicListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Topics, 2)
	assert.Equal(t, "a", resp.Topics[0].Name)
	assert.Equal(t, "b", resp.Topics[1].Name)
}

func TestHandler_PublishAndGetEvents(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/events", h.PublishEvents)
	r.Get("/topics/{topic}/events", h.GetEvents)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "user-events", Schemas: []eventstore.Schema{userCreatedSchema(t)}})

	w := doJSON(t, r, http.MethodPost, "/events", []types.PublishEventRequest{
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "1", "name": "A"}},
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "2", "name": "B"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pubResp types.PublishResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&pubResp))
	assert.Equal(t, []string{"user-events-1", "user-events-2"}, pubResp.EventIDs)

	w = doJSON(t, r, http.MethodGet, "/topics/user-events/events?sinceEventId=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var eventsResp types.EventListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&eventsResp))
	require.Len(t, eventsResp.Events, 1)
	assert.Equal(t, "user-events-2", eventsResp.Events[0].ID)
}

func TestHandler_GetEvents_LimitZeroIsEmpty(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/events", h.PublishEvents)
	r.Get("/topics/{topic}/events", h.GetEvents)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "user-events", Schemas: []eventstore.Schema{userCreatedSchema(t)}})
	doJSON(t, r, http.MethodPost, "/events", []types.PublishEventRequest{
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "1", "name": "A"}},
	})

	w := doJSON(t, r, http.MethodGet, "/topics/user-events/events?limit=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var eventsResp types.EventListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&eventsResp))
	assert.Empty(t, eventsResp.Events)
}

func TestHandler_GetEvents_InvalidSinceEventIdRejected(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Get("/topics/{topic}/events", h.GetEvents)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "t", Schemas: []eventstore.Schema{userCreatedSchema(t)}})

	w := doJSON(t, r, http.MethodGet, "/topics/t/events?sinceEventId=not-a-number", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_UpdateSchemas_RejectsRemoval(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Put("/topics/{topic}", h.UpdateSchemas)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{
		Name:    "t",
		Schemas: []eventstore.Schema{schemaFromJSON(t, `{"eventType":"a","$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`)},
	})

	w := doJSON(t, r, http.MethodPut, "/topics/t", types.UpdateSchemasRequest{
		Schemas: []eventstore.Schema{schemaFromJSON(t, `{"eventType":"b","$schema":"https://json-schema.org/draft/2020-12/schema","type":"object"}`)},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_RegisterListGetDeleteConsumer(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/consumers/register", h.RegisterConsumer)
	r.Get("/consumers", h.ListConsumers)
	r.Get("/consumers/{id}", h.GetConsumer)
	r.Delete("/consumers/{id}", h.DeleteConsumer)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "user-events", Schemas: []eventstore.Schema{userCreatedSchema(t)}})

	w := doJSON(t, r, http.MethodPost, "/consumers/register", types.RegisterConsumerRequest{
		Callback: "https://example.com/hook",
		Topics:   map[string]*string{"user-events": nil},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var regResp types.RegisterConsumerResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&regResp))
	require.NotEmpty(t, regResp.ConsumerID)

	w = doJSON(t, r, http.MethodGet, "/consumers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listResp types.ConsumerListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	require.Len(t, listResp.Consumers, 1)
	assert.Equal(t, regResp.ConsumerID, listResp.Consumers[0].ID)
	assert.Equal(t, "user-events-0", listResp.Consumers[0].Topics[scope.Default().Qualify("user-events")])

	w = doJSON(t, r, http.MethodGet, "/consumers/"+regResp.ConsumerID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodDelete, "/consumers/"+regResp.ConsumerID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodGet, "/consumers/"+regResp.ConsumerID, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RegisterConsumer_UnknownTopicRejected(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/consumers/register", h.RegisterConsumer)

	w := doJSON(t, r, http.MethodPost, "/consumers/register", types.RegisterConsumerRequest{
		Callback: "https://example.com/hook",
		Topics:   map[string]*string{"nope": nil},
	})
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RegisterConsumer_NonAbsoluteCallbackRejected(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/consumers/register", h.RegisterConsumer)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "t", Schemas: []eventstore.Schema{userCreatedSchema(t)}})

	w := doJSON(t, r, http.MethodPost, "/consumers/register", types.RegisterConsumerRequest{
		Callback: "not-a-url",
		Topics:   map[string]*string{"t": nil},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	var errResp types.ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&errResp))
	assert.Equal(t, "InvalidConsumerRegistration", errResp.Code)
}

func TestHandler_RegisterConsumer_WithLastEventID(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/events", h.PublishEvents)
	r.Post("/consumers/register", h.RegisterConsumer)
	r.Get("/consumers", h.ListConsumers)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "user-events", Schemas: []eventstore.Schema{userCreatedSchema(t)}})
	doJSON(t, r, http.MethodPost, "/events", []types.PublishEventRequest{
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "1", "name": "A"}},
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "2", "name": "B"}},
		{Topic: "user-events", Type: "user.created", Payload: map[string]any{"id": "3", "name": "C"}},
	})

	lastID := "user-events-3"
	w := doJSON(t, r, http.MethodPost, "/consumers/register", types.RegisterConsumerRequest{
		Callback: "https://example.com/hook",
		Topics:   map[string]*string{"user-events": &lastID},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/consumers", nil)
	var listResp types.ConsumerListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&listResp))
	require.Len(t, listResp.Consumers, 1)
	assert.Equal(t, "user-events-3", listResp.Consumers[0].Topics[scope.Default().Qualify("user-events")])
}

func TestHandler_RegisterConsumer_InvalidLastEventIDRejected(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Post("/topics", h.CreateTopic)
	r.Post("/consumers/register", h.RegisterConsumer)

	doJSON(t, r, http.MethodPost, "/topics", types.CreateTopicRequest{Name: "t", Schemas: []eventstore.Schema{userCreatedSchema(t)}})

	bad := "not-an-event-id"
	w := doJSON(t, r, http.MethodPost, "/consumers/register", types.RegisterConsumerRequest{
		Callback: "https://example.com/hook",
		Topics:   map[string]*string{"t": &bad},
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_DeleteConsumer_NotFound(t *testing.T) {
	h := setupTestHandler(t)
	r := chi.NewRouter()
	r.Delete("/consumers/{id}", h.DeleteConsumer)

	w := doJSON(t, r, http.MethodDelete, "/consumers/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
