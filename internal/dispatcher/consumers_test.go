package dispatcher

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg := registry.New(t.TempDir(), validator.New(), nil)
	schema := schemaFromJSON(t, `{
		"eventType": "user.created",
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"properties": {"id": {"type": "string"}},
		"required": ["id"]
	}`)
	require.NoError(t, reg.CreateTopic(scope.Default(), "user-events", []eventstore.Schema{schema}))
	return reg
}

func TestConsumerRegistry_RegisterSuccess(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	consumer, err := c.Register(scope.Default(), RegistrationRequest{
		Callback: "https://example.com/webhook",
		Topics:   map[string]uint64{"user-events": 0},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, consumer.ID)
	assert.Equal(t, uint64(0), consumer.Topics["default/default/user-events"])
	assert.Equal(t, 1, c.Count())
}

func TestConsumerRegistry_RegisterEmptyTopicsRejected(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	_, err := c.Register(scope.Default(), RegistrationRequest{Callback: "https://example.com/webhook"})
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrInvalidConsumerRegistration)
}

func TestConsumerRegistry_RegisterUnknownTopicRejected(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	_, err := c.Register(scope.Default(), RegistrationRequest{
		Callback: "https://example.com/webhook",
		Topics:   map[string]uint64{"nope": 0},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrTopicNotFound)
}

func TestConsumerRegistry_RegisterMalformedCallbackRejected(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	_, err := c.Register(scope.Default(), RegistrationRequest{
		Callback: "not-a-url",
		Topics:   map[string]uint64{"user-events": 0},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrInvalidConsumerRegistration)
}

func TestConsumerRegistry_DeleteAndNotFound(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	consumer, err := c.Register(scope.Default(), RegistrationRequest{
		Callback: "https://example.com/webhook",
		Topics:   map[string]uint64{"user-events": 0},
	})
	require.NoError(t, err)

	assert.True(t, c.Delete(consumer.ID))
	assert.False(t, c.Delete(consumer.ID))

	_, err = c.Get(consumer.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, eventstore.ErrConsumerNotFound)
}

func TestConsumerRegistry_FindByTopicAndUpdateCursor(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	consumer, err := c.Register(scope.Default(), RegistrationRequest{
		Callback: "https://example.com/webhook",
		Topics:   map[string]uint64{"user-events": 0},
	})
	require.NoError(t, err)

	matches := c.FindByTopic("default/default/user-events")
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(0), matches[0].Topics["default/default/user-events"])

	c.UpdateCursor(consumer.ID, "default/default/user-events", 3)

	matches = c.FindByTopic("default/default/user-events")
	require.Len(t, matches, 1)
	assert.Equal(t, uint64(3), matches[0].Topics["default/default/user-events"])

	// the snapshot returned at registration time must not alias the stored map
	assert.Equal(t, uint64(0), consumer.Topics["default/default/user-events"])
}

func TestConsumerRegistry_FindAllSortedByID(t *testing.T) {
	reg := newTestRegistry(t)
	c := NewConsumerRegistry(reg)

	for i := 0; i < 3; i++ {
		_, err := c.Register(scope.Default(), RegistrationRequest{
			Callback: "https://example.com/webhook",
			Topics:   map[string]uint64{"user-events": 0},
		})
		require.NoError(t, err)
	}

	all := c.FindAll()
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.LessOrEqual(t, all[i-1].ID, all[i].ID)
	}
}
