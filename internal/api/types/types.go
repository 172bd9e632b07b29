// Package types provides the HTTP request and response bodies for the event
// store surface (spec.md §6.1).
package types

import "github.com/riftstore/eventstore/internal/eventstore"

// TopicResponse is one topic as returned by GET /topics and GET /topics/{t}.
type TopicResponse struct {
	Name     string              `json:"name"`
	Sequence uint64              `json:"sequence"`
	Schemas  []eventstore.Schema `json:"schemas"`
}

// TopicListResponse is the body of GET /topics.
type TopicListResponse struct {
	Topics []TopicResponse `json:"topics"`
}

// CreateTopicRequest is the body of POST /topics.
type CreateTopicRequest struct {
	Name    string              `json:"name"`
	Schemas []eventstore.Schema `json:"schemas"`
}

// MessageResponse is a bare acknowledgement body, used where the spec names
// only `{message}` as the success payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// UpdateSchemasRequest is the body of PUT /topics/{t}.
type UpdateSchemasRequest struct {
	Schemas []eventstore.Schema `json:"schemas"`
}

// PublishEventRequest is one element of the POST /events array body.
type PublishEventRequest struct {
	Topic   string         `json:"topic"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

// PublishResponse is the body of a successful POST /events.
type PublishResponse struct {
	EventIDs []string `json:"eventIds"`
}

// EventResponse is one event as returned by GET /topics/{t}/events.
type EventResponse struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
}

// EventListResponse is the body of GET /topics/{t}/events.
type EventListResponse struct {
	Events []EventResponse `json:"events"`
}

// RegisterConsumerRequest is the body of POST /consumers/register. A nil or
// absent value in Topics means "from the start"; spec.md §6.1 writes this as
// `topics:{topic:lastEventId|null}`, where lastEventId is a full event id
// such as "user-events-3", matching the `eventIds` shape returned by POST
// /events.
type RegisterConsumerRequest struct {
	Callback string             `json:"callback"`
	Topics   map[string]*string `json:"topics"`
}

// RegisterConsumerResponse is the body of a successful consumer registration.
type RegisterConsumerResponse struct {
	ConsumerID string `json:"consumerId"`
}

// ConsumerResponse is one consumer as returned by GET /consumers and
// GET /consumers/{id}.
type ConsumerResponse struct {
	ID       string            `json:"id"`
	Callback string            `json:"callback,omitempty"`
	Topics   map[string]string `json:"topics"`
}

// ConsumerListResponse is the body of GET /consumers.
type ConsumerListResponse struct {
	Consumers []ConsumerResponse `json:"consumers"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status             string   `json:"status"`
	Consumers          int      `json:"consumers"`
	RunningDispatchers []string `json:"runningDispatchers"`
}

// ErrorResponse is the error body shape used by every endpoint (spec.md
// §6.1: "Error body shape: {error:string, code:string}").
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
