package dispatcher

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/scope"
)

// RegistrationRequest is one consumer registration (spec.md §4.6). Exactly
// one of Callback or InProcess should be set. Topics maps bare topic names,
// interpreted in the caller's scope, to the last event id already delivered
// to this consumer for that topic (0 meaning "from the start").
type RegistrationRequest struct {
	Callback  string
	InProcess eventstore.DeliverFunc
	Topics    map[string]uint64
}

// ConsumerRegistry is the in-memory, ephemeral set of registered consumers
// (spec.md §4.6). Consumers are never persisted and do not survive a
// restart.
type ConsumerRegistry struct {
	mu        sync.RWMutex
	consumers map[string]*eventstore.Consumer // key: consumer id
	registry  *registry.Registry
}

// NewConsumerRegistry returns an empty registry. reg is consulted at
// registration time to reject subscriptions to nonexistent topics.
func NewConsumerRegistry(reg *registry.Registry) *ConsumerRegistry {
	return &ConsumerRegistry{
		consumers: make(map[string]*eventstore.Consumer),
		registry:  reg,
	}
}

// Register validates req against sc and stores a new consumer, returning a
// snapshot of it (with topics already qualified).
func (c *ConsumerRegistry) Register(sc scope.Scope, req RegistrationRequest) (eventstore.Consumer, error) {
	if len(req.Topics) == 0 {
		return eventstore.Consumer{}, fmt.Errorf("%w: registration must subscribe to at least one topic", eventstore.ErrInvalidConsumerRegistration)
	}
	if req.InProcess == nil {
		if strings.TrimSpace(req.Callback) == "" {
			return eventstore.Consumer{}, fmt.Errorf("%w: callback is required", eventstore.ErrInvalidConsumerRegistration)
		}
		u, err := url.Parse(req.Callback)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return eventstore.Consumer{}, fmt.Errorf("%w: callback %q is not an absolute URL", eventstore.ErrInvalidConsumerRegistration, req.Callback)
		}
	}

	qualifiedTopics := make(map[string]uint64, len(req.Topics))
	for name, lastID := range req.Topics {
		if strings.TrimSpace(name) == "" {
			return eventstore.Consumer{}, fmt.Errorf("%w: empty topic name", eventstore.ErrInvalidConsumerRegistration)
		}
		if !c.registry.TopicExists(sc, name) {
			return eventstore.Consumer{}, fmt.Errorf("%w: topic %q", eventstore.ErrTopicNotFound, name)
		}
		qualifiedTopics[sc.Qualify(name)] = lastID
	}

	consumer := eventstore.Consumer{
		ID:        uuid.NewString(),
		Callback:  req.Callback,
		Topics:    qualifiedTopics,
		InProcess: req.InProcess,
	}

	c.mu.Lock()
	c.consumers[consumer.ID] = &consumer
	c.mu.Unlock()

	return snapshot(&consumer), nil
}

// Get returns a snapshot of one consumer by id.
func (c *ConsumerRegistry) Get(id string) (eventstore.Consumer, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	consumer, ok := c.consumers[id]
	if !ok {
		return eventstore.Consumer{}, fmt.Errorf("%w: consumer %q", eventstore.ErrConsumerNotFound, id)
	}
	return snapshot(consumer), nil
}

// FindAll returns a snapshot of every registered consumer, sorted by id for
// a stable GET /consumers response.
func (c *ConsumerRegistry) FindAll() []eventstore.Consumer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]eventstore.Consumer, 0, len(c.consumers))
	for _, consumer := range c.consumers {
		out = append(out, snapshot(consumer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByTopic returns a snapshot of every consumer currently subscribed to
// qualifiedTopic.
func (c *ConsumerRegistry) FindByTopic(qualifiedTopic string) []eventstore.Consumer {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]eventstore.Consumer, 0)
	for _, consumer := range c.consumers {
		if _, ok := consumer.Topics[qualifiedTopic]; ok {
			out = append(out, snapshot(consumer))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Delete removes a consumer, reporting whether it was present.
func (c *ConsumerRegistry) Delete(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.consumers[id]; !ok {
		return false
	}
	delete(c.consumers, id)
	return true
}

// Count returns the number of currently registered consumers.
func (c *ConsumerRegistry) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.consumers)
}

// UpdateCursor advances id's cursor for qualifiedTopic to lastDeliveredID.
// Called only from a Topic Dispatcher's delivery success path (spec.md §9:
// "writes to it occur only from the dispatcher's delivery callback").
func (c *ConsumerRegistry) UpdateCursor(id, qualifiedTopic string, lastDeliveredID uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	consumer, ok := c.consumers[id]
	if !ok {
		return
	}
	consumer.Topics[qualifiedTopic] = lastDeliveredID
}

// snapshot returns a copy of consumer safe to hand to a caller outside the
// registry's lock, including a copy of its Topics map.
func snapshot(consumer *eventstore.Consumer) eventstore.Consumer {
	topics := make(map[string]uint64, len(consumer.Topics))
	for k, v := range consumer.Topics {
		topics[k] = v
	}
	out := *consumer
	out.Topics = topics
	return out
}
