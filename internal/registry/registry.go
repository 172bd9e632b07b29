// Package registry implements the Topic Registry and Sequence Allocator:
// authoritative topic/schema metadata plus the per-(scope,topic) monotonic
// counter that assigns event ids (spec.md §§4.1, 4.2).
package registry

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
	"github.com/riftstore/eventstore/internal/validator"
)

// topicEntry pairs one topic's metadata with the lock that serializes its
// sequence allocation and schema updates. The sequence counter and the
// schema list share a lock because updateSchemas and getAndIncrementSequence
// both mutate and persist the same config file (spec.md §5: "one lock per
// (scope,topic)").
type topicEntry struct {
	mu    sync.Mutex
	scope scope.Scope
	topic eventstore.Topic
}

// Registry is the Topic Registry: authoritative topic metadata, one entry
// per qualified topic, persisted as one JSON config file each.
type Registry struct {
	// structMu guards the topics map itself (create inserts a key); reads
	// of an existing entry's pointer only need this held briefly, per
	// spec.md §5's "one lock for structural mutations; reads take a shared
	// lock" policy.
	structMu sync.RWMutex
	topics   map[string]*topicEntry // key: scope.Qualify(name)

	configDir string
	validator *validator.Validator
	logger    *slog.Logger
}

// New returns a Registry rooted at configDir. Call LoadAll to populate it
// from existing topic config files before serving traffic.
func New(configDir string, v *validator.Validator, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		topics:    make(map[string]*topicEntry),
		configDir: configDir,
		validator: v,
		logger:    logger,
	}
}

// CreateTopic registers a new topic under sc. Fails ErrTopicAlreadyExists if
// one is already present. schemas must be non-empty, with unique non-empty
// eventTypes and non-empty $schema values (spec.md §4.2).
func (r *Registry) CreateTopic(sc scope.Scope, name string, schemas []eventstore.Schema) error {
	if err := sc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", eventstore.ErrInvalidRequest, err)
	}
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: topic name is empty", eventstore.ErrInvalidRequest)
	}
	if err := validateSchemaSet(schemas); err != nil {
		return err
	}

	qualified := sc.Qualify(name)

	r.structMu.Lock()
	if _, exists := r.topics[qualified]; exists {
		r.structMu.Unlock()
		return fmt.Errorf("%w: topic %q", eventstore.ErrTopicAlreadyExists, name)
	}
	entry := &topicEntry{
		scope: sc,
		topic: eventstore.Topic{Name: name, Sequence: 0, Schemas: schemas},
	}
	r.topics[qualified] = entry
	r.structMu.Unlock()

	if err := r.persist(entry); err != nil {
		// roll back: the topic never existed if we can't durably record it
		r.structMu.Lock()
		delete(r.topics, qualified)
		r.structMu.Unlock()
		return fmt.Errorf("%w: %v", eventstore.ErrInternal, err)
	}

	if err := r.validator.RegisterSchemas(qualified, schemas); err != nil {
		r.logger.Warn("schema compilation failed after topic create", "topic", qualified, "error", err)
	}

	r.logger.Info("topic created", "topic", qualified, "eventTypes", entry.topic.EventTypes())
	return nil
}

// UpdateSchemas applies an additive-only schema update (spec.md §4.2): every
// eventType currently on the topic must still be present in newSchemas.
// Adding eventTypes, or changing the JSON body of an existing one, is
// allowed.
func (r *Registry) UpdateSchemas(sc scope.Scope, name string, newSchemas []eventstore.Schema) error {
	if err := validateSchemaSet(newSchemas); err != nil {
		return err
	}

	entry, err := r.lookup(sc, name)
	if err != nil {
		return err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	existing := make(map[string]bool, len(entry.topic.Schemas))
	for _, s := range entry.topic.Schemas {
		existing[s.EventType()] = true
	}
	for et := range existing {
		found := false
		for _, s := range newSchemas {
			if s.EventType() == et {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: update would remove eventType %q", eventstore.ErrInvalidRequest, et)
		}
	}

	updated := entry.topic
	updated.Schemas = newSchemas

	if err := r.persistLocked(entry.scope, updated); err != nil {
		return fmt.Errorf("%w: %v", eventstore.ErrInternal, err)
	}
	entry.topic = updated

	qualified := sc.Qualify(name)
	if err := r.validator.RegisterSchemas(qualified, newSchemas); err != nil {
		r.logger.Warn("schema compilation failed after update", "topic", qualified, "error", err)
	}
	r.logger.Info("topic schemas updated", "topic", qualified, "eventTypes", updated.EventTypes())
	return nil
}

// GetTopic returns a snapshot of one topic's metadata.
func (r *Registry) GetTopic(sc scope.Scope, name string) (eventstore.Topic, error) {
	entry, err := r.lookup(sc, name)
	if err != nil {
		return eventstore.Topic{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.topic, nil
}

// TopicExists reports whether name is registered under sc.
func (r *Registry) TopicExists(sc scope.Scope, name string) bool {
	_, err := r.lookup(sc, name)
	return err == nil
}

// GetAllTopics returns a snapshot of every topic registered under sc, sorted
// by name for a stable GET /topics response.
func (r *Registry) GetAllTopics(sc scope.Scope) []eventstore.Topic {
	prefix := sc.Tenant + "/" + sc.Namespace + "/"

	r.structMu.RLock()
	matches := make([]*topicEntry, 0, len(r.topics))
	for qualified, entry := range r.topics {
		if strings.HasPrefix(qualified, prefix) {
			matches = append(matches, entry)
		}
	}
	r.structMu.RUnlock()

	out := make([]eventstore.Topic, 0, len(matches))
	for _, entry := range matches {
		entry.mu.Lock()
		out = append(out, entry.topic)
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// GetAndIncrementSequence advances and returns the next sequence value for
// (sc, name). The new counter value is persisted before it is returned, so a
// persistence failure aborts the allocation entirely (spec.md §4.1).
func (r *Registry) GetAndIncrementSequence(sc scope.Scope, name string) (uint64, error) {
	entry, err := r.lookup(sc, name)
	if err != nil {
		return 0, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	next := entry.topic.Sequence + 1
	updated := entry.topic
	updated.Sequence = next

	if err := r.persistLocked(entry.scope, updated); err != nil {
		return 0, fmt.Errorf("%w: failed to persist sequence advance: %v", eventstore.ErrInternal, err)
	}
	entry.topic = updated
	return next, nil
}

func (r *Registry) lookup(sc scope.Scope, name string) (*topicEntry, error) {
	qualified := sc.Qualify(name)
	r.structMu.RLock()
	entry, ok := r.topics[qualified]
	r.structMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: topic %q", eventstore.ErrTopicNotFound, name)
	}
	return entry, nil
}

func validateSchemaSet(schemas []eventstore.Schema) error {
	if len(schemas) == 0 {
		return fmt.Errorf("%w: at least one schema is required", eventstore.ErrInvalidRequest)
	}
	seen := make(map[string]bool, len(schemas))
	for _, s := range schemas {
		if s.EventType() == "" {
			return fmt.Errorf("%w: schema missing eventType", eventstore.ErrInvalidRequest)
		}
		if s.SchemaURI() == "" {
			return fmt.Errorf("%w: schema %q missing $schema", eventstore.ErrInvalidRequest, s.EventType())
		}
		if seen[s.EventType()] {
			return fmt.Errorf("%w: duplicate eventType %q", eventstore.ErrInvalidRequest, s.EventType())
		}
		seen[s.EventType()] = true
	}
	return nil
}
