package eventlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/riftstore/eventstore/internal/eventstore"
	"github.com/riftstore/eventstore/internal/scope"
)

// PublishBatch implements the Event Store write path (spec.md §4.4):
// pre-validate every event, then allocate ids and persist sequentially.
//
// A validation failure anywhere in the batch rejects the whole batch with
// that failure's error — no ids are allocated and no files are written. An
// I/O failure partway through persistence after ids have started being
// allocated is a hard Internal error; events already written before the
// failure remain visible via the read path, and their sequence numbers are
// permanently consumed (id gaps are permitted — consumers must tolerate
// them).
func (s *Store) PublishBatch(sc scope.Scope, requests []eventstore.PublishRequest) ([]string, error) {
	if len(requests) == 0 {
		if s.metrics != nil {
			s.metrics.RecordPublishError("InvalidRequest")
		}
		return nil, fmt.Errorf("%w: publish batch is empty", eventstore.ErrInvalidRequest)
	}

	qualifiedTopics := make([]string, len(requests))
	for i, req := range requests {
		if strings.TrimSpace(req.Topic) == "" || strings.TrimSpace(req.Type) == "" {
			if s.metrics != nil {
				s.metrics.RecordPublishError("InvalidRequest")
			}
			return nil, fmt.Errorf("%w: event %d is missing topic or type", eventstore.ErrInvalidRequest, i)
		}
		if !s.registry.TopicExists(sc, req.Topic) {
			if s.metrics != nil {
				s.metrics.RecordPublishError("TopicNotFound")
			}
			return nil, fmt.Errorf("%w: event %d references topic %q", eventstore.ErrTopicNotFound, i, req.Topic)
		}
		qualified := sc.Qualify(req.Topic)
		qualifiedTopics[i] = qualified
		if err := s.validator.ValidateEvent(qualified, req.Type, req.Payload); err != nil {
			if s.metrics != nil {
				s.metrics.RecordPublishError(eventstore.Code(err))
			}
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}

	now := s.now()
	ids := make([]string, 0, len(requests))
	touched := make(map[string]bool, len(requests))

	for i, req := range requests {
		seq, err := s.registry.GetAndIncrementSequence(sc, req.Topic)
		if err != nil {
			if s.metrics != nil {
				s.metrics.RecordPublishError("Internal")
			}
			return nil, fmt.Errorf("event %d: %w", i, err)
		}

		id := fmt.Sprintf("%s-%d", req.Topic, seq)
		event := eventstore.Event{ID: id, Timestamp: now, Type: req.Type, Payload: req.Payload}

		if err := s.writeEventFile(sc, req.Topic, seq, event); err != nil {
			s.logger.Error("event persist failed after sequence allocated",
				"topic", req.Topic, "sequence", seq, "error", err)
			if s.metrics != nil {
				s.metrics.RecordPublishError("Internal")
			}
			return nil, fmt.Errorf("%w: event %d (sequence %d already allocated): %v", eventstore.ErrInternal, i, seq, err)
		}

		ids = append(ids, id)
		touched[qualifiedTopics[i]] = true
		if s.metrics != nil {
			s.metrics.RecordPublish(req.Topic, 1)
		}
	}

	if s.notifier != nil && len(touched) > 0 {
		topics := make([]string, 0, len(touched))
		for t := range touched {
			topics = append(topics, t)
		}
		s.notifier.NotifyPublished(topics)
	}

	return ids, nil
}

// writeEventFile persists one event via create-new-exclusive then fsync, so
// the write can never silently overwrite an existing file and the
// allocated id's durability is guaranteed before this call returns
// (spec.md §4.4 step 3).
func (s *Store) writeEventFile(sc scope.Scope, topic string, seq uint64, event eventstore.Event) error {
	path := s.eventPath(sc, topic, seq, event.Timestamp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating event directory: %w", err)
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("creating event file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing event file: %w", err)
	}
	return f.Sync()
}
