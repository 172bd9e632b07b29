// Package eventlog implements the Event Store write and read paths: an
// append-only, sharded-directory persistence layer for events (spec.md
// §§4.4, 4.5, 6.2).
package eventlog

import (
	"log/slog"
	"time"

	"github.com/riftstore/eventstore/internal/metrics"
	"github.com/riftstore/eventstore/internal/registry"
	"github.com/riftstore/eventstore/internal/validator"
)

// Notifier is the Dispatcher Manager's notification capability as seen from
// the write path. Defined here (rather than imported from the dispatcher
// package) so eventlog and dispatcher don't import one another — the
// dispatcher package implements this interface and is wired in by the
// composition root in cmd/riftstore.
type Notifier interface {
	NotifyPublished(qualifiedTopics []string)
}

// Store is the Event Store: durable event persistence rooted at dataDir,
// backed by a Registry for topic existence/sequence allocation and a
// Validator for payload checks.
type Store struct {
	dataDir   string
	registry  *registry.Registry
	validator *validator.Validator
	notifier  Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithNotifier wires the Dispatcher Manager so that publishBatch's "notify"
// step (spec.md §4.4 step 4) has somewhere to send its wake signal.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithMetrics records publish/read counters and errors on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, used by tests exercising the date filter
// (spec.md §8 scenario S6) without sleeping across a real day boundary.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New returns a Store rooted at dataDir.
func New(dataDir string, reg *registry.Registry, val *validator.Validator, opts ...Option) *Store {
	s := &Store{
		dataDir:   dataDir,
		registry:  reg,
		validator: val,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
