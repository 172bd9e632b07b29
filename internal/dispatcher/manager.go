// Package dispatcher implements the Consumer Registry, the Dispatcher
// Manager, and per-topic Topic Dispatchers: the push half of the pipeline
// that fans published events out to ephemeral webhook/in-process consumers
// (spec.md §§4.6-4.8).
package dispatcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/riftstore/eventstore/internal/eventlog"
	"github.com/riftstore/eventstore/internal/metrics"
)

const (
	// DefaultPollInterval is the Topic Dispatcher's safety-net poll period
	// (spec.md §4.8).
	DefaultPollInterval = 500 * time.Millisecond
	// DefaultBatchSize bounds how many events one delivery attempt carries
	// (spec.md §9's "pick a sensible bound (≤100)").
	DefaultBatchSize = 100
	// DefaultDeliveryTimeout is the HTTP delivery port's per-request timeout
	// (spec.md §4.8).
	DefaultDeliveryTimeout = 30 * time.Second
)

// Manager is the Dispatcher Manager: owns the lifecycle of one Topic
// Dispatcher per qualified topic with a consumer, and implements
// eventlog.Notifier so the write path can wake the right dispatchers after
// a publish.
type Manager struct {
	mu          sync.Mutex
	dispatchers map[string]*TopicDispatcher

	store     *eventlog.Store
	consumers *ConsumerRegistry
	delivery  DeliveryPort
	metrics   *metrics.Metrics
	logger    *slog.Logger

	batchSize       int
	pollInterval    time.Duration
	deliveryTimeout time.Duration
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithBatchSize overrides DefaultBatchSize.
func WithBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithDeliveryTimeout overrides DefaultDeliveryTimeout.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.deliveryTimeout = d
		}
	}
}

// WithDeliveryPort overrides the default HTTP delivery port, used by tests
// to exercise in-process consumers without opening a socket.
func WithDeliveryPort(p DeliveryPort) Option {
	return func(m *Manager) { m.delivery = p }
}

// WithMetrics records dispatcher/delivery counters on m.
func WithMetrics(metricsImpl *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = metricsImpl }
}

// WithLogger overrides the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager backed by store (for reads) and consumers
// (for subscription snapshots and cursor advances).
func NewManager(store *eventlog.Store, consumers *ConsumerRegistry, opts ...Option) *Manager {
	m := &Manager{
		dispatchers:     make(map[string]*TopicDispatcher),
		store:           store,
		consumers:       consumers,
		logger:          slog.Default(),
		batchSize:       DefaultBatchSize,
		pollInterval:    DefaultPollInterval,
		deliveryTimeout: DefaultDeliveryTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.delivery == nil {
		m.delivery = NewHTTPDeliveryPort(m.deliveryTimeout)
	}
	return m
}

// EnsureRunning starts a Topic Dispatcher for each topic in qualifiedTopics
// that doesn't already have one running. Idempotent per topic (spec.md
// §4.7).
func (m *Manager) EnsureRunning(qualifiedTopics []string) {
	for _, qt := range qualifiedTopics {
		m.ensureOne(qt)
	}
}

func (m *Manager) ensureOne(qualifiedTopic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dispatchers[qualifiedTopic]; ok {
		return
	}
	d := newTopicDispatcher(qualifiedTopic, m.store, m.consumers, m.delivery, m.metrics, m.logger, m.batchSize, m.pollInterval, m.deliveryTimeout)
	m.dispatchers[qualifiedTopic] = d
	go d.run()
	if m.metrics != nil {
		m.metrics.UpdateRunningDispatchers(float64(len(m.dispatchers)))
	}
	m.logger.Info("dispatcher started", "topic", qualifiedTopic)
}

// NotifyPublished implements eventlog.Notifier: wakes the dispatcher for
// each topic that has one running. A topic with no subscribed consumers —
// and so no running dispatcher — is a no-op (spec.md §4.7).
func (m *Manager) NotifyPublished(qualifiedTopics []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, qt := range qualifiedTopics {
		if d, ok := m.dispatchers[qt]; ok {
			d.wakeUp()
		}
	}
}

// StopAll signals every running dispatcher to finish its current iteration
// and terminate, then waits for all of them to exit (spec.md §5's graceful
// shutdown).
func (m *Manager) StopAll() {
	m.mu.Lock()
	ds := make([]*TopicDispatcher, 0, len(m.dispatchers))
	for _, d := range m.dispatchers {
		ds = append(ds, d)
	}
	m.dispatchers = make(map[string]*TopicDispatcher)
	m.mu.Unlock()

	for _, d := range ds {
		d.Stop()
	}
}

// RunningDispatchers returns the qualified topic names with an active
// dispatcher, sorted, for GET /health.
func (m *Manager) RunningDispatchers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.dispatchers))
	for qt := range m.dispatchers {
		out = append(out, qt)
	}
	sort.Strings(out)
	return out
}
