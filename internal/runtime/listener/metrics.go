package listener

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records listener container activity. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	mu sync.RWMutex

	stats map[string]*ContainerStats

	received          *prometheus.CounterVec
	filtered          *prometheus.CounterVec
	listenerFailures  *prometheus.CounterVec
	handlerFailures   *prometheus.CounterVec
	dispatchDuration  *prometheus.HistogramVec
	runningContainers prometheus.Gauge

	registerer prometheus.Registerer
	registered bool
}

// ContainerStats is the in-process view of one container's counters.
type ContainerStats struct {
	Received         uint64    `json:"received"`
	Filtered         uint64    `json:"filtered"`
	ListenerFailures uint64    `json:"listener_failures"`
	HandlerFailures  uint64    `json:"handler_failures"`
	LastMessageAt    time.Time `json:"last_message_at,omitempty"`
	LastFailureAt    time.Time `json:"last_failure_at,omitempty"`
}

func newContainerCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "natsflow",
			Subsystem: "container",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the collectors. Register must be called before they
// show up on the registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Metrics{
		stats:            make(map[string]*ContainerStats),
		registerer:       registerer,
		received:         newContainerCounterVec("messages_received_total", "Messages delivered to listener containers", []string{"container", "subject"}),
		filtered:         newContainerCounterVec("messages_filtered_total", "Messages discarded by the filter strategy", []string{"container"}),
		listenerFailures: newContainerCounterVec("listener_failures_total", "Listener invocations that returned an error or panicked", []string{"container"}),
		handlerFailures:  newContainerCounterVec("error_handler_failures_total", "Error handler invocations that failed themselves", []string{"container"}),
		dispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "natsflow",
				Subsystem: "container",
				Name:      "dispatch_duration_seconds",
				Help:      "Time spent in the message listener",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"container"},
		),
		runningContainers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "natsflow",
			Subsystem: "container",
			Name:      "running",
			Help:      "Number of running listener containers",
		}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
// When another Metrics already registered the same collectors on the
// registerer, this instance records into those instead.
func (m *Metrics) Register() error {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.received, err = registerCollector(m.registerer, m.received); err != nil {
		return err
	}
	if m.filtered, err = registerCollector(m.registerer, m.filtered); err != nil {
		return err
	}
	if m.listenerFailures, err = registerCollector(m.registerer, m.listenerFailures); err != nil {
		return err
	}
	if m.handlerFailures, err = registerCollector(m.registerer, m.handlerFailures); err != nil {
		return err
	}
	if m.dispatchDuration, err = registerCollector(m.registerer, m.dispatchDuration); err != nil {
		return err
	}
	if m.runningContainers, err = registerCollector(m.registerer, m.runningContainers); err != nil {
		return err
	}

	m.registered = true
	return nil
}

// registerCollector registers c, or returns the collector already
// registered under the same descriptor.
func registerCollector[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return c, err
		}
		existing, ok := are.ExistingCollector.(C)
		if !ok {
			return c, fmt.Errorf("natsflow: collector already registered with type %T", are.ExistingCollector)
		}
		return existing, nil
	}
	return c, nil
}

func (m *Metrics) recordReceived(container, subject string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	s := m.statsFor(container)
	s.Received++
	s.LastMessageAt = time.Now()
	m.mu.Unlock()
	m.received.WithLabelValues(container, subject).Inc()
}

// RecordFiltered counts a message dropped by a filter strategy.
func (m *Metrics) RecordFiltered(container string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.statsFor(container).Filtered++
	m.mu.Unlock()
	m.filtered.WithLabelValues(container).Inc()
}

func (m *Metrics) recordListenerFailure(container string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	s := m.statsFor(container)
	s.ListenerFailures++
	s.LastFailureAt = time.Now()
	m.mu.Unlock()
	m.listenerFailures.WithLabelValues(container).Inc()
}

func (m *Metrics) recordHandlerFailure(container string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.statsFor(container).HandlerFailures++
	m.mu.Unlock()
	m.handlerFailures.WithLabelValues(container).Inc()
}

func (m *Metrics) observeDispatch(container string, d time.Duration) {
	if m == nil {
		return
	}
	m.dispatchDuration.WithLabelValues(container).Observe(d.Seconds())
}

func (m *Metrics) containerStarted() {
	if m != nil {
		m.runningContainers.Inc()
	}
}

func (m *Metrics) containerStopped() {
	if m != nil {
		m.runningContainers.Dec()
	}
}

// Stats returns a copy of the counters for container, or nil if it has
// seen no traffic.
func (m *Metrics) Stats(container string) *ContainerStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.stats[container]; ok {
		c := *s
		return &c
	}
	return nil
}

// Snapshot copies the counters of every container.
func (m *Metrics) Snapshot() map[string]ContainerStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ContainerStats, len(m.stats))
	for id, s := range m.stats {
		out[id] = *s
	}
	return out
}

// Reset clears all metrics (useful for testing).
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stats = make(map[string]*ContainerStats)
	m.received.Reset()
	m.filtered.Reset()
	m.listenerFailures.Reset()
	m.handlerFailures.Reset()
	m.dispatchDuration.Reset()
	m.runningContainers.Set(0)
}

func (m *Metrics) statsFor(container string) *ContainerStats {
	if s, ok := m.stats[container]; ok {
		return s
	}
	s := &ContainerStats{}
	m.stats[container] = s
	return s
}
