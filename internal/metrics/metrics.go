package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "eventstream"

type Config struct {
	Addr           string        `mapstructure:"addr"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// Metrics groups every collector of the process. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	eventsProcessed  prometheus.Counter
	processingErrors *prometheus.CounterVec
	deadLetters      prometheus.Counter
	batchDuration    prometheus.Histogram
	consumerLag      prometheus.Gauge
	pendingEntries   prometheus.Gauge

	eventsAccepted prometheus.Counter
	rateLimited    *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		eventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "events_processed_total",
			Help:      "Events persisted by the batch processor.",
		}),
		processingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "processing_errors_total",
			Help:      "Batch processing failures by stage.",
		}, []string{"error_type"}), // fetch | persist | ack
		deadLetters: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "dead_letters_total",
			Help:      "Stream entries dropped because they could not be decoded.",
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "batch_processing_seconds",
			Help:      "Time spent persisting and acknowledging one batch.",
			Buckets:   prometheus.DefBuckets,
		}),
		consumerLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "consumer_group_lag",
			Help:      "Entries the consumer group has not read yet.",
		}),
		pendingEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "pending_entries",
			Help:      "Entries delivered but not acknowledged.",
		}),
		eventsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "events_accepted_total",
			Help:      "Events accepted and published to the stream.",
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by admission control.",
		}, []string{"limiter"}), // plan | ip
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.eventsProcessed,
		m.processingErrors,
		m.deadLetters,
		m.batchDuration,
		m.consumerLag,
		m.pendingEntries,
		m.eventsAccepted,
		m.rateLimited,
	)
	return m
}

func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Gatherer(), promhttp.HandlerOpts{})
}

func (m *Metrics) EventsProcessed(n int) {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(float64(n))
}

func (m *Metrics) ProcessingError(errorType string) {
	if m == nil {
		return
	}
	m.processingErrors.WithLabelValues(errorType).Inc()
}

func (m *Metrics) DeadLetter() {
	if m == nil {
		return
	}
	m.deadLetters.Inc()
}

func (m *Metrics) ObserveBatch(d time.Duration) {
	if m == nil {
		return
	}
	m.batchDuration.Observe(d.Seconds())
}

func (m *Metrics) SetConsumerLag(n int64) {
	if m == nil {
		return
	}
	m.consumerLag.Set(float64(n))
}

func (m *Metrics) SetPendingEntries(n int64) {
	if m == nil {
		return
	}
	m.pendingEntries.Set(float64(n))
}

func (m *Metrics) EventsAccepted(n int) {
	if m == nil {
		return
	}
	m.eventsAccepted.Add(float64(n))
}

func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.rateLimited.WithLabelValues(limiter).Inc()
}
