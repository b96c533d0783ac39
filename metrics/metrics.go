package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const Namespace = "relay"

// Metricer records relay request preparation and transmission.
type Metricer interface {
	RecordPrepared(d time.Duration)
	RecordPrepareFailure(code string)
	RecordSubmission(kind string, outcome string, d time.Duration)
	RecordRelayed(endpoint string, status int)
}

// Submission kinds
const (
	KindSingle = "single"
	KindBatch  = "batch"
)

// Submission outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeUnknown   = "unknown"
)

type Metrics struct {
	prepared         prometheus.Counter
	prepareFailures  *prometheus.CounterVec
	prepareDuration  prometheus.Histogram
	submissions      *prometheus.CounterVec
	submitDuration   *prometheus.HistogramVec
	endpointRequests *prometheus.CounterVec
}

var _ Metricer = (*Metrics)(nil)

// NewMetrics registers the relay metrics on reg. A nil reg creates
// unregistered collectors.
func NewMetrics(reg prometheus.Registerer, ns string) *Metrics {
	if ns == "" {
		ns = Namespace
	}
	factory := promauto.With(reg)
	return &Metrics{
		prepared: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "requests_prepared_total",
			Help:      "Number of relay requests prepared and signed",
		}),
		prepareFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "prepare_failures_total",
			Help:      "Number of failed relay request preparations by error code",
		}, []string{"code"}),
		prepareDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "prepare_duration_seconds",
			Help:      "Time to prepare and sign a relay request",
			Buckets:   prometheus.DefBuckets,
		}),
		submissions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "submissions_total",
			Help:      "Number of relay submissions by kind and outcome",
		}, []string{"kind", "outcome"}),
		submitDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "submit_duration_seconds",
			Help:      "Duration of relay submissions",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		endpointRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "endpoint_requests_total",
			Help:      "Requests handled by the relay endpoint by route and status",
		}, []string{"endpoint", "status"}),
	}
}

func (m *Metrics) RecordPrepared(d time.Duration) {
	m.prepared.Inc()
	m.prepareDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordPrepareFailure(code string) {
	if code == "" {
		code = "unknown"
	}
	m.prepareFailures.WithLabelValues(code).Inc()
}

func (m *Metrics) RecordSubmission(kind string, outcome string, d time.Duration) {
	m.submissions.WithLabelValues(kind, outcome).Inc()
	m.submitDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (m *Metrics) RecordRelayed(endpoint string, status int) {
	m.endpointRequests.WithLabelValues(endpoint, statusClass(status)).Inc()
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200 && status < 300:
		return "2xx"
	default:
		return "other"
	}
}

type noopMetrics struct{}

// NoopMetrics discards every measurement.
var NoopMetrics Metricer = noopMetrics{}

func (noopMetrics) RecordPrepared(time.Duration) {}
func (noopMetrics) RecordPrepareFailure(string) {}
func (noopMetrics) RecordSubmission(string, string, time.Duration) {}
func (noopMetrics) RecordRelayed(string, int) {}
