package metrics

import "github.com/prometheus/client_golang/prometheus"

// FulfillmentMetrics exposes counters/histograms for webhook turns.
type FulfillmentMetrics struct {
	turnsTotal       *prometheus.CounterVec
	externalFailures *prometheus.CounterVec
	turnLatency      *prometheus.HistogramVec
	replayedTotal    prometheus.Counter
}

func NewFulfillmentMetrics(reg prometheus.Registerer) *FulfillmentMetrics {
	m := &FulfillmentMetrics{
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claims",
			Subsystem: "fulfillment",
			Name:      "turns_total",
			Help:      "Total webhook turns by intent and outcome",
		}, []string{"intent", "status"}),
		externalFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "claims",
			Subsystem: "fulfillment",
			Name:      "external_failures_total",
			Help:      "Failed calls to the CRM, turn log and other collaborators",
		}, []string{"dependency", "operation"}),
		turnLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "claims",
			Subsystem: "fulfillment",
			Name:      "turn_latency_seconds",
			Help:      "Latency of webhook turn handling",
			Buckets:   prometheus.DefBuckets,
		}, []string{"intent"}),
		replayedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "claims",
			Subsystem: "fulfillment",
			Name:      "replayed_responses_total",
			Help:      "Webhook deliveries answered from the response cache",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.turnsTotal, m.externalFailures, m.turnLatency, m.replayedTotal)
	return m
}

func (m *FulfillmentMetrics) ObserveTurn(intent, status string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(intent, status).Inc()
}

func (m *FulfillmentMetrics) ObserveExternalFailure(dependency, operation string) {
	if m == nil {
		return
	}
	m.externalFailures.WithLabelValues(dependency, operation).Inc()
}

func (m *FulfillmentMetrics) ObserveTurnLatency(intent string, seconds float64) {
	if m == nil {
		return
	}
	m.turnLatency.WithLabelValues(intent).Observe(seconds)
}

func (m *FulfillmentMetrics) ObserveReplay() {
	if m == nil {
		return
	}
	m.replayedTotal.Inc()
}
