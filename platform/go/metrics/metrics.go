package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arcims"

// Collector owns the BFF's Prometheus series. It is registered on its own registry so tests
// and multiple servers in one process never collide on the global one.
type Collector struct {
	registry *prometheus.Registry

	activationPolls    *prometheus.CounterVec
	activationOutcomes *prometheus.CounterVec
	activationDuration *prometheus.HistogramVec
	activationSessions prometheus.Gauge

	backendRequests *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec

	webhooks       *prometheus.CounterVec
	nudgesReceived prometheus.Counter
}

// New builds a Collector with process and Go runtime collectors attached.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		activationPolls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activation_polls_total",
				Help:      "Connector status queries issued by activation pollers",
			},
			[]string{"result"},
		),
		activationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "activation_outcomes_total",
				Help:      "Terminal activation outcomes by state and reason",
			},
			[]string{"state", "reason"},
		),
		activationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "activation_duration_seconds",
				Help:      "Time from poller start to terminal state",
				Buckets:   []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"state"},
		),
		activationSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "activation_sessions_active",
			Help:      "Activation pollers currently running",
		}),

		backendRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "backend_requests_total",
				Help:      "Calls to the backend API by operation and status code",
			},
			[]string{"op", "code"},
		),
		backendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backend_request_duration_seconds",
				Help:      "Latency of backend API calls",
				Buckets:   []float64{.025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"op"},
		),

		webhooks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connector_webhooks_total",
				Help:      "Connector webhook deliveries by result",
			},
			[]string{"result"},
		),
		nudgesReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "activation_nudges_total",
			Help:      "Nudges that triggered an early status query",
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

func (c *Collector) PollCompleted(result string) {
	c.activationPolls.WithLabelValues(result).Inc()
}

func (c *Collector) NudgeReceived() {
	c.nudgesReceived.Inc()
}

func (c *Collector) OutcomeRecorded(state, reason string, elapsed time.Duration) {
	c.activationOutcomes.WithLabelValues(state, reason).Inc()
	c.activationDuration.WithLabelValues(state).Observe(elapsed.Seconds())
}

func (c *Collector) SessionStarted() { c.activationSessions.Inc() }

func (c *Collector) SessionEnded() { c.activationSessions.Dec() }

// BackendRequest matches backend.RequestObserver; a zero status is reported as "error".
func (c *Collector) BackendRequest(op string, statusCode int, elapsed time.Duration) {
	code := "error"
	if statusCode > 0 {
		code = strconv.Itoa(statusCode)
	}
	c.backendRequests.WithLabelValues(op, code).Inc()
	c.backendDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (c *Collector) WebhookReceived(result string) {
	c.webhooks.WithLabelValues(result).Inc()
}
