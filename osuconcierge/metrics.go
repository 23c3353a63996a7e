package osuconcierge

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "osuconcierge"

// Metrics holds the bot's prometheus collectors. Each instance has its own
// registry, so multiple bots (ex: in tests) don't collide.
//
// All methods are safe to call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// ActiveMessages tracks currently registered active messages.
	// Labels: kind
	ActiveMessages *prometheus.GaugeVec

	// ActiveMessagesClosed counts closed active messages.
	// Labels: kind, reason (replaced|expired|closed|terminal|admin|shutdown)
	ActiveMessagesClosed *prometheus.CounterVec

	// RoutedEvents counts component and modal events.
	// Labels: kind, result (stale|unauthorized|accepted|invalid|failed)
	RoutedEvents *prometheus.CounterVec

	// RenderErrors counts failed page renders.
	// Labels: kind
	RenderErrors *prometheus.CounterVec

	// Artifacts counts deferred content outcomes.
	// Labels: kind, outcome (displayed|discarded|failed)
	Artifacts *prometheus.CounterVec

	// SweptMessages counts active messages closed by the sweeper
	SweptMessages prometheus.Counter

	// OsuRequests counts osu! API requests.
	// Labels: endpoint, status
	OsuRequests *prometheus.CounterVec

	// OsuRequestDuration measures osu! API latency in seconds.
	// Labels: endpoint
	OsuRequestDuration *prometheus.HistogramVec

	// Commands counts slash command invocations.
	// Labels: command
	Commands *prometheus.CounterVec

	// HTTPRequests counts requests to the API and webhook servers.
	// Labels: server, method, route, status
	HTTPRequests *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveMessages: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "active_messages",
				Help:      "Number of tracked active messages",
			},
			[]string{"kind"},
		),
		ActiveMessagesClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "active_messages_closed_total",
				Help:      "Active messages no longer tracked, by reason",
			},
			[]string{"kind", "reason"},
		),
		RoutedEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "active_message_events_total",
				Help:      "Component and modal events routed to active messages",
			},
			[]string{"kind", "result"},
		),
		RenderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "active_message_render_errors_total",
				Help:      "Failed page renders",
			},
			[]string{"kind"},
		),
		Artifacts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "active_message_artifacts_total",
				Help:      "Deferred page content, by outcome",
			},
			[]string{"kind", "outcome"},
		),
		SweptMessages: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "active_messages_swept_total",
				Help:      "Active messages closed after their TTL",
			},
		),
		OsuRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "osu_requests_total",
				Help:      "osu! API requests",
			},
			[]string{"endpoint", "status"},
		),
		OsuRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "osu_request_duration_seconds",
				Help:      "osu! API request latency",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint"},
		),
		Commands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "commands_total",
				Help:      "Slash command invocations",
			},
			[]string{"command"},
		),
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "http_requests_total",
				Help:      "Requests to the API and webhook servers",
			},
			[]string{"server", "method", "route", "status"},
		),
	}
}

// Handler serves the metrics in the prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) observeRoute(kind string, result RouteResult) {
	if m == nil {
		return
	}
	m.RoutedEvents.WithLabelValues(kind, string(result)).Inc()
}

func (m *Metrics) observeRenderError(kind string) {
	if m == nil {
		return
	}
	m.RenderErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeArtifact(kind string, outcome string) {
	if m == nil {
		return
	}
	m.Artifacts.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) observeSweep(expired int) {
	if m == nil || expired == 0 {
		return
	}
	m.SweptMessages.Add(float64(expired))
}

func (m *Metrics) observeBegin(kind string) {
	if m == nil {
		return
	}
	m.ActiveMessages.WithLabelValues(kind).Inc()
}

func (m *Metrics) observeClose(kind string, reason CloseReason) {
	if m == nil {
		return
	}
	m.ActiveMessages.WithLabelValues(kind).Dec()
	m.ActiveMessagesClosed.WithLabelValues(kind, string(reason)).Inc()
}

func (m *Metrics) observeOsuRequest(endpoint string, status string, seconds float64) {
	if m == nil {
		return
	}
	m.OsuRequests.WithLabelValues(endpoint, status).Inc()
	m.OsuRequestDuration.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) observeCommand(command string) {
	if m == nil {
		return
	}
	m.Commands.WithLabelValues(command).Inc()
}

func (m *Metrics) observeHTTPRequest(server string, method string, route string, status int) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(server, method, route, strconv.Itoa(status)).Inc()
}
