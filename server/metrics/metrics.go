package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattermost/mattermost-plugin-crisis-alerts/server/crisis"
)

const namespace = "crisis_alerts"

// Metrics holds the plugin's collectors. Each instance owns its registry, so a
// reactivated plugin never collides with collectors from a previous activation.
type Metrics struct {
	registry *prometheus.Registry

	verifications        *prometheus.CounterVec
	alertsVerified       prometheus.Counter
	alertsCreated        *prometheus.CounterVec
	sosCreated           *prometheus.CounterVec
	sosResponses         prometheus.Counter
	notificationsDropped prometheus.Counter
	rateLimited          *prometheus.CounterVec
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
	sweepRuns            *prometheus.CounterVec
	sweepDuration        prometheus.Histogram
}

// New creates the plugin metrics on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		verifications: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "submissions_total",
			Help:      "Verification submissions by type and outcome",
		}, []string{"type", "outcome"}),
		alertsVerified: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "verification",
			Name:      "alerts_verified_total",
			Help:      "Alerts that crossed the verification threshold",
		}),
		alertsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Alerts submitted by type and severity",
		}, []string{"type", "severity"}),
		sosCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sos",
			Name:      "created_total",
			Help:      "SOS broadcasts raised by priority",
		}, []string{"priority"}),
		sosResponses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sos",
			Name:      "responses_total",
			Help:      "Responses to SOS broadcasts",
		}),
		notificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the delivery queue was full",
		}),
		rateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the rate limiter by category",
		}, []string{"category"}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "API requests by route, method and status code",
		}, []string{"route", "method", "code"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "API request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "runs_total",
			Help:      "Sweeper runs by result",
		}, []string{"result"}),
		sweepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sweeper",
			Name:      "duration_seconds",
			Help:      "Sweeper run duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveVerification counts a verification submission
func (m *Metrics) ObserveVerification(verificationType crisis.VerificationType, outcome string) {
	if verificationType == "" {
		verificationType = "unknown"
	}
	m.verifications.WithLabelValues(string(verificationType), outcome).Inc()
}

// IncAlertsVerified counts an alert crossing into verified
func (m *Metrics) IncAlertsVerified() {
	m.alertsVerified.Inc()
}

// IncAlertCreated counts a new alert
func (m *Metrics) IncAlertCreated(alertType crisis.AlertType, severity crisis.Severity) {
	m.alertsCreated.WithLabelValues(string(alertType), string(severity)).Inc()
}

// IncSOSCreated counts a new SOS broadcast
func (m *Metrics) IncSOSCreated(priority crisis.Priority) {
	m.sosCreated.WithLabelValues(string(priority)).Inc()
}

// IncSOSResponse counts a response to an SOS
func (m *Metrics) IncSOSResponse() {
	m.sosResponses.Inc()
}

// IncNotificationsDropped counts a notification dropped by a full queue
func (m *Metrics) IncNotificationsDropped() {
	m.notificationsDropped.Inc()
}

// IncRateLimited counts a request rejected by the rate limiter
func (m *Metrics) IncRateLimited(category string) {
	m.rateLimited.WithLabelValues(category).Inc()
}

// ObserveRequest records one API request
func (m *Metrics) ObserveRequest(route, method string, code int, elapsed time.Duration) {
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

// ObserveSweep records one sweeper run
func (m *Metrics) ObserveSweep(err error, elapsed time.Duration) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.sweepRuns.WithLabelValues(result).Inc()
	m.sweepDuration.Observe(elapsed.Seconds())
}
