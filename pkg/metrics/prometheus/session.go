// Package prometheus supplies the concrete Prometheus-backed
// implementation of the metrics interfaces declared in pkg/metrics.
package prometheus

import (
	"strconv"
	"time"

	"github.com/ndmpd/ndmpd/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func init() {
	metrics.RegisterSessionMetricsConstructor(newSessionMetrics)
}

// sessionMetrics is the Prometheus implementation of metrics.SessionMetrics.
type sessionMetrics struct {
	opsTotal           *prometheus.CounterVec
	opDuration         *prometheus.HistogramVec
	activeConnections  prometheus.Gauge
	connectionsAccepted *prometheus.CounterVec
	connectionsClosed   *prometheus.CounterVec
	dataStateTransitions *prometheus.CounterVec
	moverStateTransitions *prometheus.CounterVec
	bytesMoved          *prometheus.CounterVec
	mediaChanges        *prometheus.CounterVec
	jobOutcomes         *prometheus.CounterVec
	jobDuration         *prometheus.HistogramVec
}

func newSessionMetrics(reg *prometheus.Registry) metrics.SessionMetrics {
	f := promauto.With(reg)

	return &sessionMetrics{
		opsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_ops_total",
				Help: "Total number of NDMP messages processed, by role, op, and error code",
			},
			[]string{"role", "op", "error_code"},
		),
		opDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ndmpd_op_duration_milliseconds",
				Help:    "Duration of NDMP message handling in milliseconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100, 500, 1000, 5000},
			},
			[]string{"role", "op"},
		),
		activeConnections: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "ndmpd_active_connections",
				Help: "Current number of open control connections",
			},
		),
		connectionsAccepted: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_connections_accepted_total",
				Help: "Total control connections accepted, by role",
			},
			[]string{"role"},
		),
		connectionsClosed: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_connections_closed_total",
				Help: "Total control connections closed, by role",
			},
			[]string{"role"},
		),
		dataStateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_data_state_transitions_total",
				Help: "DATA role state machine transitions, by origin and destination state",
			},
			[]string{"from", "to"},
		),
		moverStateTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_mover_state_transitions_total",
				Help: "MOVER state machine transitions, by origin and destination state",
			},
			[]string{"from", "to"},
		),
		bytesMoved: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_bytes_moved_total",
				Help: "Cumulative bytes moved through the image stream, by mover mode",
			},
			[]string{"mode"},
		),
		mediaChanges: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_media_changes_total",
				Help: "Tape and media-changer operations, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		jobOutcomes: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ndmpd_job_outcomes_total",
				Help: "CONTROL-agent job outcomes, by backup type and outcome",
			},
			[]string{"butype", "outcome"},
		),
		jobDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ndmpd_job_duration_seconds",
				Help:    "Duration of CONTROL-agent jobs in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"butype"},
		),
	}
}

func (m *sessionMetrics) RecordOp(role, op string, duration time.Duration, errorCode int) {
	code := errorCodeLabel(errorCode)
	m.opsTotal.WithLabelValues(role, op, code).Inc()
	m.opDuration.WithLabelValues(role, op).Observe(float64(duration.Microseconds()) / 1000.0)
}

func (m *sessionMetrics) SetActiveConnections(count int32) {
	m.activeConnections.Set(float64(count))
}

func (m *sessionMetrics) RecordConnectionAccepted(role string) {
	m.connectionsAccepted.WithLabelValues(role).Inc()
}

func (m *sessionMetrics) RecordConnectionClosed(role string) {
	m.connectionsClosed.WithLabelValues(role).Inc()
}

func (m *sessionMetrics) RecordDataStateTransition(from, to string) {
	m.dataStateTransitions.WithLabelValues(from, to).Inc()
}

func (m *sessionMetrics) RecordMoverStateTransition(from, to string) {
	m.moverStateTransitions.WithLabelValues(from, to).Inc()
}

func (m *sessionMetrics) RecordBytesMoved(mode string, bytes uint64) {
	m.bytesMoved.WithLabelValues(mode).Add(float64(bytes))
}

func (m *sessionMetrics) RecordMediaChange(operation string, success bool) {
	m.mediaChanges.WithLabelValues(operation, outcomeLabel(success)).Inc()
}

func (m *sessionMetrics) RecordJobOutcome(butype string, success bool, duration time.Duration) {
	m.jobOutcomes.WithLabelValues(butype, outcomeLabel(success)).Inc()
	m.jobDuration.WithLabelValues(butype).Observe(duration.Seconds())
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func errorCodeLabel(code int) string {
	if code == 0 {
		return "NDMP_NO_ERR"
	}
	return strconv.Itoa(code)
}
