package go_oscar

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a MetricsCollector exporting through a
// prometheus registry. All collectors are registered on construction;
// a second PrometheusMetrics on the same registry returns an error
// from prometheus, so long-lived processes should construct one and
// share it.
type PrometheusMetrics struct {
	snacSent      *prometheus.CounterVec
	snacReceived  *prometheus.CounterVec
	messages      *prometheus.CounterVec
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	errors        *prometheus.CounterVec
	state         *prometheus.GaugeVec
}

// NewPrometheusMetrics builds and registers the collector set. A nil
// registerer uses the prometheus default registry.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		snacSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oscar_snacs_sent_total",
			Help: "SNAC frames sent, by foodgroup.",
		}, []string{"foodgroup"}),
		snacReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oscar_snacs_received_total",
			Help: "SNAC frames received, by foodgroup.",
		}, []string{"foodgroup"}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oscar_messages_received_total",
			Help: "Instant messages received, by ICBM channel.",
		}, []string{"channel"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oscar_bytes_sent_total",
			Help: "Bytes written to OSCAR sockets, including FLAP framing.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "oscar_bytes_received_total",
			Help: "Bytes read from OSCAR sockets, including FLAP framing.",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oscar_protocol_errors_total",
			Help: "Protocol errors surfaced to the collaborator layer.",
		}, []string{"kind"}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "oscar_connection_state",
			Help: "1 for the current connection state, 0 otherwise.",
		}, []string{"state"}),
	}
	for _, c := range []prometheus.Collector{
		m.snacSent, m.snacReceived, m.messages,
		m.bytesSent, m.bytesReceived, m.errors, m.state,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("oscar: metrics registration: %w", err)
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) IncrementSNACSent(foodgroup uint16) {
	m.snacSent.WithLabelValues(foodgroupLabel(foodgroup)).Inc()
}

func (m *PrometheusMetrics) IncrementSNACReceived(foodgroup uint16) {
	m.snacReceived.WithLabelValues(foodgroupLabel(foodgroup)).Inc()
}

func (m *PrometheusMetrics) IncrementMessageReceived(channel uint16) {
	m.messages.WithLabelValues(fmt.Sprintf("%d", channel)).Inc()
}

func (m *PrometheusMetrics) AddBytesSent(n uint64)     { m.bytesSent.Add(float64(n)) }
func (m *PrometheusMetrics) AddBytesReceived(n uint64) { m.bytesReceived.Add(float64(n)) }

func (m *PrometheusMetrics) IncrementError(kind string) {
	m.errors.WithLabelValues(kind).Inc()
}

var connectionStates = []string{"disconnected", "connecting", "connected"}

func (m *PrometheusMetrics) SetConnectionState(state string) {
	for _, known := range connectionStates {
		v := 0.0
		if known == state {
			v = 1.0
		}
		m.state.WithLabelValues(known).Set(v)
	}
}
