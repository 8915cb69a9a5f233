package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the signer.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	apduExchangesTotal   *prometheus.CounterVec
	apduExchangeDuration *prometheus.HistogramVec
	transportTimeouts    *prometheus.CounterVec
	lateResponsesDropped *prometheus.CounterVec

	deviceState *prometheus.GaugeVec

	signRequestsTotal *prometheus.CounterVec
	signDuration      *prometheus.HistogramVec
}

// NewMetrics creates the collectors on registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		apduExchangesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "apdu_exchanges_total",
				Help: "Total number of APDU exchanges by transport, instruction and status word",
			},
			[]string{"transport", "ins", "status"},
		),
		apduExchangeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "apdu_exchange_duration_seconds",
				Help:    "Duration of APDU exchanges in seconds, including user confirmation",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
			},
			[]string{"transport"},
		),
		transportTimeouts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transport_timeouts_total",
				Help: "Total number of exchanges that timed out waiting for the device",
			},
			[]string{"transport"},
		),
		lateResponsesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "late_responses_dropped_total",
				Help: "Total number of device responses discarded because their exchange was abandoned",
			},
			[]string{"transport"},
		),
		deviceState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hardware_wallet_state",
				Help: "Current hardware wallet state, 1 for the active state",
			},
			[]string{"state"},
		),
		signRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sign_requests_total",
				Help: "Total number of signing requests by chain, backend and result",
			},
			[]string{"chain", "backend", "result"},
		),
		signDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sign_duration_seconds",
				Help:    "Duration of signing requests in seconds",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 5, 15, 30, 60},
			},
			[]string{"chain", "backend"},
		),
	}
}

func (m *Metrics) RecordExchange(transport string, ins byte, sw uint16, err error, duration float64) {
	if m == nil {
		return
	}
	status := fmt.Sprintf("%04x", sw)
	if err != nil {
		status = "error"
	}
	m.apduExchangesTotal.WithLabelValues(transport, fmt.Sprintf("%02x", ins), status).Inc()
	m.apduExchangeDuration.WithLabelValues(transport).Observe(duration)
}

func (m *Metrics) RecordTimeout(transport string) {
	if m == nil {
		return
	}
	m.transportTimeouts.WithLabelValues(transport).Inc()
}

func (m *Metrics) RecordLateResponse(transport string) {
	if m == nil {
		return
	}
	m.lateResponsesDropped.WithLabelValues(transport).Inc()
}

// RecordState sets the gauge of state to 1 and every other known state to 0.
func (m *Metrics) RecordState(state string, known []string) {
	if m == nil {
		return
	}
	for _, s := range known {
		m.deviceState.WithLabelValues(s).Set(0)
	}
	m.deviceState.WithLabelValues(state).Set(1)
}

func (m *Metrics) RecordSign(chain, backend string, err error, duration float64) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.signRequestsTotal.WithLabelValues(chain, backend, result).Inc()
	m.signDuration.WithLabelValues(chain, backend).Observe(duration)
}
