// Package metrics exposes the bot's operational counters in Prometheus
// text exposition format:
//
//	bot_orders_total{side,purpose}  orders accepted by the exchange
//	bot_signals_total{result}       entry signal evaluations (enter|skip)
//	bot_gateway_errors_total{op}    failed exchange calls by operation
//	bot_wallet_balance              last observed wallet balance (gauge)
package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

type Metrics struct {
	registry      *prometheus.Registry
	orders        *prometheus.CounterVec
	signals       *prometheus.CounterVec
	gatewayErrors *prometheus.CounterVec
	walletBalance prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		orders: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_orders_total",
				Help: "Orders accepted by the exchange",
			},
			[]string{"side", "purpose"},
		),
		signals: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_signals_total",
				Help: "Entry signal evaluations",
			},
			[]string{"result"},
		),
		gatewayErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bot_gateway_errors_total",
				Help: "Failed exchange gateway calls",
			},
			[]string{"op"},
		),
		walletBalance: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "bot_wallet_balance",
				Help: "Last observed wallet balance in the quote currency",
			},
		),
	}
	m.registry.MustRegister(m.orders, m.signals, m.gatewayErrors, m.walletBalance)
	return m
}

func (m *Metrics) OrderPlaced(side domain.Side, purpose string) {
	m.orders.WithLabelValues(string(side), purpose).Inc()
}

func (m *Metrics) SignalEvaluated(entered bool) {
	result := "skip"
	if entered {
		result = "enter"
	}
	m.signals.WithLabelValues(result).Inc()
}

func (m *Metrics) GatewayError(op string) {
	m.gatewayErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) WalletBalance(v float64) {
	m.walletBalance.Set(v)
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving /metrics on the given port.
func (m *Metrics) Serve(port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(fmt.Sprintf(":%d", port), mux)
}

// Noop satisfies domain.MetricsRecorder without a registry, for tests
// and for running with metrics disabled.
type Noop struct{}

func (Noop) OrderPlaced(domain.Side, string) {}
func (Noop) SignalEvaluated(bool)            {}
func (Noop) GatewayError(string)             {}
func (Noop) WalletBalance(float64)           {}
