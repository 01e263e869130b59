// Package metrics exposes node and market activity as Prometheus metrics.
// It observes the same event stream the indexer does, so recording a metric
// can never interfere with transaction execution.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tolelom/tolmarket/events"
)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	blockHeight prometheus.Gauge
	txExecuted  *prometheus.CounterVec
	trades      *prometheus.CounterVec
	tradeVolume *prometheus.CounterVec
	deposits    *prometheus.CounterVec
	payouts     prometheus.Counter
}

// New creates the collectors and subscribes them to emitter.
func New(emitter *events.Emitter) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		blockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tolmarket",
			Name:      "block_height",
			Help:      "Height of the latest committed block.",
		}),
		txExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "tx_executed_total",
			Help:      "Executed transactions by type.",
		}, []string{"type"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "market_trades_total",
			Help:      "Settled market purchases by asset kind.",
		}, []string{"kind"}),
		tradeVolume: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "market_trade_volume_total",
			Help:      "Native currency paid in settled purchases by asset kind.",
		}, []string{"kind"}),
		deposits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "market_deposits_total",
			Help:      "Assets deposited for sale by kind.",
		}, []string{"kind"}),
		payouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tolmarket",
			Name:      "market_payouts_total",
			Help:      "Escrow withdrawals settled.",
		}),
	}
	m.registry.MustRegister(m.blockHeight, m.txExecuted, m.trades, m.tradeVolume, m.deposits, m.payouts)

	emitter.Subscribe(events.EventBlockCommit, m.onBlockCommit)
	emitter.Subscribe(events.EventTxExecuted, m.onTxExecuted)
	emitter.Subscribe(events.EventMarketTrade, m.onTrade)
	emitter.Subscribe(events.EventMarketDeposit, m.onDeposit)
	emitter.Subscribe(events.EventMarketPayout, m.onPayout)
	return m
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) onBlockCommit(ev events.Event) {
	m.blockHeight.Set(float64(ev.BlockHeight))
}

func (m *Metrics) onTxExecuted(ev events.Event) {
	typ, _ := ev.Data["type"].(string)
	m.txExecuted.WithLabelValues(typ).Inc()
}

func (m *Metrics) onTrade(ev events.Event) {
	kind, _ := ev.Data["kind"].(string)
	m.trades.WithLabelValues(kind).Inc()
	if payment, ok := ev.Data["payment"].(uint64); ok {
		m.tradeVolume.WithLabelValues(kind).Add(float64(payment))
	}
}

func (m *Metrics) onDeposit(ev events.Event) {
	kind, _ := ev.Data["kind"].(string)
	m.deposits.WithLabelValues(kind).Inc()
}

func (m *Metrics) onPayout(ev events.Event) {
	m.payouts.Inc()
}
