// Package metrics exposes Prometheus instrumentation for the exchange:
// trade counters, rejection counters, and market liquidity gauges.
package metrics

import (
	"net/http"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockex/marketd/internal/domain"
)

// Collector holds the Prometheus registry and the exchange metrics. All
// metrics live in a private registry so the /metrics endpoint only reports
// what this process owns.
type Collector struct {
	registry        *prometheus.Registry
	tradesTotal     *prometheus.CounterVec
	rejectionsTotal *prometheus.CounterVec
	tradeDuration   prometheus.Histogram
	marketLiquidity *prometheus.GaugeVec
	wsClients       prometheus.Gauge
}

// NewCollector creates a Collector with a fresh registry.
func NewCollector() *Collector {
	registry := prometheus.NewRegistry()

	return &Collector{
		registry: registry,
		tradesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "marketd_trades_total",
			Help: "Total number of settled trades by direction",
		}, []string{"direction"}),
		rejectionsTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "marketd_trade_rejections_total",
			Help: "Total number of rejected trades by reason",
		}, []string{"reason"}),
		tradeDuration: promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
			Name:    "marketd_trade_duration_seconds",
			Help:    "Time taken to execute a trade end to end",
			Buckets: prometheus.DefBuckets,
		}),
		marketLiquidity: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketd_market_liquidity_tokens",
			Help: "Market account balance in whole tokens by asset",
		}, []string{"asset"}),
		wsClients: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "marketd_ws_clients",
			Help: "Number of connected WebSocket clients",
		}),
	}
}

// RecordTrade counts a settled trade and observes its duration.
func (c *Collector) RecordTrade(direction domain.TradeDirection, duration time.Duration) {
	c.tradesTotal.WithLabelValues(string(direction)).Inc()
	c.tradeDuration.Observe(duration.Seconds())
}

// RecordRejection counts a rejected trade under a stable reason label.
func (c *Collector) RecordRejection(reason string) {
	c.rejectionsTotal.WithLabelValues(reason).Inc()
}

// SetMarketLiquidity updates the liquidity gauge for one asset. The amount is
// reported in whole tokens; sub-token dust is truncated, which is fine for a
// gauge that exists to show liquidity trends.
func (c *Collector) SetMarketLiquidity(asset domain.AssetClass, amount *uint256.Int) {
	if amount == nil {
		c.marketLiquidity.WithLabelValues(string(asset)).Set(0)
		return
	}
	whole := new(uint256.Int).Div(amount, uint256.NewInt(1e18))
	c.marketLiquidity.WithLabelValues(string(asset)).Set(float64(whole.Uint64()))
}

// WSClientConnected increments the connected-clients gauge.
func (c *Collector) WSClientConnected() {
	c.wsClients.Inc()
}

// WSClientDisconnected decrements the connected-clients gauge.
func (c *Collector) WSClientDisconnected() {
	c.wsClients.Dec()
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
