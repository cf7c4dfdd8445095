// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_errors_total",
			Help: "Handled errors by taxonomy class.",
		},
		[]string{"class"},
	)

	StatusEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_status_events_total",
			Help: "Status events by code.",
		},
		[]string{"code"},
	)

	Recommendations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_recommendations_total",
			Help: "Published recommendations by strategy and side.",
		},
		[]string{"strategy", "side"},
	)

	SuppressedSignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_suppressed_signals_total",
			Help: "Signals withheld by the suppressor, by strategy.",
		},
		[]string{"strategy"},
	)

	StrategySwitches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_strategy_switches_total",
			Help: "Strategy switches by reason.",
		},
		[]string{"reason"},
	)

	RegimeGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "engine_regime_confidence",
			Help: "Latest regime confidence per symbol and regime.",
		},
		[]string{"symbol", "regime"},
	)

	OrdersSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_orders_submitted_total",
			Help: "Orders submitted to the broker, by outcome.",
		},
		[]string{"outcome"},
	)

	EquityGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "engine_equity",
			Help: "Current portfolio value reported by the broker.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ErrorsTotal,
		StatusEvents,
		Recommendations,
		SuppressedSignals,
		StrategySwitches,
		RegimeGauge,
		OrdersSubmitted,
		EquityGauge,
	)
}
