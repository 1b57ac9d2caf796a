// Package metrics bundles the Prometheus instruments shared across the
// aggregator, the stores and the indicator engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	TicksTotal          prometheus.Counter
	CandlesClosedTotal  *prometheus.CounterVec // labels: timeframe
	CloseDispatchErrors prometheus.Counter

	StoreFilesSaved   *prometheus.CounterVec // labels: store
	StoreBytesSaved   *prometheus.CounterVec // labels: store
	StoreLoadsTotal   *prometheus.CounterVec // labels: store
	StoreFilesSkipped *prometheus.CounterVec // labels: store
	StoreFilesDeleted *prometheus.CounterVec // labels: store

	IndicatorComputeDur   prometheus.Histogram
	IndicatorSamplesTotal *prometheus.CounterVec // labels: indicator
	IndicatorErrorsTotal  *prometheus.CounterVec // labels: indicator
}

// New registers all instruments with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_ticks_total",
			Help: "Trade ticks ingested.",
		}),
		CandlesClosedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_candles_closed_total",
			Help: "Candles closed per timeframe.",
		}, []string{"timeframe"}),
		CloseDispatchErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "marketcore_close_dispatch_errors_total",
			Help: "Candle-close handler failures (caught, never propagated).",
		}),
		StoreFilesSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_store_files_saved_total",
			Help: "Files written per store.",
		}, []string{"store"}),
		StoreBytesSaved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_store_bytes_saved_total",
			Help: "Compressed bytes written per store.",
		}, []string{"store"}),
		StoreLoadsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_store_loads_total",
			Help: "Load calls served per store.",
		}, []string{"store"}),
		StoreFilesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_store_files_skipped_total",
			Help: "Files skipped on load due to version or corruption.",
		}, []string{"store"}),
		StoreFilesDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_store_files_deleted_total",
			Help: "Files removed by retention sweeps.",
		}, []string{"store"}),
		IndicatorComputeDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "marketcore_indicator_compute_seconds",
			Help:    "Duration of one indicator fan-out round.",
			Buckets: prometheus.DefBuckets,
		}),
		IndicatorSamplesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_indicator_samples_total",
			Help: "Samples produced per indicator.",
		}, []string{"indicator"}),
		IndicatorErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "marketcore_indicator_errors_total",
			Help: "Calculator failures per indicator (isolated).",
		}, []string{"indicator"}),
	}
}
