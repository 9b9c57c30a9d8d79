// Package metrics defines the Prometheus instrumentation for the ingestion
// and broadcast pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors shared across the pipeline.
type Metrics struct {
	TicksProcessed   prometheus.Counter
	TicksDropped     prometheus.Counter
	TickPanics       prometheus.Counter
	CandlesFinalized prometheus.Counter
	Broadcasts       prometheus.Counter
	DeliveryFailures prometheus.Counter
	QueueDrops       prometheus.Counter
	Consumers        prometheus.Gauge
}

// New registers and returns the pipeline collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TicksProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_ticks_processed_total",
			Help: "Normalized ticks applied to per-instrument state.",
		}),
		TicksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_ticks_dropped_total",
			Help: "Raw payloads dropped because no instrument or price could be extracted.",
		}),
		TickPanics: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_tick_panics_total",
			Help: "Panics recovered while processing a single tick.",
		}),
		CandlesFinalized: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_candles_finalized_total",
			Help: "Candle buckets finalized on interval rollover.",
		}),
		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_broadcasts_total",
			Help: "Snapshot messages handed to the fanout.",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_delivery_failures_total",
			Help: "Consumer sends that failed or timed out, causing unregistration.",
		}),
		QueueDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "tickstream_queue_drops_total",
			Help: "Buffered payloads dropped because a consumer queue was full.",
		}),
		Consumers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tickstream_consumers",
			Help: "Currently registered broadcast consumers.",
		}),
	}
}
