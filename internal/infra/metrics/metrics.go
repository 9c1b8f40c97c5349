package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	EventsProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mbo_events_processed_total", Help: "MBO events processed by action"}, []string{"action"})
	RowsWrittenTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "mbp_rows_written_total", Help: "MBP-10 rows written"})
	BooksCreatedTotal    = prometheus.NewCounter(prometheus.CounterOpts{Name: "books_created_total", Help: "Publisher books created lazily"})

	CancelUnknownTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "cancel_unknown_total", Help: "Cancels for unknown order ids"})
	OverCancelTotal      = prometheus.NewCounter(prometheus.CounterOpts{Name: "over_cancel_total", Help: "Cancels exceeding resting size"})
	DepletionMissTotal   = prometheus.NewCounter(prometheus.CounterOpts{Name: "depletion_miss_total", Help: "Synthetic depletions on missing levels or books"})
	NeutralPendingTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "neutral_pending_total", Help: "T-F-C completions whose pending event had no side"})
	StructuralSkipsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "structural_skips_total", Help: "Events skipped on structural errors in non-strict mode"}, []string{"kind"})

	TfcCompletedTotal     = prometheus.NewCounter(prometheus.CounterOpts{Name: "tfc_completed_total", Help: "Trade-Fill-Cancel sequences completed"})
	PendingEntries        = prometheus.NewGauge(prometheus.GaugeOpts{Name: "pending_tf_entries", Help: "Unconsumed Trade/Fill entries"})
	PendingEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{Name: "pending_tf_evictions_total", Help: "Pending entries evicted by the capacity bound"})

	EventApplySeconds = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "event_apply_seconds", Help: "Per-event dispatch plus row emission latency", Buckets: prometheus.ExponentialBuckets(1e-7, 4, 12)})
)

func Init(logger zerolog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	toRegister := []prometheus.Collector{
		EventsProcessedTotal, RowsWrittenTotal, BooksCreatedTotal,
		CancelUnknownTotal, OverCancelTotal, DepletionMissTotal, NeutralPendingTotal, StructuralSkipsTotal,
		TfcCompletedTotal, PendingEntries, PendingEvictionsTotal,
		EventApplySeconds,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		_ = reg.Register(c)
	}
	logger.Info().Msg("Prometheus metrics initialized")
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
