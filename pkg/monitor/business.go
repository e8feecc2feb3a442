package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// IndexerMetrics 定义索引器业务监控指标
type IndexerMetrics struct {
	EventsEnqueued  *prometheus.CounterVec
	DecodeFailures  *prometheus.CounterVec
	CursorHeight    *prometheus.GaugeVec
	MessagesApplied *prometheus.CounterVec
	ApplyDuration   *prometheus.HistogramVec
	DeadLetters     *prometheus.CounterVec
	Unmatched       prometheus.Counter
	BufferDerived   prometheus.Counter
	RelayPublished  prometheus.Counter
}

// Indexer 全局指标实例，包加载时注册
var Indexer = newIndexerMetrics()

func newIndexerMetrics() *IndexerMetrics {
	return &IndexerMetrics{
		EventsEnqueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_enqueued_total",
			Help: "Decoded chain events handed to the message queue",
		}, []string{"chain", "type"}),
		DecodeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_decode_failures_total",
			Help: "Contract logs skipped because they could not be decoded",
		}, []string{"chain"}),
		CursorHeight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_cursor_block",
			Help: "Last fully enqueued block per chain",
		}, []string{"chain"}),
		MessagesApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_messages_applied_total",
			Help: "Queue messages processed by the applicator, by outcome",
		}, []string{"type", "outcome"}),
		ApplyDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "indexer_apply_duration_seconds",
			Help:    "Latency of applying one queue message",
			Buckets: prometheus.DefBuckets,
		}, []string{"type"}),
		DeadLetters: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_dead_letters_total",
			Help: "Messages routed to the dead-letter path",
		}, []string{"type"}),
		Unmatched: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_unmatched_recovery_ids_total",
			Help: "Registered recovery ids with no expected candidate",
		}),
		BufferDerived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_lookahead_derived_total",
			Help: "Expected state objects derived into look-ahead buffers",
		}),
		RelayPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "indexer_dead_letters_published_total",
			Help: "Dead letters relayed to the external topic",
		}),
	}
}
