package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ReliefMetrics 链上对账相关指标
type ReliefMetrics struct {
	eventsIngested   *prometheus.CounterVec
	decodeFailures   *prometheus.CounterVec
	pollerWatermark  prometheus.Gauge
	pollErrors       prometheus.Counter
	txSubmitted      *prometheus.CounterVec
	underpricedRetry prometheus.Counter
	autoDisburse     *prometheus.CounterVec
}

var (
	reliefOnce     sync.Once
	reliefRegistry *ReliefMetrics
)

// Relief 返回进程级指标单例
func Relief() *ReliefMetrics {
	reliefOnce.Do(func() {
		reliefRegistry = &ReliefMetrics{
			eventsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relief_events_ingested_total",
				Help: "On-chain events handed to the reconciler by kind and outcome.",
			}, []string{"kind", "outcome"}),
			decodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relief_event_decode_failures_total",
				Help: "Logs skipped because they could not be decoded.",
			}, []string{"source"}),
			pollerWatermark: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "relief_poller_watermark_block",
				Help: "Highest block fully processed by the event poller.",
			}),
			pollErrors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relief_poller_errors_total",
				Help: "Poll iterations that failed to read the chain.",
			}),
			txSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relief_tx_submitted_total",
				Help: "Contract transactions submitted by operation and result.",
			}, []string{"operation", "result"}),
			underpricedRetry: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "relief_tx_underpriced_retries_total",
				Help: "Submissions retried after a replacement-underpriced rejection.",
			}),
			autoDisburse: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "relief_auto_disburse_total",
				Help: "Auto-disburse withdrawals triggered by result.",
			}, []string{"result"}),
		}
		prometheus.MustRegister(
			reliefRegistry.eventsIngested,
			reliefRegistry.decodeFailures,
			reliefRegistry.pollerWatermark,
			reliefRegistry.pollErrors,
			reliefRegistry.txSubmitted,
			reliefRegistry.underpricedRetry,
			reliefRegistry.autoDisburse,
		)
	})
	return reliefRegistry
}

func (m *ReliefMetrics) ObserveIngest(kind, outcome string) {
	if m == nil {
		return
	}
	m.eventsIngested.WithLabelValues(kind, outcome).Inc()
}

func (m *ReliefMetrics) ObserveDecodeFailure(source string) {
	if m == nil {
		return
	}
	m.decodeFailures.WithLabelValues(source).Inc()
}

func (m *ReliefMetrics) SetWatermark(block uint64) {
	if m == nil {
		return
	}
	m.pollerWatermark.Set(float64(block))
}

func (m *ReliefMetrics) ObservePollError() {
	if m == nil {
		return
	}
	m.pollErrors.Inc()
}

func (m *ReliefMetrics) ObserveSubmission(operation, result string) {
	if m == nil {
		return
	}
	m.txSubmitted.WithLabelValues(operation, result).Inc()
}

func (m *ReliefMetrics) ObserveUnderpricedRetry() {
	if m == nil {
		return
	}
	m.underpricedRetry.Inc()
}

func (m *ReliefMetrics) ObserveAutoDisburse(result string) {
	if m == nil {
		return
	}
	m.autoDisburse.WithLabelValues(result).Inc()
}
