package metrics

import (
	"sync"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
)

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	once           sync.Once
	tapOutcomes    *prom.CounterVec
	syncResults    *prom.CounterVec
	queueRetries   prom.Counter
	confirmLatency prom.Histogram
	queueDepth     prom.Gauge
	modeGauge      *prom.GaugeVec
	onlineGauge    prom.Gauge
}

// NewPrometheusRecorder constructs and registers Prometheus metrics (idempotent).
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{}
	pr.once.Do(func() {
		pr.tapOutcomes = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "taptrack",
			Name:      "tap_outcomes_total",
			Help:      "Tap outcomes by terminal feedback signal",
		}, []string{"outcome"})
		pr.syncResults = prom.NewCounterVec(prom.CounterOpts{
			Namespace: "taptrack",
			Name:      "sync_results_total",
			Help:      "Push attempt results by resolution",
		}, []string{"result"})
		pr.queueRetries = prom.NewCounter(prom.CounterOpts{
			Namespace: "taptrack",
			Name:      "queue_retries_total",
			Help:      "Queue-origin resend attempts",
		})
		pr.confirmLatency = prom.NewHistogram(prom.HistogramOpts{
			Namespace: "taptrack",
			Name:      "confirm_latency_seconds",
			Help:      "Latency from push accept to remote confirmation",
			Buckets:   prom.DefBuckets,
		})
		pr.queueDepth = prom.NewGauge(prom.GaugeOpts{
			Namespace: "taptrack",
			Name:      "queue_depth",
			Help:      "Pending attendance records in the durable queue",
		})
		pr.modeGauge = prom.NewGaugeVec(prom.GaugeOpts{
			Namespace: "taptrack",
			Name:      "mode",
			Help:      "Active connectivity mode (1 for the active mode, 0 otherwise)",
		}, []string{"mode"})
		pr.onlineGauge = prom.NewGauge(prom.GaugeOpts{
			Namespace: "taptrack",
			Name:      "online",
			Help:      "Whether the remote store is currently reachable",
		})
		reg.MustRegister(pr.tapOutcomes, pr.syncResults, pr.queueRetries, pr.confirmLatency, pr.queueDepth, pr.modeGauge, pr.onlineGauge)
	})
	return pr
}

func (p *PrometheusRecorder) IncTapOutcome(outcome string) {
	if p == nil || p.tapOutcomes == nil {
		return
	}
	p.tapOutcomes.WithLabelValues(outcome).Inc()
}

func (p *PrometheusRecorder) IncSyncResult(result SyncResult) {
	if p == nil || p.syncResults == nil {
		return
	}
	p.syncResults.WithLabelValues(string(result)).Inc()
}

func (p *PrometheusRecorder) IncQueueRetry() {
	if p == nil || p.queueRetries == nil {
		return
	}
	p.queueRetries.Inc()
}

func (p *PrometheusRecorder) ObserveConfirmLatency(d time.Duration) {
	if p == nil || p.confirmLatency == nil {
		return
	}
	p.confirmLatency.Observe(d.Seconds())
}

func (p *PrometheusRecorder) SetQueueDepth(n int) {
	if p == nil || p.queueDepth == nil {
		return
	}
	p.queueDepth.Set(float64(n))
}

func (p *PrometheusRecorder) SetMode(mode string) {
	if p == nil || p.modeGauge == nil {
		return
	}
	for _, m := range []string{"auto", "force_online", "force_offline"} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		p.modeGauge.WithLabelValues(m).Set(v)
	}
}

func (p *PrometheusRecorder) SetOnline(online bool) {
	if p == nil || p.onlineGauge == nil {
		return
	}
	if online {
		p.onlineGauge.Set(1)
	} else {
		p.onlineGauge.Set(0)
	}
}
