package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 进程内全部指标；由 Runtime 创建并注入，不使用默认全局 registry
type Metrics struct {
	Registry *prometheus.Registry

	ListenerUp         *prometheus.GaugeVec
	ListenerReconnects *prometheus.CounterVec
	ListenerEvents     *prometheus.CounterVec

	BusPublished *prometheus.CounterVec

	SessionsActive *prometheus.GaugeVec
	SessionPushes  *prometheus.CounterVec
	SessionCloses  *prometheus.CounterVec

	ReconcileRuns        *prometheus.CounterVec
	ReconcileFlushed     prometheus.Counter
	ReconcileLastSuccess prometheus.Gauge

	MediaCleanups *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		ListenerUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatwave", Name: "listener_up",
			Help: "1 while the change listener holds a live LISTEN connection.",
		}, []string{"channel"}),
		ListenerReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "listener_reconnects_total",
			Help: "Reconnect attempts per change-notification channel.",
		}, []string{"channel"}),
		ListenerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "listener_events_total",
			Help: "Change notifications received, by handling result.",
		}, []string{"channel", "result"}),
		BusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "bus_published_total",
			Help: "Messages published on the pub/sub bus.",
		}, []string{"topic", "result"}),
		SessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "chatwave", Name: "sessions_active",
			Help: "Live websocket sessions in ACTIVE state.",
		}, []string{"flavor"}),
		SessionPushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "session_pushes_total",
			Help: "Frames pushed to live sessions.",
		}, []string{"flavor", "kind"}),
		SessionCloses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "session_closes_total",
			Help: "Live session closes by close code.",
		}, []string{"flavor", "code"}),
		ReconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "presence_reconcile_runs_total",
			Help: "Presence reconciliation runs by result.",
		}, []string{"result"}),
		ReconcileFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "presence_reconcile_flushed_total",
			Help: "Presence records written to durable storage.",
		}),
		ReconcileLastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chatwave", Name: "presence_reconcile_last_success_seconds",
			Help: "Unix time of the last successful reconciliation.",
		}),
		MediaCleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chatwave", Name: "media_cleanups_total",
			Help: "Orphaned media cleanup attempts by result.",
		}, []string{"kind", "result"}),
	}
	m.Registry.MustRegister(
		m.ListenerUp, m.ListenerReconnects, m.ListenerEvents,
		m.BusPublished,
		m.SessionsActive, m.SessionPushes, m.SessionCloses,
		m.ReconcileRuns, m.ReconcileFlushed, m.ReconcileLastSuccess,
		m.MediaCleanups,
		prometheus.NewGoCollector(),
	)
	return m
}
