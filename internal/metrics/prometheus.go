package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type collectors struct {
	triggersTotal   *prometheus.CounterVec
	sendsTotal      *prometheus.CounterVec
	queueTotal      *prometheus.CounterVec
	jobRunsTotal    *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	queueDepth      *prometheus.GaugeVec
	schedulerLeader prometheus.Gauge
}

var collectorsSingleton = sync.OnceValue(func() *collectors {
	return &collectors{
		triggersTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "automation_triggers_total",
			Help:      "Total number of automation trigger matches.",
		}, []string{"trigger_type"}),
		sendsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "gateway_sends_total",
			Help:      "Total number of outbound sends by platform and result.",
		}, []string{"platform", "result"}),
		queueTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "queue_processed_total",
			Help:      "Total number of queued rows finished by the drain job.",
		}, []string{"result"}),
		jobRunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "signalbox",
			Name:      "scheduler_job_runs_total",
			Help:      "Total number of scheduler job runs.",
		}, []string{"job", "result"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "signalbox",
			Name:      "scheduler_job_duration_seconds",
			Help:      "Latency distribution for scheduler jobs.",
			Buckets: []float64{
				0.01, 0.05, 0.1, 0.5,
				1, 5, 10, 30, 60, 120,
			},
		}, []string{"job"}),
		queueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "signalbox",
			Name:      "queue_rows",
			Help:      "Current number of queued rows by status.",
		}, []string{"status"}),
		schedulerLeader: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "signalbox",
			Name:      "scheduler_leader",
			Help:      "Whether this instance ran the last scheduler tick (1/0).",
		}),
	}
})

func get() *collectors {
	return collectorsSingleton()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

// ObserveTrigger counts a trigger match.
func ObserveTrigger(triggerType string) {
	get().triggersTotal.WithLabelValues(triggerType).Inc()
}

// ObserveSend counts one gateway send attempt.
func ObserveSend(platform string, ok bool) {
	get().sendsTotal.WithLabelValues(platform, result(ok)).Inc()
}

// ObserveQueued counts one queued row reaching a terminal status.
func ObserveQueued(status string) {
	get().queueTotal.WithLabelValues(status).Inc()
}

// ObserveJob records a scheduler job run.
func ObserveJob(job string, ok bool, d time.Duration) {
	c := get()
	c.jobRunsTotal.WithLabelValues(job, result(ok)).Inc()
	c.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

// SetQueueDepth publishes per-status queue counts.
func SetQueueDepth(stats map[string]int64) {
	c := get()
	for status, n := range stats {
		c.queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

// SetLeader records whether this process holds the scheduler lock.
func SetLeader(leader bool) {
	v := 0.0
	if leader {
		v = 1
	}
	get().schedulerLeader.Set(v)
}
