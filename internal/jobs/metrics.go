// Package jobmetrics instruments the background jobs.
package jobmetrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the job collectors. A nil *Metrics records nothing.
type Metrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	outbox      *prometheus.CounterVec
	now         func() time.Time
}

// NewMetrics registers the job collectors on registerer. A nil registerer
// yields a nil *Metrics.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		return nil
	}
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hasledger_jobs_total",
			Help: "Job executions by job name and status.",
		}, []string{"job", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hasledger_job_duration_seconds",
			Help:    "Duration of job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "hasledger_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run per job.",
		}, []string{"job"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hasledger_outbox_entries_total",
			Help: "Outbox rows processed by the dispatcher by outcome.",
		}, []string{"outcome"}),
		now: time.Now,
	}
	registerer.MustRegister(m.runs, m.duration, m.lastSuccess, m.outbox)
	return m
}

// Tracker times one job run.
type Tracker struct {
	metrics *Metrics
	job     string
	start   time.Time
}

// Track starts timing job.
func (m *Metrics) Track(job string) *Tracker {
	if m == nil {
		return &Tracker{job: job}
	}
	return &Tracker{metrics: m, job: job, start: m.now()}
}

// End records the outcome of the run and returns err unchanged.
func (t *Tracker) End(err error) error {
	if t == nil || t.metrics == nil {
		return err
	}
	m := t.metrics
	end := m.now()
	m.duration.WithLabelValues(t.job).Observe(end.Sub(t.start).Seconds())
	if err != nil {
		m.runs.WithLabelValues(t.job, "failure").Inc()
		return err
	}
	m.runs.WithLabelValues(t.job, "success").Inc()
	m.lastSuccess.WithLabelValues(t.job).Set(float64(end.Unix()))
	return nil
}

// AddOutbox counts outbox rows by delivery outcome (delivered, retrying, failed).
func (m *Metrics) AddOutbox(outcome string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.outbox.WithLabelValues(outcome).Add(float64(count))
}
