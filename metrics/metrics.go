// Package metrics exposes job outcomes as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/run-ci/matrix/runner"
)

const (
	MetricsNamespace = "matrix"
)

// Metrics is a runner.Reporter that counts jobs and times steps.
type Metrics struct {
	jobsTotal     *prometheus.CounterVec
	jobFailures   *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	stepDurations *prometheus.HistogramVec
}

// New registers the metrics on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		jobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_total",
			Help:      "Count of finished jobs",
		}, []string{
			"python_version",
			"status",
		}),
		jobFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: MetricsNamespace,
			Name:      "job_failures_total",
			Help:      "Count of failed jobs by failure kind",
		}, []string{
			"python_version",
			"kind",
		}),
		jobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: MetricsNamespace,
			Name:      "jobs_running",
			Help:      "Number of jobs currently running",
		}),
		stepDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of job steps",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{
			"step",
			"result",
		}),
	}
}

// JobStarted is part of the runner.Reporter interface.
func (m *Metrics) JobStarted(job runner.Job) {
	m.jobsRunning.Inc()
}

// StepStarted is part of the runner.Reporter interface.
func (m *Metrics) StepStarted(job runner.Job, st runner.Stage) {}

// StepFinished is part of the runner.Reporter interface.
func (m *Metrics) StepFinished(job runner.Job, sr runner.StepResult) {
	result := "success"
	if !sr.Success() {
		result = "failure"
	}

	m.stepDurations.WithLabelValues(string(sr.Stage), result).
		Observe(sr.End.Sub(sr.Start).Seconds())
}

// JobFinished is part of the runner.Reporter interface.
func (m *Metrics) JobFinished(job runner.Job, res runner.JobResult) {
	m.jobsRunning.Dec()

	version := res.Entry.PythonVersion
	m.jobsTotal.WithLabelValues(version, string(res.Status)).Inc()

	if kind := res.Kind(); kind != "" {
		m.jobFailures.WithLabelValues(version, kind).Inc()
	}
}
