// Package metrics exposes Prometheus instrumentation for the coordinator and
// workers. All recording methods are safe on a nil *Metrics.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"photopipe/internal/pipeline"
)

const namespace = "photopipe"

// Metrics owns a private registry and the photopipe collectors.
type Metrics struct {
	registry *prometheus.Registry

	cycles           prometheus.Counter
	cycleDuration    prometheus.Histogram
	decisions        *prometheus.CounterVec
	dispatchFailures *prometheus.CounterVec
	jobs             *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec

	taskOnce sync.Once
}

// New builds the metric set and registers the Go runtime and process
// collectors alongside it.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cycles_total",
			Help:      "Completed coordinator poll cycles.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one coordinator poll cycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "decisions_total",
			Help:      "Per-task coordinator decisions by kind and step.",
		}, []string{"decision", "step"}),
		dispatchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "coordinator",
			Name:      "dispatch_failures_total",
			Help:      "Jobs the coordinator failed to enqueue.",
		}, []string{"kind"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs executed by workers by kind and result.",
		}, []string{"kind", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Job execution time by kind.",
			Buckets:   []float64{0.5, 1, 5, 15, 60, 300, 900, 1800, 3600, 7200},
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycles,
		m.cycleDuration,
		m.decisions,
		m.dispatchFailures,
		m.jobs,
		m.jobDuration,
	)
	return m
}

// Registry returns the registry backing the handler.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCycle records one finished coordinator cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

// Decision counts one coordinator decision.
func (m *Metrics) Decision(decision, step string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(decision, step).Inc()
}

// DispatchFailure counts one job that could not be enqueued.
func (m *Metrics) DispatchFailure(kind string) {
	if m == nil {
		return
	}
	m.dispatchFailures.WithLabelValues(kind).Inc()
}

// JobFinished records one executed job.
func (m *Metrics) JobFinished(kind, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobs.WithLabelValues(kind, result).Inc()
	m.jobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// TaskSource lists the tasks currently tracked.
type TaskSource func(ctx context.Context) ([]pipeline.Task, error)

// RegisterTaskSource adds the photopipe_tasks gauge, computed from source on
// every scrape. Only the first call registers.
func (m *Metrics) RegisterTaskSource(source TaskSource) error {
	if m == nil || source == nil {
		return nil
	}
	var err error
	m.taskOnce.Do(func() {
		err = m.registry.Register(newTaskCollector(source))
	})
	return err
}

type taskCollector struct {
	source  TaskSource
	tasks   *prometheus.Desc
	timeout time.Duration
}

func newTaskCollector(source TaskSource) *taskCollector {
	return &taskCollector{
		source: source,
		tasks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "tasks"),
			"Tracked tasks by current step and in-progress flag.",
			[]string{"step", "in_progress"},
			nil,
		),
		timeout: 5 * time.Second,
	}
}

func (c *taskCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.tasks
}

func (c *taskCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	tasks, err := c.source(ctx)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(c.tasks, err)
		return
	}
	type key struct {
		step       pipeline.StepIndex
		inProgress bool
	}
	counts := make(map[key]int, len(pipeline.Steps)*2)
	for _, task := range tasks {
		counts[key{task.Step, task.StepInProgress}]++
	}
	for _, step := range pipeline.Steps {
		for _, inProgress := range []bool{false, true} {
			ch <- prometheus.MustNewConstMetric(
				c.tasks,
				prometheus.GaugeValue,
				float64(counts[key{step, inProgress}]),
				step.String(), strconv.FormatBool(inProgress),
			)
		}
	}
}
