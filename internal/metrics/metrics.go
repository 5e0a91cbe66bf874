package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "fxreport"

// PipelineMetrics holds the batch pipeline collectors on a private registry.
type PipelineMetrics struct {
	registry *prometheus.Registry

	// Stage timings and outcomes
	StageDuration prometheus.HistogramVec
	StageFailures prometheus.CounterVec

	// Whole runs by outcome
	RunsTotal prometheus.CounterVec

	RatesUpserted     prometheus.Counter
	ReportRows        prometheus.Gauge
	LastSuccessfulRun prometheus.Gauge
	LastReportedDate  prometheus.Gauge
	DeliveryFailures  prometheus.Counter
}

// New creates pipeline metrics on a fresh registry.
func New() *PipelineMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &PipelineMetrics{
		registry: reg,
		StageDuration: *factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of pipeline stages",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		StageFailures: *factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Pipeline stage failures",
			},
			[]string{"stage"},
		),
		RunsTotal: *factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_total",
				Help:      "Pipeline runs by mode and status",
			},
			[]string{"mode", "status"},
		),
		RatesUpserted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rates_upserted_total",
			Help:      "Rate records written to the store",
		}),
		ReportRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "report_rows",
			Help:      "Rows in the most recent report",
		}),
		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run",
		}),
		LastReportedDate: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_reported_date_seconds",
			Help:      "Report date of the last successful run as unix time",
		}),
		DeliveryFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Failed report deliveries",
		}),
	}
}

// Registry exposes the underlying registry for scraping.
func (m *PipelineMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records one stage execution.
func (m *PipelineMetrics) ObserveStage(stage string, elapsed time.Duration, err error) {
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if err != nil {
		m.StageFailures.WithLabelValues(stage).Inc()
	}
}

// ObserveRun records a finished run.
func (m *PipelineMetrics) ObserveRun(mode string, date time.Time, err error) {
	status := "succeeded"
	if err != nil {
		status = "failed"
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	if err == nil {
		m.LastSuccessfulRun.SetToCurrentTime()
		if mode == "full" || mode == "report" {
			m.LastReportedDate.Set(float64(date.Unix()))
		}
	}
}

// Push sends the registry to a Pushgateway. Empty url disables pushing.
func (m *PipelineMetrics) Push(ctx context.Context, url, job string) error {
	if url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	if err := push.New(url, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
