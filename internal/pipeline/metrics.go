package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Feed outcomes recorded per stage.
const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
	outcomeSkipped = "skipped"
)

// Prometheus metrics for pipeline runs
var (
	// stageDuration measures how long each stage took.
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "airquality_stage_duration_seconds",
		Help:    "Pipeline stage duration in seconds",
		Buckets: []float64{1, 5, 15, 60, 300, 900, 3600},
	}, []string{"stage"})

	// stageRunsTotal counts stage executions by outcome.
	stageRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airquality_stage_runs_total",
		Help: "Total number of pipeline stage executions",
	}, []string{"stage", "outcome"})

	// feedsTotal counts per-feed outcomes by stage.
	feedsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "airquality_feeds_total",
		Help: "Total number of feeds processed per stage and outcome",
	}, []string{"stage", "outcome"})

	// recordsGenerated counts daily statistics records produced by aggregation.
	recordsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airquality_daily_records_generated_total",
		Help: "Total number of daily statistics records generated",
	})

	// pointsImported counts values written to the datastore.
	pointsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "airquality_points_imported_total",
		Help: "Total number of derived channel values imported",
	})

	// lastRunSuccess is the unix time of the last run that completed without error.
	lastRunSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "airquality_last_successful_run_timestamp_seconds",
		Help: "Unix time of the last successful pipeline run",
	})
)
