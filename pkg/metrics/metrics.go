// Package metrics holds the Prometheus collectors of the orchestrator.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collectors groups the run, stage, trigger and generation metrics.
type Collectors struct {
	Runs               *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	Triggers           *prometheus.CounterVec
	GenerationAttempts *prometheus.CounterVec
	StepAttempts       prometheus.Counter
	ActiveRuns         prometheus.Gauge
}

// New creates the collectors and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Collectors {
	c := &Collectors{
		Runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showrunner_runs_total",
				Help: "Finished runs by terminal status",
			},
			[]string{"status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "showrunner_stage_duration_seconds",
				Help:    "Time spent in each run stage",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		),
		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showrunner_triggers_total",
				Help: "Executed demo triggers by outcome",
			},
			[]string{"status"},
		),
		GenerationAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showrunner_generation_attempts_total",
				Help: "Script generation attempts by result",
			},
			[]string{"result"},
		),
		StepAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "showrunner_step_attempts_total",
			Help: "Browser action attempts including retries",
		}),
		ActiveRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "showrunner_active_runs",
			Help: "Runs currently in progress",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.Runs, c.StageDuration, c.Triggers, c.GenerationAttempts, c.StepAttempts, c.ActiveRuns)
	}
	return c
}

// ObserveStage records the time spent in stage.
func (c *Collectors) ObserveStage(stage string, d time.Duration) {
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// GenerationAttempt counts one attempt as accepted or rejected.
func (c *Collectors) GenerationAttempt(err error) {
	result := "accepted"
	if err != nil {
		result = "rejected"
	}
	c.GenerationAttempts.WithLabelValues(result).Inc()
}
