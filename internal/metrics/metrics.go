// Package metrics holds the Prometheus collectors for risk analysis and
// refresh jobs. Collectors register with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"contrisk/internal/risk"
)

const namespace = "contrisk"

// Analysis modes.
const (
	ModeCached  = "cached"
	ModeRefresh = "refresh"
	ModePreview = "preview"
)

var (
	// Labels: level, mode
	analysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "results_total",
		Help:      "Risk analysis results served, by risk level and mode",
	}, []string{"level", "mode"})

	scores = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "score",
		Help:      "Distribution of computed risk scores",
		Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 85, 100},
	})

	detectorWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "detector_failures_total",
		Help:      "Clause detectors that failed during an analysis",
	})

	// Labels: kind (not_found, invalid_input, unavailable)
	analysisErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "analysis",
		Name:      "errors_total",
		Help:      "Risk analyses that returned an error",
	}, []string{"kind"})

	// Labels: outcome (completed, failed)
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Refresh jobs finished, by outcome",
	}, []string{"outcome"})
)

// ObserveResult records a served result. Scores are only observed for fresh analyses.
func ObserveResult(mode string, res risk.Result) {
	analysesTotal.WithLabelValues(string(res.RiskLevel), mode).Inc()
	if mode == ModeCached {
		return
	}
	scores.Observe(float64(res.Score))
	detectorWarnings.Add(float64(len(res.Warnings)))
}

func ObserveError(kind string) { analysisErrors.WithLabelValues(kind).Inc() }

func ObserveJob(outcome string) { jobsTotal.WithLabelValues(outcome).Inc() }
