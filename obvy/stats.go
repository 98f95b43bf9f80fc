package obvy

/*

	StatsInternal is the Prometheus side of fmdrisk:
	run outcomes and latency, fixed-point passes per step,
	HTTP responses and the expected cost of the last study.
	Each instance carries its own registry, served by Handler.

*/

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type StatsInternal struct {
	Registry     *prometheus.Registry
	Runs         *prometheus.CounterVec // by status: ok, failed
	RunLatency   prometheus.Histogram
	Passes       prometheus.Histogram
	WWW          *prometheus.CounterVec // by code, method
	ExpectedCost *prometheus.GaugeVec   // by model
	Scenarios    *prometheus.GaugeVec   // by model
}

func NewStatsInternal() *StatsInternal {
	s := &StatsInternal{
		Registry: prometheus.NewRegistry(),
		Runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fmdrisk_runs_total",
			Help: "Simulation runs by outcome.",
		}, []string{"status"}),
		RunLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fmdrisk_run_seconds",
			Help:    "Wall time of one simulation run.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
		Passes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "fmdrisk_step_passes",
			Help:    "Propagation passes needed per time step.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		WWW: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fmdrisk_http_responses_total",
			Help: "HTTP responses by status code and method.",
		}, []string{"code", "method"}),
		ExpectedCost: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fmdrisk_expected_cost",
			Help: "Total expected cost of the latest study.",
		}, []string{"model"}),
		Scenarios: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fmdrisk_scenarios",
			Help: "Scenarios aggregated in the latest study.",
		}, []string{"model"}),
	}

	s.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		s.Runs, s.RunLatency, s.Passes, s.WWW, s.ExpectedCost, s.Scenarios,
	)
	return s
}

// RecRun counts one finished run and its latency.
func (s *StatsInternal) RecRun(status string, elapsed time.Duration) {
	s.Runs.WithLabelValues(status).Inc()
	s.RunLatency.Observe(elapsed.Seconds())
}

func (s *StatsInternal) RecIterations(passes int) {
	s.Passes.Observe(float64(passes))
}

func (s *StatsInternal) RecWWW(code, method string) {
	s.WWW.WithLabelValues(code, method).Inc()
}

// RecStudy publishes the outcome of a study.
func (s *StatsInternal) RecStudy(model string, expectedCost float64, scenarios int) {
	s.ExpectedCost.WithLabelValues(model).Set(expectedCost)
	s.Scenarios.WithLabelValues(model).Set(float64(scenarios))
}

func (s *StatsInternal) Handler() http.Handler {
	return promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{Registry: s.Registry})
}
