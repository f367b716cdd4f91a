package stats

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"neurowalk/internal/model"
)

// Metrics exposes generation progress through a private Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	generations    prometheus.Counter
	episodes       prometheus.Counter
	mutatedScalars prometheus.Counter
	bestFitness    *prometheus.GaugeVec
	meanFitness    *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurowalk_generations_total",
			Help: "Completed generation cycles.",
		}),
		episodes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurowalk_episodes_total",
			Help: "Episodes evaluated across all individuals.",
		}),
		mutatedScalars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "neurowalk_mutated_scalars_total",
			Help: "Biases and weights perturbed while repopulating.",
		}),
		bestFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neurowalk_best_fitness",
			Help: "Champion fitness of the latest generation.",
		}, []string{"run_id"}),
		meanFitness: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "neurowalk_mean_fitness",
			Help: "Mean fitness of the latest generation.",
		}, []string{"run_id"}),
	}
	m.registry.MustRegister(m.generations, m.episodes, m.mutatedScalars, m.bestFitness, m.meanFitness)
	return m
}

func (m *Metrics) ObserveEpisode() {
	m.episodes.Inc()
}

func (m *Metrics) ObserveGeneration(runID string, record model.GenerationRecord) {
	m.generations.Inc()
	m.mutatedScalars.Add(float64(record.MutatedScalars))
	m.bestFitness.WithLabelValues(runID).Set(record.BestFitness)
	m.meanFitness.WithLabelValues(runID).Set(record.MeanFitness)
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
