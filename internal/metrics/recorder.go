package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder publishes generation statistics on its own registry. A nil
// Recorder discards everything.
type Recorder struct {
	registry *prometheus.Registry

	generation    *prometheus.GaugeVec
	bestReward    *prometheus.GaugeVec
	meanReward    *prometheus.GaugeVec
	maxComplexity *prometheus.GaugeVec
	evaluations   *prometheus.CounterVec
	mutations     *prometheus.CounterVec
}

func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		generation: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evolution_generation",
			Help: "Last completed generation.",
		}, []string{"run_id"}),
		bestReward: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evolution_best_reward",
			Help: "Best reward of the last evaluated generation.",
		}, []string{"run_id"}),
		meanReward: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evolution_mean_reward",
			Help: "Mean reward of the last evaluated generation.",
		}, []string{"run_id"}),
		maxComplexity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "evolution_max_complexity",
			Help: "Largest node plus edge count in the last evaluated generation.",
		}, []string{"run_id"}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evolution_evaluations_total",
			Help: "Scape evaluations performed.",
		}, []string{"run_id"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "evolution_mutations_total",
			Help: "Structural mutations by kind.",
		}, []string{"run_id", "kind"}),
	}
	r.registry.MustRegister(
		r.generation,
		r.bestReward,
		r.meanReward,
		r.maxComplexity,
		r.evaluations,
		r.mutations,
	)
	return r
}

// Generation is one generation's worth of statistics.
type Generation struct {
	RunID         string
	Generation    int
	BestReward    float64
	MeanReward    float64
	MaxComplexity int
	Evaluations   int
	Mutations     map[string]int
}

func (r *Recorder) ObserveGeneration(g Generation) {
	if r == nil {
		return
	}
	r.generation.WithLabelValues(g.RunID).Set(float64(g.Generation))
	r.bestReward.WithLabelValues(g.RunID).Set(g.BestReward)
	r.meanReward.WithLabelValues(g.RunID).Set(g.MeanReward)
	r.maxComplexity.WithLabelValues(g.RunID).Set(float64(g.MaxComplexity))
	r.evaluations.WithLabelValues(g.RunID).Add(float64(g.Evaluations))
	for kind, count := range g.Mutations {
		if count > 0 {
			r.mutations.WithLabelValues(g.RunID, kind).Add(float64(count))
		}
	}
}

func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// Handler serves the recorder's registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
