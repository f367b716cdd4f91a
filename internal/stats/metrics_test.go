package stats

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"neurowalk/internal/model"
)

func TestMetricsObserveGeneration(t *testing.T) {
	m := NewMetrics()
	m.ObserveEpisode()
	m.ObserveEpisode()
	m.ObserveGeneration("run-1", model.GenerationRecord{Generation: 1, BestFitness: 4.5, MeanFitness: 2, MutatedScalars: 9})

	if got := testutil.ToFloat64(m.episodes); got != 2 {
		t.Fatalf("unexpected episodes: %f", got)
	}
	if got := testutil.ToFloat64(m.generations); got != 1 {
		t.Fatalf("unexpected generations: %f", got)
	}
	if got := testutil.ToFloat64(m.mutatedScalars); got != 9 {
		t.Fatalf("unexpected mutated scalars: %f", got)
	}
	if got := testutil.ToFloat64(m.bestFitness.WithLabelValues("run-1")); got != 4.5 {
		t.Fatalf("unexpected best fitness: %f", got)
	}
}

func TestMetricsHandlerServesRegistry(t *testing.T) {
	m := NewMetrics()
	m.ObserveGeneration("run-2", model.GenerationRecord{BestFitness: 1})

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `neurowalk_best_fitness{run_id="run-2"} 1`) {
		t.Fatalf("metrics output missing best fitness:\n%s", rec.Body.String())
	}
}
