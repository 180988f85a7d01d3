package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderObserveGeneration(t *testing.T) {
	r := NewRecorder()
	r.ObserveGeneration(Generation{
		RunID:         "run-1",
		Generation:    3,
		BestReward:    2.5,
		MeanReward:    1.25,
		MaxComplexity: 12,
		Evaluations:   16,
		Mutations:     map[string]int{"split_edge": 4, "add_edge": 0},
	})
	r.ObserveGeneration(Generation{RunID: "run-1", Generation: 4, Evaluations: 16, Mutations: map[string]int{"split_edge": 1}})

	if got := testutil.ToFloat64(r.generation.WithLabelValues("run-1")); got != 4 {
		t.Fatalf("unexpected generation gauge: got=%f want=4", got)
	}
	if got := testutil.ToFloat64(r.evaluations.WithLabelValues("run-1")); got != 32 {
		t.Fatalf("unexpected evaluations counter: got=%f want=32", got)
	}
	if got := testutil.ToFloat64(r.mutations.WithLabelValues("run-1", "split_edge")); got != 5 {
		t.Fatalf("unexpected mutation counter: got=%f want=5", got)
	}
	if got := testutil.CollectAndCount(r.mutations); got != 1 {
		t.Fatalf("expected zero counts to be skipped, got %d series", got)
	}
}

func TestRecorderHandlerServesMetrics(t *testing.T) {
	r := NewRecorder()
	r.ObserveGeneration(Generation{RunID: "run-2", Generation: 1, BestReward: 3})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), `evolution_best_reward{run_id="run-2"} 3`) {
		t.Fatalf("expected best reward sample in output:\n%s", body)
	}
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	r.ObserveGeneration(Generation{RunID: "x"})
	if r.Registry() != nil {
		t.Fatal("expected nil registry")
	}
	if r.Handler() == nil {
		t.Fatal("expected a handler")
	}
}
