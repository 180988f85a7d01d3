package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"evolution/internal/model"
)

func newInitializedMemoryStore(t *testing.T) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.SaveRun(ctx, model.RunRecord{ID: "run-1"}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if _, _, err := store.GetFitnessHistory(ctx, "run-1"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := store.Reset(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestMemoryStoreRunsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-c", "run-a", "run-b"} {
		run := model.RunRecord{VersionedRecord: Versioned(), ID: id, CreatedAt: base.Add(time.Duration(2-i) * time.Minute)}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	got := []string{runs[0].ID, runs[1].ID, runs[2].ID}
	want := []string{"run-b", "run-a", "run-c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected order: got=%v want=%v", got, want)
		}
	}

	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%v err=%v", ok, err)
	}
}

func TestMemoryStoreCopiesPayloads(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	best := []byte{1, 2, 3}
	if err := store.SaveRun(ctx, model.RunRecord{ID: "run-1", BestNetwork: best}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	best[0] = 9

	run, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if run.BestNetwork[0] != 1 {
		t.Fatalf("stored payload aliased caller slice: %v", run.BestNetwork)
	}
	run.BestNetwork[1] = 9
	again, _, _ := store.GetRun(ctx, "run-1")
	if again.BestNetwork[1] != 2 {
		t.Fatalf("returned payload aliased stored slice: %v", again.BestNetwork)
	}
}

func TestMemoryStoreLatestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	for _, generation := range []int{5, 10, 7} {
		snapshot := model.PopulationSnapshot{
			VersionedRecord: Versioned(),
			RunID:           "run-1",
			Generation:      generation,
			Payload:         []byte{byte(generation)},
		}
		if err := store.SaveSnapshot(ctx, snapshot); err != nil {
			t.Fatalf("save snapshot: %v", err)
		}
	}

	snapshot, ok, err := store.GetLatestSnapshot(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get snapshot: ok=%v err=%v", ok, err)
	}
	if snapshot.Generation != 10 || snapshot.Payload[0] != 10 {
		t.Fatalf("unexpected latest snapshot: generation=%d payload=%v", snapshot.Generation, snapshot.Payload)
	}
	if _, ok, _ := store.GetLatestSnapshot(ctx, "run-2"); ok {
		t.Fatal("expected no snapshot for unknown run")
	}
}

func TestMemoryStoreFitnessHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := []float64{0.1, 0.2, 0.3}
	if err := store.SaveFitnessHistory(ctx, "run-1", input); err != nil {
		t.Fatalf("save history: %v", err)
	}
	output, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted fitness history")
	}
	if len(output) != len(input) || output[2] != input[2] {
		t.Fatalf("unexpected history: %+v", output)
	}
}

func TestMemoryStoreGenerationDiagnosticsRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	input := []model.GenerationDiagnostics{
		{Generation: 1, BestReward: 0.8, MeanReward: 0.6, MinReward: 0.2, Evaluations: 4, SplitEdge: 1},
		{Generation: 2, BestReward: 0.9, MeanReward: 0.7, MinReward: 0.3, Evaluations: 4, AddEdge: 2},
	}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", input); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	output, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil {
		t.Fatalf("get diagnostics: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted diagnostics")
	}
	if len(output) != 2 || output[1].AddEdge != 2 || output[0].BestReward != 0.8 {
		t.Fatalf("unexpected diagnostics: %+v", output)
	}
}

func TestMemoryStoreReset(t *testing.T) {
	ctx := context.Background()
	store := newInitializedMemoryStore(t)

	if err := store.SaveRun(ctx, model.RunRecord{ID: "run-1"}); err != nil {
		t.Fatalf("save run: %v", err)
	}
	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs after reset, got %d", len(runs))
	}
	if _, ok, _ := store.GetFitnessHistory(ctx, "run-1"); ok {
		t.Fatal("expected history cleared")
	}
}
