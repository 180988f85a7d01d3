//go:build sqlite

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"evolution/internal/model"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "evolution.db"))
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestSQLiteStoreRunRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := model.RunRecord{VersionedRecord: Versioned(), ID: "run-b", Scape: "xor", CreatedAt: base, BestNetwork: []byte{4, 5}}
	second := model.RunRecord{VersionedRecord: Versioned(), ID: "run-a", Scape: "duel", CreatedAt: base.Add(time.Second)}
	for _, run := range []model.RunRecord{second, first} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "run-b")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%v err=%v", ok, err)
	}
	if loaded.Scape != "xor" || len(loaded.BestNetwork) != 2 {
		t.Fatalf("unexpected run: %+v", loaded)
	}

	first.Status = model.RunStatusCompleted
	if err := store.SaveRun(ctx, first); err != nil {
		t.Fatalf("update run: %v", err)
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[0].Status != model.RunStatusCompleted {
		t.Fatalf("unexpected runs: %+v", runs)
	}
}

func TestSQLiteStoreSnapshotsAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)

	for _, generation := range []int{3, 9, 6} {
		err := store.SaveSnapshot(ctx, model.PopulationSnapshot{
			VersionedRecord: Versioned(),
			RunID:           "run-1",
			Generation:      generation,
			CreatedAt:       time.Unix(int64(generation), 0).UTC(),
			Payload:         []byte{byte(generation)},
		})
		if err != nil {
			t.Fatalf("save snapshot: %v", err)
		}
	}
	snapshot, ok, err := store.GetLatestSnapshot(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("latest snapshot: ok=%v err=%v", ok, err)
	}
	if snapshot.Generation != 9 || snapshot.Payload[0] != 9 || snapshot.CreatedAt.Unix() != 9 {
		t.Fatalf("unexpected snapshot: %+v", snapshot)
	}

	if err := store.SaveFitnessHistory(ctx, "run-1", []float64{1, 2}); err != nil {
		t.Fatalf("save history: %v", err)
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1")
	if err != nil || !ok || len(history) != 2 || history[1] != 2 {
		t.Fatalf("unexpected history: %v ok=%v err=%v", history, ok, err)
	}

	diagnostics := []model.GenerationDiagnostics{{Generation: 1, BestReward: 2, Evaluations: 8}}
	if err := store.SaveGenerationDiagnostics(ctx, "run-1", diagnostics); err != nil {
		t.Fatalf("save diagnostics: %v", err)
	}
	loaded, ok, err := store.GetGenerationDiagnostics(ctx, "run-1")
	if err != nil || !ok || len(loaded) != 1 || loaded[0].Evaluations != 8 {
		t.Fatalf("unexpected diagnostics: %+v ok=%v err=%v", loaded, ok, err)
	}

	if err := store.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := store.GetLatestSnapshot(ctx, "run-1"); ok {
		t.Fatal("expected snapshots cleared")
	}
}

func TestSQLiteStoreRejectsFutureSnapshotVersion(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteTestStore(t)
	err := store.SaveSnapshot(ctx, model.PopulationSnapshot{
		VersionedRecord: model.VersionedRecord{SchemaVersion: CurrentSchemaVersion + 1, CodecVersion: CurrentCodecVersion},
		RunID:           "run-1",
		Generation:      1,
		Payload:         []byte{0},
	})
	if err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	if _, _, err := store.GetLatestSnapshot(ctx, "run-1"); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func TestSQLiteStoreRequiresInit(t *testing.T) {
	store := NewSQLiteStore(filepath.Join(t.TempDir(), "unused.db"))
	if _, err := store.ListRuns(context.Background()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := NewSQLiteStore("").Init(context.Background()); err == nil {
		t.Fatal("expected path error")
	}
}

func TestNewStoreSQLite(t *testing.T) {
	store, err := NewStore("sqlite", filepath.Join(t.TempDir(), "factory.db"))
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}
