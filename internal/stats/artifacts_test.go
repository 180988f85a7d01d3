package stats

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"evolution/internal/model"
	"evolution/internal/nn"
)

func newBestNetwork(t *testing.T) *nn.Network {
	t.Helper()
	net, err := nn.NewNetwork(2, 1)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	rng := rand.New(rand.NewSource(5))
	if err := net.Reset(rng); err != nil {
		t.Fatalf("reset: %v", err)
	}
	for i := 0; i < 6; i++ {
		net.Mutate(rng, nn.DefaultMutationWeights())
	}
	net.SetReward(3.5)
	return net
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	base := t.TempDir()
	best := newBestNetwork(t)
	runDir, err := WriteRunArtifacts(base, RunArtifacts{
		Config: RunConfig{
			RunID:          "run-1",
			Scape:          "xor",
			PopulationSize: 8,
			Generations:    3,
			Seed:           42,
			Selection:      "tournament",
		},
		BestByGeneration: []float64{1.5, 2.25, 3.5},
		FinalBestReward:  3.5,
		Diagnostics: []model.GenerationDiagnostics{
			{Generation: 1, BestReward: 1.5, Evaluations: 8},
			{Generation: 2, BestReward: 2.25, Evaluations: 8},
			{Generation: 3, BestReward: 3.5, Evaluations: 8},
		},
		Best: best,
	})
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if runDir != filepath.Join(base, "run-1") {
		t.Fatalf("unexpected run dir: %s", runDir)
	}

	cfg, ok, err := ReadRunConfig(base, "run-1")
	if err != nil || !ok {
		t.Fatalf("read config: ok=%v err=%v", ok, err)
	}
	if cfg.Scape != "xor" || cfg.Seed != 42 {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	series, ok, err := ReadFitnessSeries(base, "run-1")
	if err != nil || !ok {
		t.Fatalf("read series: ok=%v err=%v", ok, err)
	}
	if len(series) != 3 || series[1] != 2.25 {
		t.Fatalf("unexpected series: %v", series)
	}

	diagnostics, ok, err := ReadGenerationDiagnostics(base, "run-1")
	if err != nil || !ok || len(diagnostics) != 3 || diagnostics[2].BestReward != 3.5 {
		t.Fatalf("unexpected diagnostics: %+v ok=%v err=%v", diagnostics, ok, err)
	}

	loaded, ok, err := ReadBestNetwork(base, "run-1")
	if err != nil || !ok {
		t.Fatalf("read best: ok=%v err=%v", ok, err)
	}
	if !loaded.Equal(best) {
		t.Fatal("best network did not survive the round trip")
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".json" && entry.Name() != fitnessSeriesFile && entry.Name() != BestNetworkFile {
			t.Fatalf("unexpected leftover file: %s", entry.Name())
		}
	}

	outDir := t.TempDir()
	exported, err := ExportRunArtifacts(base, "run-1", outDir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, name := range []string{configFile, fitnessHistoryFile, diagnosticsFile, fitnessSeriesFile, BestNetworkFile} {
		if _, err := os.Stat(filepath.Join(exported, name)); err != nil {
			t.Fatalf("expected exported %s: %v", name, err)
		}
	}
}

func TestWriteRunArtifactsWithoutBest(t *testing.T) {
	base := t.TempDir()
	if _, err := WriteRunArtifacts(base, RunArtifacts{Config: RunConfig{RunID: "run-2"}}); err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	if _, ok, err := ReadBestNetwork(base, "run-2"); err != nil || ok {
		t.Fatalf("expected no best network, ok=%v err=%v", ok, err)
	}
	if _, err := ExportRunArtifacts(base, "run-2", t.TempDir()); err != nil {
		t.Fatalf("export without optional files: %v", err)
	}
	if _, err := WriteRunArtifacts(base, RunArtifacts{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestReadNetworkFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.brain")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReadNetworkFile(path); err == nil {
		t.Fatal("expected decode error")
	}

	good := filepath.Join(t.TempDir(), "good.brain")
	best := newBestNetwork(t)
	if err := WriteNetworkFile(good, best); err != nil {
		t.Fatalf("write network: %v", err)
	}
	loaded, err := ReadNetworkFile(good)
	if err != nil {
		t.Fatalf("read network: %v", err)
	}
	if loaded.InputCount() != 2 || loaded.OutputCount() != 1 || !loaded.Equal(best) {
		t.Fatal("unexpected decoded network")
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	base := t.TempDir()

	entries, err := ListRunIndex(base)
	if err != nil {
		t.Fatalf("list empty index: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty index, got %d", len(entries))
	}

	for _, entry := range []RunIndexEntry{
		{RunID: "run-a", Scape: "xor", CreatedAtUTC: "2026-01-01T00:00:00Z", FinalBestReward: 1},
		{RunID: "run-b", Scape: "pursuit", CreatedAtUTC: "2026-01-02T00:00:00Z", FinalBestReward: 2},
	} {
		if err := AppendRunIndex(base, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}

	entries, err = ListRunIndex(base)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "run-b" || entries[1].RunID != "run-a" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	if err := AppendRunIndex(base, RunIndexEntry{RunID: "run-a", Scape: "xor", CreatedAtUTC: "2026-01-03T00:00:00Z", FinalBestReward: 4}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	entries, err = ListRunIndex(base)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(entries) != 2 || entries[0].RunID != "run-a" || entries[0].FinalBestReward != 4 {
		t.Fatalf("unexpected upserted index: %+v", entries)
	}
	if err := AppendRunIndex(base, RunIndexEntry{}); err == nil {
		t.Fatal("expected missing run id error")
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	base := t.TempDir()
	for _, id := range []string{"first", "second"} {
		if err := AppendRunIndex(base, RunIndexEntry{RunID: id, CreatedAtUTC: "2026-01-01T00:00:00Z"}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := ListRunIndex(base)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if entries[0].RunID != "second" {
		t.Fatalf("unexpected tie order: got=%s want=second", entries[0].RunID)
	}
}
