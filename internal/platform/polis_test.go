package platform

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"testing"

	"evolution/internal/evo"
	"evolution/internal/scape"
	"evolution/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testSupportModule struct {
	name     string
	startErr error
	started  int
	stopped  int
	log      *[]string
}

func (m *testSupportModule) Name() string { return m.name }

func (m *testSupportModule) Start(context.Context) error {
	m.started++
	if m.log != nil {
		*m.log = append(*m.log, "start:"+m.name)
	}
	return m.startErr
}

func (m *testSupportModule) Stop(context.Context) error {
	m.stopped++
	if m.log != nil {
		*m.log = append(*m.log, "stop:"+m.name)
	}
	return nil
}

func newTestPolis(t *testing.T, modules ...SupportModule) *Polis {
	t.Helper()
	p := NewPolis(Config{Store: storage.NewMemoryStore(), SupportModules: modules, Logger: quietLogger()})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { p.Stop(context.Background()) })
	return p
}

func TestPolisInitRequiresStore(t *testing.T) {
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected missing store error")
	}
}

func TestPolisSupportModuleLifecycle(t *testing.T) {
	var calls []string
	a := &testSupportModule{name: "a", log: &calls}
	b := &testSupportModule{name: "b", log: &calls}
	p := newTestPolis(t, a, b)

	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("second init: %v", err)
	}
	if a.started != 1 || b.started != 1 {
		t.Fatalf("expected single start, got a=%d b=%d", a.started, b.started)
	}
	p.Stop(context.Background())
	want := []string{"start:a", "start:b", "stop:b", "stop:a"}
	if !slices.Equal(calls, want) {
		t.Fatalf("unexpected lifecycle: got=%v want=%v", calls, want)
	}
	if p.Started() {
		t.Fatal("expected polis stopped")
	}
}

func TestPolisInitRollsBackOnModuleFailure(t *testing.T) {
	first := &testSupportModule{name: "first"}
	failing := &testSupportModule{name: "failing", startErr: io.ErrUnexpectedEOF}
	p := NewPolis(Config{Store: storage.NewMemoryStore(), SupportModules: []SupportModule{first, failing}, Logger: quietLogger()})

	if err := p.Init(context.Background()); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected start failure, got %v", err)
	}
	if first.stopped != 1 {
		t.Fatalf("expected started module stopped, got %d", first.stopped)
	}
	if p.Started() {
		t.Fatal("polis must not be started after a failed init")
	}

	dup := NewPolis(Config{
		Store:          storage.NewMemoryStore(),
		SupportModules: []SupportModule{&testSupportModule{name: "x"}, &testSupportModule{name: "x"}},
		Logger:         quietLogger(),
	})
	if err := dup.Init(context.Background()); err == nil {
		t.Fatal("expected duplicate module error")
	}
}

func TestPolisScapeRegistry(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore(), Logger: quietLogger()})
	if err := p.RegisterScape(scape.XORScape{}); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	names := p.RegisteredScapes()
	for _, name := range []string{"cart-pole-lite", "duel", "pursuit", "xor"} {
		if !slices.Contains(names, name) {
			t.Fatalf("expected built-in scape %s in %v", name, names)
		}
	}
	if err := p.RegisterScape(scape.XORScape{}); !errors.Is(err, scape.ErrScapeExists) {
		t.Fatalf("expected duplicate scape error, got %v", err)
	}
	if err := p.RegisterScape(nil); err == nil {
		t.Fatal("expected nil scape error")
	}
	if _, ok := p.GetScape("XOR"); !ok {
		t.Fatal("expected case-insensitive lookup")
	}
}

func TestPolisRunControlRequiresActiveRun(t *testing.T) {
	p := newTestPolis(t)
	if err := p.PauseRun("nope"); !errors.Is(err, ErrRunNotActive) {
		t.Fatalf("expected inactive run error, got %v", err)
	}
	if err := p.StopRun(""); err == nil {
		t.Fatal("expected missing id error")
	}

	control := make(chan evo.Command, 1)
	if err := p.registerRunControl("run-1", control); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.registerRunControl("run-1", control); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected active run error, got %v", err)
	}
	if err := p.ContinueRun("run-1"); err != nil {
		t.Fatalf("continue: %v", err)
	}
	if err := p.StopRun("run-1"); err == nil {
		t.Fatal("expected full channel error")
	}
	if got := <-control; got != evo.CommandContinue {
		t.Fatalf("unexpected command: got=%v want=%v", got, evo.CommandContinue)
	}
	if ids := p.ActiveRuns(); len(ids) != 1 || ids[0] != "run-1" {
		t.Fatalf("unexpected active runs: %v", ids)
	}
	p.unregisterRunControl("run-1")
	if ids := p.ActiveRuns(); len(ids) != 0 {
		t.Fatalf("expected no active runs, got %v", ids)
	}
}

func TestPolisResetClearsStore(t *testing.T) {
	p := newTestPolis(t)
	ctx := context.Background()
	if err := p.Store().SaveFitnessHistory(ctx, "run-1", []float64{1}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := p.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, ok, _ := p.Store().GetFitnessHistory(ctx, "run-1"); ok {
		t.Fatal("expected history cleared")
	}
	if err := NewPolis(Config{Store: storage.NewMemoryStore()}).Reset(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}
