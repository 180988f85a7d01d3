package platform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"evolution/internal/evo"
	"evolution/internal/metrics"
	"evolution/internal/model"
	"evolution/internal/nn"
	"evolution/internal/scape"
	"evolution/internal/storage"
)

var (
	ErrNotInitialized  = errors.New("polis is not initialized")
	ErrRunActive       = errors.New("run already active")
	ErrRunNotActive    = errors.New("run not active")
	ErrSnapshotMissing = errors.New("no population snapshot")
)

type Config struct {
	Store storage.Store
	// Scapes defaults to the built-in registry.
	Scapes         *scape.Registry
	SupportModules []SupportModule
	Logger         *slog.Logger
	Metrics        *metrics.Recorder
	// Now defaults to time.Now.
	Now func() time.Time
}

// SupportModule is a service started with the polis and stopped with it.
type SupportModule interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type EvolutionConfig struct {
	// RunID defaults to a random UUID.
	RunID string
	// ContinueRunID resumes from the latest snapshot of that run. The new
	// run keeps counting generations and inherits its fitness history.
	ContinueRunID  string
	ScapeName      string
	Ticks          int
	PopulationSize int
	Generations    int
	Workers        int
	Seed           int64
	Paired         bool
	Step           evo.StepConfig
	Postprocessor  evo.RewardPostprocessor
	FitnessGoal    *float64
	// SnapshotEvery saves the population every N generations. Zero saves
	// only at the end of the run.
	SnapshotEvery int
	Control       chan evo.Command
}

type EvolutionResult struct {
	Run              model.RunRecord
	BestByGeneration []float64
	Diagnostics      []model.GenerationDiagnostics
	Best             *nn.Network
	Population       *evo.Population
	// StartGeneration is the generation a continued run resumed after.
	StartGeneration int
	GoalReached     bool
}

type Polis struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	now     func() time.Time

	mu             sync.RWMutex
	scapes         *scape.Registry
	modules        []SupportModule
	supportModules map[string]SupportModule
	started        bool
	runs           map[string]chan evo.Command
}

func NewPolis(cfg Config) *Polis {
	registry := cfg.Scapes
	if registry == nil {
		registry = scape.DefaultRegistry()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Polis{
		store:          cfg.Store,
		logger:         logger,
		metrics:        cfg.Metrics,
		now:            now,
		scapes:         registry,
		modules:        append([]SupportModule(nil), cfg.SupportModules...),
		supportModules: make(map[string]SupportModule),
		runs:           make(map[string]chan evo.Command),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}

	started := make([]SupportModule, 0, len(p.modules))
	for i, module := range p.modules {
		if module == nil {
			stopSupportModules(ctx, started)
			p.supportModules = make(map[string]SupportModule)
			return fmt.Errorf("support module is nil at index %d", i)
		}
		name := module.Name()
		if _, exists := p.supportModules[name]; exists || name == "" {
			stopSupportModules(ctx, started)
			p.supportModules = make(map[string]SupportModule)
			return fmt.Errorf("invalid or duplicate support module name %q at index %d", name, i)
		}
		if err := module.Start(ctx); err != nil {
			stopSupportModules(ctx, started)
			p.supportModules = make(map[string]SupportModule)
			return fmt.Errorf("start support module %s: %w", name, err)
		}
		p.supportModules[name] = module
		started = append(started, module)
	}

	p.started = true
	p.logger.Debug("polis started", "support_modules", len(started))
	return nil
}

// Reset stops active runs and drops every stored record.
func (p *Polis) Reset(ctx context.Context) error {
	p.mu.RLock()
	started := p.started
	p.mu.RUnlock()
	if !started {
		return ErrNotInitialized
	}
	p.stopRuns()
	if err := p.store.Reset(ctx); err != nil {
		return err
	}
	p.logger.Info("store reset")
	return nil
}

// Stop signals active runs to stop and shuts down support modules.
func (p *Polis) Stop(ctx context.Context) {
	p.stopRuns()

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	for i := len(p.modules) - 1; i >= 0; i-- {
		if module, ok := p.supportModules[p.modules[i].Name()]; ok {
			_ = module.Stop(ctx)
		}
	}
	p.supportModules = make(map[string]SupportModule)
	p.started = false
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) Store() storage.Store {
	return p.store
}

func (p *Polis) RegisterScape(s scape.Scape) error {
	if s == nil {
		return fmt.Errorf("scape is nil")
	}
	if !p.Started() {
		return ErrNotInitialized
	}
	return p.scapes.Register(s)
}

func (p *Polis) GetScape(name string) (scape.Scape, bool) {
	s, err := p.scapes.Get(name)
	return s, err == nil
}

func (p *Polis) RegisteredScapes() []string {
	return p.scapes.List()
}

// RunEvolution evolves a population on the named scape and persists the run,
// its history and population snapshots. A stopped run is persisted with
// status stopped and returns no error.
func (p *Polis) RunEvolution(ctx context.Context, cfg EvolutionConfig) (EvolutionResult, error) {
	if !p.Started() {
		return EvolutionResult{}, ErrNotInitialized
	}
	if cfg.ScapeName == "" {
		return EvolutionResult{}, fmt.Errorf("scape name is required")
	}
	if cfg.Generations <= 0 {
		return EvolutionResult{}, fmt.Errorf("generations must be > 0")
	}
	if cfg.SnapshotEvery < 0 {
		return EvolutionResult{}, fmt.Errorf("snapshot interval must be >= 0")
	}
	if err := cfg.Step.Validate(); err != nil {
		return EvolutionResult{}, err
	}
	target, err := p.scapes.Get(cfg.ScapeName)
	if err != nil {
		return EvolutionResult{}, err
	}
	target = withTicks(target, cfg.Ticks)

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	control := cfg.Control
	if control == nil {
		control = make(chan evo.Command, 16)
	}
	if err := p.registerRunControl(runID, control); err != nil {
		return EvolutionResult{}, err
	}
	defer p.unregisterRunControl(runID)

	rng := rand.New(rand.NewSource(cfg.Seed))
	inputs, outputs := target.Arity()
	pop, prior, err := p.initialPopulation(ctx, cfg, rng, inputs, outputs)
	if err != nil {
		return EvolutionResult{}, err
	}

	now := p.now().UTC()
	run := model.RunRecord{
		VersionedRecord: storage.Versioned(),
		ID:              runID,
		ContinuedFrom:   cfg.ContinueRunID,
		Scape:           target.Name(),
		Selection:       string(cfg.Step.Selection),
		Seed:            cfg.Seed,
		PopulationSize:  pop.Len(),
		Inputs:          inputs,
		Outputs:         outputs,
		Generations:     prior.generation,
		BestReward:      prior.bestReward,
		Status:          model.RunStatusRunning,
		CreatedAt:       now,
		UpdatedAt:       now,
		BestNetwork:     prior.bestNetwork,
	}
	if err := p.store.SaveRun(ctx, run); err != nil {
		return EvolutionResult{}, fmt.Errorf("save run %s: %w", runID, err)
	}
	logger := p.logger.With("run_id", runID, "scape", target.Name())
	logger.Info("run started",
		"population", pop.Len(),
		"generations", cfg.Generations,
		"start_generation", prior.generation,
		"continued_from", cfg.ContinueRunID,
	)

	result := EvolutionResult{
		BestByGeneration: prior.history,
		Diagnostics:      prior.diagnostics,
		StartGeneration:  prior.generation,
		Best:             prior.best,
		Population:       pop,
	}

	generation := prior.generation
	remaining := cfg.Generations
	stopped := false
	var runErr error
	for remaining > 0 {
		chunk := remaining
		if cfg.SnapshotEvery > 0 && cfg.SnapshotEvery < chunk {
			chunk = cfg.SnapshotEvery
		}
		evolver, err := evo.NewEvolver(evo.EvolverConfig{
			Scape:           target,
			Generations:     chunk,
			Workers:         cfg.Workers,
			Seed:            rng.Int63(),
			Paired:          cfg.Paired,
			Step:            cfg.Step,
			Postprocessor:   cfg.Postprocessor,
			FitnessGoal:     cfg.FitnessGoal,
			StartGeneration: generation,
			RunID:           runID,
			Logger:          p.logger,
			Metrics:         p.metrics,
			Control:         control,
		})
		if err != nil {
			runErr = err
			break
		}
		chunkResult, err := evolver.Run(ctx, pop)
		generation += chunkResult.Generations
		remaining -= chunkResult.Generations
		result.BestByGeneration = append(result.BestByGeneration, chunkResult.BestByGeneration...)
		result.Diagnostics = append(result.Diagnostics, toModelDiagnostics(chunkResult.Diagnostics)...)
		if chunkResult.Best != nil && (result.Best == nil || chunkResult.Best.Reward() > result.Best.Reward()) {
			result.Best = chunkResult.Best
		}
		if err != nil {
			runErr = err
			break
		}
		if chunkResult.Generations > 0 {
			if err := p.saveSnapshot(ctx, runID, generation, pop); err != nil {
				runErr = err
				break
			}
		}
		if chunkResult.Stopped {
			stopped = true
			break
		}
		if chunkResult.GoalReached {
			result.GoalReached = true
			break
		}
	}

	run.Generations = generation
	run.UpdatedAt = p.now().UTC()
	run.Status = model.RunStatusCompleted
	if stopped {
		run.Status = model.RunStatusStopped
	}
	if result.Best != nil {
		run.BestReward = float64(result.Best.Reward())
		data, err := result.Best.MarshalBinary()
		if err != nil && runErr == nil {
			runErr = fmt.Errorf("encode best network: %w", err)
		}
		run.BestNetwork = data
	}
	if runErr != nil {
		run.Status = model.RunStatusFailed
		run.Error = runErr.Error()
	}
	// Persist even when ctx is canceled, so the run record is not left running.
	persistCtx := context.WithoutCancel(ctx)
	if err := p.persistHistory(persistCtx, runID, result); err != nil && runErr == nil {
		runErr = err
	}
	if err := p.store.SaveRun(persistCtx, run); err != nil && runErr == nil {
		runErr = fmt.Errorf("save run %s: %w", runID, err)
	}
	result.Run = run
	if runErr != nil {
		logger.Error("run failed", "generation", generation, "error", runErr)
		return result, runErr
	}
	logger.Info("run finished", "status", run.Status, "generations", generation, "best_reward", run.BestReward)
	return result, nil
}

type priorRun struct {
	generation  int
	bestReward  float64
	bestNetwork []byte
	best        *nn.Network
	history     []float64
	diagnostics []model.GenerationDiagnostics
}

// initialPopulation builds a fresh population or restores the latest snapshot
// of the continued run.
func (p *Polis) initialPopulation(ctx context.Context, cfg EvolutionConfig, rng *rand.Rand, inputs, outputs int) (*evo.Population, priorRun, error) {
	if cfg.ContinueRunID == "" {
		if cfg.PopulationSize <= 0 {
			return nil, priorRun{}, fmt.Errorf("population size must be > 0")
		}
		pop := evo.NewPopulation(cfg.PopulationSize)
		if err := pop.ResetAll(rng, inputs, outputs); err != nil {
			return nil, priorRun{}, err
		}
		return pop, priorRun{}, nil
	}

	snapshot, ok, err := p.store.GetLatestSnapshot(ctx, cfg.ContinueRunID)
	if err != nil {
		return nil, priorRun{}, err
	}
	if !ok {
		return nil, priorRun{}, fmt.Errorf("%w for run %s", ErrSnapshotMissing, cfg.ContinueRunID)
	}
	// A zero size adopts the stored roster size.
	pop := evo.NewPopulation(max(cfg.PopulationSize, 0))
	if err := pop.UnmarshalBinary(snapshot.Payload); err != nil {
		return nil, priorRun{}, fmt.Errorf("restore run %s generation %d: %w", cfg.ContinueRunID, snapshot.Generation, err)
	}
	if in, out := pop.Arity(); in != inputs || out != outputs {
		return nil, priorRun{}, fmt.Errorf("%w: run %s is %d/%d, scape %s needs %d/%d",
			nn.ErrArityMismatch, cfg.ContinueRunID, in, out, cfg.ScapeName, inputs, outputs)
	}

	prior := priorRun{generation: snapshot.Generation}
	history, ok, err := p.store.GetFitnessHistory(ctx, cfg.ContinueRunID)
	if err != nil {
		return nil, priorRun{}, err
	}
	if ok {
		prior.history = history[:min(len(history), snapshot.Generation)]
	}
	diagnostics, ok, err := p.store.GetGenerationDiagnostics(ctx, cfg.ContinueRunID)
	if err != nil {
		return nil, priorRun{}, err
	}
	if ok {
		prior.diagnostics = diagnostics[:min(len(diagnostics), snapshot.Generation)]
	}
	previous, ok, err := p.store.GetRun(ctx, cfg.ContinueRunID)
	if err != nil {
		return nil, priorRun{}, err
	}
	if ok && len(previous.BestNetwork) > 0 {
		best, err := nn.NewNetwork(inputs, outputs)
		if err != nil {
			return nil, priorRun{}, err
		}
		if err := best.UnmarshalBinary(previous.BestNetwork); err != nil {
			return nil, priorRun{}, fmt.Errorf("restore best network of run %s: %w", cfg.ContinueRunID, err)
		}
		best.SetReward(float32(previous.BestReward))
		prior.best = best
		prior.bestReward = previous.BestReward
		prior.bestNetwork = previous.BestNetwork
	}
	return pop, prior, nil
}

func (p *Polis) saveSnapshot(ctx context.Context, runID string, generation int, pop *evo.Population) error {
	payload, err := pop.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode population: %w", err)
	}
	err = p.store.SaveSnapshot(ctx, model.PopulationSnapshot{
		VersionedRecord: storage.Versioned(),
		RunID:           runID,
		Generation:      generation,
		CreatedAt:       p.now().UTC(),
		Payload:         payload,
	})
	if err != nil {
		return fmt.Errorf("save snapshot %s/%d: %w", runID, generation, err)
	}
	p.logger.Debug("snapshot saved", "run_id", runID, "generation", generation, "bytes", len(payload))
	return nil
}

func (p *Polis) persistHistory(ctx context.Context, runID string, result EvolutionResult) error {
	history := result.BestByGeneration
	if history == nil {
		history = []float64{}
	}
	if err := p.store.SaveFitnessHistory(ctx, runID, history); err != nil {
		return fmt.Errorf("save fitness history %s: %w", runID, err)
	}
	diagnostics := result.Diagnostics
	if diagnostics == nil {
		diagnostics = []model.GenerationDiagnostics{}
	}
	if err := p.store.SaveGenerationDiagnostics(ctx, runID, diagnostics); err != nil {
		return fmt.Errorf("save generation diagnostics %s: %w", runID, err)
	}
	return nil
}

func toModelDiagnostics(diags []evo.GenerationDiagnostics) []model.GenerationDiagnostics {
	out := make([]model.GenerationDiagnostics, 0, len(diags))
	for _, d := range diags {
		out = append(out, model.GenerationDiagnostics{
			Generation:       d.Generation,
			BestReward:       d.BestReward,
			MeanReward:       d.MeanReward,
			MinReward:        d.MinReward,
			BestComplexity:   d.BestComplexity,
			MaxComplexity:    d.MaxComplexity,
			MeanComplexity:   d.MeanComplexity,
			MeanHidden:       d.MeanHidden,
			Evaluations:      d.Evaluations,
			SplitEdge:        d.Mutations.SplitEdge,
			AddEdge:          d.Mutations.AddEdge,
			ChangeActivation: d.Mutations.ChangeActivation,
		})
	}
	return out
}

// withTicks rebuilds the built-in timed scapes with a tick budget.
func withTicks(s scape.Scape, ticks int) scape.Scape {
	if ticks <= 0 {
		return s
	}
	switch typed := s.(type) {
	case scape.PursuitScape:
		cfg := typed.Config()
		cfg.Ticks = ticks
		return scape.NewPursuitScape(cfg)
	case scape.DuelScape:
		cfg := typed.Config()
		cfg.Ticks = ticks
		return scape.NewDuelScape(cfg)
	default:
		return s
	}
}

func (p *Polis) PauseRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandPause)
}

func (p *Polis) ContinueRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandContinue)
}

func (p *Polis) StopRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandStop)
}

// ActiveRuns lists the ids of running evolutions.
func (p *Polis) ActiveRuns() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.runs))
	for id := range p.runs {
		ids = append(ids, id)
	}
	return ids
}

func (p *Polis) registerRunControl(runID string, control chan evo.Command) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotInitialized
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	p.runs[runID] = control
	return nil
}

func (p *Polis) unregisterRunControl(runID string) {
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

func (p *Polis) sendRunCommand(runID string, cmd evo.Command) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	control, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
	}
	select {
	case control <- cmd:
		return nil
	default:
		return fmt.Errorf("run control channel is full: %s", runID)
	}
}

func (p *Polis) stopRuns() {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, control := range p.runs {
		select {
		case control <- evo.CommandStop:
		default:
		}
	}
}

func stopSupportModules(ctx context.Context, modules []SupportModule) {
	for i := len(modules) - 1; i >= 0; i-- {
		_ = modules[i].Stop(ctx)
	}
}
