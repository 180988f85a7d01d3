package evo

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"

	"evolution/internal/metrics"
	"evolution/internal/nn"
	"evolution/internal/scape"
)

// Command steers a running Evolver between generations.
type Command int

const (
	CommandPause Command = iota + 1
	CommandContinue
	CommandStop
)

type GenerationDiagnostics struct {
	Generation     int            `json:"generation"`
	BestReward     float64        `json:"best_reward"`
	MeanReward     float64        `json:"mean_reward"`
	MinReward      float64        `json:"min_reward"`
	BestComplexity int            `json:"best_complexity"`
	MaxComplexity  int            `json:"max_complexity"`
	MeanComplexity float64        `json:"mean_complexity"`
	MeanHidden     float64        `json:"mean_hidden"`
	Evaluations    int            `json:"evaluations"`
	Mutations      MutationCounts `json:"mutations"`
}

type RunResult struct {
	BestByGeneration []float64
	Diagnostics      []GenerationDiagnostics
	// Best is a copy of the highest-rewarded network seen during the run,
	// carrying that reward.
	Best *nn.Network
	// Generations is the number of generations completed.
	Generations int
	Stopped     bool
	// GoalReached reports that the run ended early on FitnessGoal.
	GoalReached bool
}

type EvolverConfig struct {
	Scape       scape.Scape
	Generations int
	Workers     int
	Seed        int64
	// Paired evaluates disjoint pairs of a shuffled roster when Scape is a
	// PairedScape.
	Paired        bool
	Step          StepConfig
	Postprocessor RewardPostprocessor
	// FitnessGoal stops the run once a generation's best reward reaches it.
	// Nil disables the check.
	FitnessGoal *float64

	// StartGeneration numbers the first generation of this run, so a
	// continued run keeps counting.
	StartGeneration int
	RunID           string
	Logger          *slog.Logger
	Metrics         *metrics.Recorder
	Control         <-chan Command
	// OnGeneration runs after evaluation and before the generational step.
	OnGeneration func(ctx context.Context, diag GenerationDiagnostics, pop *Population) error
}

// Evolver drives a population through evaluate / select / mutate cycles.
type Evolver struct {
	cfg    EvolverConfig
	rng    *rand.Rand
	logger *slog.Logger
}

func NewEvolver(cfg EvolverConfig) (*Evolver, error) {
	if cfg.Scape == nil {
		return nil, fmt.Errorf("scape is required")
	}
	if cfg.Generations <= 0 {
		return nil, fmt.Errorf("generations must be > 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Paired {
		if _, ok := cfg.Scape.(scape.PairedScape); !ok {
			return nil, fmt.Errorf("scape %s does not support paired evaluation", cfg.Scape.Name())
		}
	}
	if err := cfg.Step.Validate(); err != nil {
		return nil, err
	}
	if cfg.Postprocessor == nil {
		cfg.Postprocessor = NoopRewardPostprocessor{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Evolver{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With("run_id", cfg.RunID, "scape", cfg.Scape.Name()),
	}, nil
}

// Run evolves pop in place for the configured number of generations. Every
// network must match the scape's arity.
func (e *Evolver) Run(ctx context.Context, pop *Population) (RunResult, error) {
	if pop.Len() == 0 {
		return RunResult{}, ErrEmptyPopulation
	}
	inputs, outputs := e.cfg.Scape.Arity()
	for i, net := range pop.Networks() {
		if net.InputCount() != inputs || net.OutputCount() != outputs {
			return RunResult{}, fmt.Errorf("%w: network %d is %d/%d, scape %s needs %d/%d",
				nn.ErrArityMismatch, i, net.InputCount(), net.OutputCount(), e.cfg.Scape.Name(), inputs, outputs)
		}
	}

	result := RunResult{
		BestByGeneration: make([]float64, 0, e.cfg.Generations),
		Diagnostics:      make([]GenerationDiagnostics, 0, e.cfg.Generations),
	}
	for i := 0; i < e.cfg.Generations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		stop, err := e.awaitControl(ctx)
		if err != nil {
			return result, err
		}
		if stop {
			result.Stopped = true
			e.logger.Info("run stopped", "generation", e.cfg.StartGeneration+i)
			return result, nil
		}

		generation := e.cfg.StartGeneration + i + 1
		evaluations, err := e.evaluate(ctx, pop)
		if err != nil {
			return result, fmt.Errorf("generation %d: %w", generation, err)
		}
		e.cfg.Postprocessor.Process(pop.Networks())

		summary := pop.Summary()
		diag := GenerationDiagnostics{
			Generation:     generation,
			BestReward:     summary.BestReward,
			MeanReward:     summary.MeanReward,
			MinReward:      summary.MinReward,
			BestComplexity: summary.BestComplexity,
			MaxComplexity:  summary.MaxComplexity,
			MeanComplexity: summary.MeanComplexity,
			MeanHidden:     summary.MeanHidden,
			Evaluations:    evaluations,
		}
		champion := pop.At(summary.BestIndex)
		if result.Best == nil || better(champion.Reward(), result.Best.Reward()) {
			result.Best = champion.Clone()
		}
		if e.cfg.OnGeneration != nil {
			if err := e.cfg.OnGeneration(ctx, diag, pop); err != nil {
				return result, fmt.Errorf("generation %d callback: %w", generation, err)
			}
		}

		report, err := pop.Step(e.rng, e.cfg.Step)
		if err != nil {
			return result, fmt.Errorf("generation %d: %w", generation, err)
		}
		diag.Mutations = report.Mutations

		result.BestByGeneration = append(result.BestByGeneration, diag.BestReward)
		result.Diagnostics = append(result.Diagnostics, diag)
		result.Generations++
		e.observe(diag)

		if goal := e.cfg.FitnessGoal; goal != nil && diag.BestReward >= *goal {
			result.GoalReached = true
			e.logger.Info("fitness goal reached", "generation", generation, "best_reward", diag.BestReward, "goal", *goal)
			break
		}
	}
	return result, nil
}

func (e *Evolver) observe(diag GenerationDiagnostics) {
	e.logger.Info("generation complete",
		"generation", diag.Generation,
		"best_reward", diag.BestReward,
		"mean_reward", diag.MeanReward,
		"max_complexity", diag.MaxComplexity,
		"mutations", diag.Mutations.Applied(),
	)
	e.cfg.Metrics.ObserveGeneration(metrics.Generation{
		RunID:         e.cfg.RunID,
		Generation:    diag.Generation,
		BestReward:    diag.BestReward,
		MeanReward:    diag.MeanReward,
		MaxComplexity: diag.MaxComplexity,
		Evaluations:   diag.Evaluations,
		Mutations: map[string]int{
			nn.MutationSplitEdge.String():        diag.Mutations.SplitEdge,
			nn.MutationAddEdge.String():          diag.Mutations.AddEdge,
			nn.MutationChangeActivation.String(): diag.Mutations.ChangeActivation,
			nn.MutationNone.String():             diag.Mutations.None,
		},
	})
}

// awaitControl drains pending commands and blocks while paused.
func (e *Evolver) awaitControl(ctx context.Context) (bool, error) {
	if e.cfg.Control == nil {
		return false, nil
	}
	paused := false
	for {
		if paused {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case cmd, ok := <-e.cfg.Control:
				if !ok {
					return false, nil
				}
				switch cmd {
				case CommandStop:
					return true, nil
				case CommandContinue:
					paused = false
				}
			}
			continue
		}
		select {
		case cmd, ok := <-e.cfg.Control:
			if !ok {
				return false, nil
			}
			switch cmd {
			case CommandStop:
				return true, nil
			case CommandPause:
				e.logger.Info("run paused")
				paused = true
			}
		default:
			return false, nil
		}
	}
}

// evaluate scores every network and overwrites its reward with the fitness.
// Each task gets its own random source seeded from the evolver's before
// dispatch, so results do not depend on scheduling. Rewards are cleared by
// Step, not here.
func (e *Evolver) evaluate(ctx context.Context, pop *Population) (int, error) {
	pop.setPhase(PhaseEvaluating)
	defer pop.setPhase(PhaseIdle)

	networks := pop.Networks()
	var evaluations atomic.Int64
	p := pool.New().WithContext(ctx).WithCancelOnError().WithFirstError().WithMaxGoroutines(e.cfg.Workers)

	if paired, ok := e.cfg.Scape.(scape.PairedScape); ok && e.cfg.Paired {
		pop.Shuffle(e.rng)
		networks = pop.Networks()
		for i := 0; i+1 < len(networks); i += 2 {
			a, b := networks[i], networks[i+1]
			seed := e.rng.Int63()
			p.Go(func(ctx context.Context) error {
				fa, fb, _, err := paired.EvaluatePair(ctx, a, b, rand.New(rand.NewSource(seed)))
				if err != nil {
					return err
				}
				a.SetReward(float32(fa))
				b.SetReward(float32(fb))
				evaluations.Add(1)
				return nil
			})
		}
		if len(networks)%2 == 1 {
			last := networks[len(networks)-1]
			seed := e.rng.Int63()
			p.Go(func(ctx context.Context) error {
				return e.evaluateOne(ctx, last, seed, &evaluations)
			})
		}
	} else {
		for _, net := range networks {
			net := net
			seed := e.rng.Int63()
			p.Go(func(ctx context.Context) error {
				return e.evaluateOne(ctx, net, seed, &evaluations)
			})
		}
	}

	if err := p.Wait(); err != nil {
		return int(evaluations.Load()), err
	}
	return int(evaluations.Load()), nil
}

func (e *Evolver) evaluateOne(ctx context.Context, net *nn.Network, seed int64, evaluations *atomic.Int64) error {
	fitness, _, err := e.cfg.Scape.Evaluate(ctx, net, rand.New(rand.NewSource(seed)))
	if err != nil {
		return err
	}
	net.SetReward(float32(fitness))
	evaluations.Add(1)
	return nil
}
