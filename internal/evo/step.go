package evo

import (
	"fmt"
	"math/rand"

	"evolution/internal/nn"
)

// StepConfig parameterizes one generational step.
type StepConfig struct {
	Selection Selection
	GroupSize int
	// Elitism keeps the current champion in its own slot during tournament
	// and produce selection. Off, every slot is filled by tournament.
	Elitism bool
	Weights nn.MutationWeights
	Scope   Scope
	// Mutations is the number of structural mutations per individual in
	// scope.
	Mutations    int
	PerturbScale float32
}

func DefaultStepConfig() StepConfig {
	return StepConfig{
		Selection:    SelectionTournament,
		GroupSize:    DefaultGroupSize,
		Weights:      nn.DefaultMutationWeights(),
		Scope:        ScopeAll,
		Mutations:    1,
		PerturbScale: 0.1,
	}
}

func (c StepConfig) Validate() error {
	if _, err := ParseSelection(string(c.Selection)); err != nil {
		return err
	}
	if c.Mutations < 0 {
		return fmt.Errorf("mutations per individual must be >= 0")
	}
	if c.PerturbScale < 0 {
		return fmt.Errorf("perturb scale must be >= 0")
	}
	if c.Mutations > 0 {
		if err := c.Weights.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// StepReport describes what a generational step did.
type StepReport struct {
	Before    Summary        `json:"before"`
	Mutations MutationCounts `json:"mutations"`
}

// Step runs selection, mutation and perturbation, then clears every reward.
// Rewards must already hold the evaluation results of this generation.
func (p *Population) Step(rng *rand.Rand, cfg StepConfig) (StepReport, error) {
	if len(p.networks) == 0 {
		return StepReport{}, ErrEmptyPopulation
	}
	if rng == nil {
		return StepReport{}, ErrRandomSourceRequired
	}
	if err := cfg.Validate(); err != nil {
		return StepReport{}, err
	}
	defer p.setPhase(PhaseIdle)

	report := StepReport{Before: p.Summary()}
	var err error
	switch cfg.Selection {
	case SelectionProduce:
		err = p.Produce(rng, cfg.GroupSize, cfg.Elitism)
	case SelectionReduce:
		err = p.Reduce()
	default:
		err = p.TournamentReplace(rng, cfg.GroupSize, cfg.Elitism)
	}
	if err != nil {
		return StepReport{}, fmt.Errorf("%s selection: %w", cfg.Selection, err)
	}

	p.setPhase(PhaseMutating)
	if cfg.Mutations > 0 {
		report.Mutations = p.Mutate(rng, cfg.Weights, cfg.Scope, cfg.Mutations)
	}
	if cfg.PerturbScale > 0 {
		p.Perturb(rng, cfg.PerturbScale, cfg.Scope)
	}
	p.ClearRewards()
	return report, nil
}
