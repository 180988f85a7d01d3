package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

const (
	defaultDuelTicks = 200
	duelInputs       = 7
	duelOutputs      = 2
)

type DuelConfig struct {
	Ticks         int
	StartDistance float64
}

// DuelScape pits two agents against each other. For the first half of the
// ticks A pursues and B evades, then the roles swap. Each tick in contact
// is worth +1 to the pursuer and -1 to the evader. Inputs are own velocity,
// opponent position relative to self, opponent velocity and the role
// (+1 pursuer, -1 evader).
type DuelScape struct {
	cfg     DuelConfig
	physics physics
}

func NewDuelScape(cfg DuelConfig) DuelScape {
	if cfg.Ticks <= 0 {
		cfg.Ticks = defaultDuelTicks
	}
	if cfg.StartDistance <= 0 {
		cfg.StartDistance = defaultStartDistance
	}
	return DuelScape{
		cfg:     cfg,
		physics: physics{dt: 0.1, damping: 0.9, maxForce: 2, radius: 0.5},
	}
}

// Config returns the effective configuration, defaults applied.
func (s DuelScape) Config() DuelConfig {
	return s.cfg
}

func (DuelScape) Name() string {
	return "duel"
}

func (DuelScape) Arity() (int, int) {
	return duelInputs, duelOutputs
}

// Evaluate duels the agent against an opponent that never moves.
func (s DuelScape) Evaluate(ctx context.Context, agent Agent, rng *rand.Rand) (Fitness, Trace, error) {
	a, _, trace, err := s.EvaluatePair(ctx, agent, idleAgent{}, rng)
	return a, trace, err
}

func (s DuelScape) EvaluatePair(ctx context.Context, a, b Agent, rng *rand.Rand) (Fitness, Fitness, Trace, error) {
	if rng == nil {
		return 0, 0, nil, fmt.Errorf("duel: random source is required")
	}
	angle := rng.Float64() * 2 * math.Pi
	half := vec2{math.Cos(angle), math.Sin(angle)}.scale(s.cfg.StartDistance / 2)
	bodies := [2]body{{pos: half}, {pos: half.scale(-1)}}
	agents := [2]Agent{a, b}

	inputs := make([]float32, duelInputs)
	out := make([]float32, 0, duelOutputs)
	var forces [2]vec2
	var rewards [2]float64
	contacts := 0
	for tick := 0; tick < s.cfg.Ticks; tick++ {
		if tick%32 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, 0, nil, err
			}
		}
		pursuer := 0
		if tick >= s.cfg.Ticks/2 {
			pursuer = 1
		}
		for i := range agents {
			self, other := bodies[i], bodies[1-i]
			inputs[0], inputs[1] = self.vel.inputs()
			inputs[2], inputs[3] = other.pos.sub(self.pos).inputs()
			inputs[4], inputs[5] = other.vel.inputs()
			inputs[6] = -1
			if i == pursuer {
				inputs[6] = 1
			}
			if err := agents[i].SetInputs(inputs); err != nil {
				return 0, 0, nil, fmt.Errorf("duel: agent %d: %w", i, err)
			}
			agents[i].Evaluate()
			out = agents[i].ReadOutputs(out)
			forces[i] = s.physics.forceFromOutputs(out)
		}
		for i := range bodies {
			s.physics.step(&bodies[i], forces[i])
		}
		if s.physics.touching(bodies[0], bodies[1]) {
			contacts++
			rewards[pursuer]++
			rewards[1-pursuer]--
		}
	}
	return Fitness(rewards[0]), Fitness(rewards[1]), Trace{"contacts": contacts}, nil
}

type idleAgent struct{}

func (idleAgent) SetInputs([]float32) error { return nil }

func (idleAgent) Evaluate() {}

func (idleAgent) ReadOutputs(dst []float32) []float32 {
	return append(dst[:0], 0, 0)
}
