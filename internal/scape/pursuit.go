package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

const (
	defaultPursuitTicks    = 200
	defaultStartDistance   = 5.0
	defaultDistancePenalty = 0.01
	pursuitInputs          = 6
	pursuitOutputs         = 2
)

// PursuitConfig tunes the chase. Zero fields take defaults.
type PursuitConfig struct {
	Ticks           int
	StartDistance   float64
	DistancePenalty float64
	TargetSpeed     float64
}

// PursuitScape has one agent steer a body toward a drifting target. Inputs
// are the agent's velocity, the target position relative to the agent and
// the target velocity. Outputs are a force. The agent earns 1 per tick in
// contact, minus DistancePenalty times the distance every tick.
type PursuitScape struct {
	cfg     PursuitConfig
	physics physics
}

func NewPursuitScape(cfg PursuitConfig) PursuitScape {
	if cfg.Ticks <= 0 {
		cfg.Ticks = defaultPursuitTicks
	}
	if cfg.StartDistance <= 0 {
		cfg.StartDistance = defaultStartDistance
	}
	if cfg.DistancePenalty <= 0 {
		cfg.DistancePenalty = defaultDistancePenalty
	}
	if cfg.TargetSpeed <= 0 {
		cfg.TargetSpeed = 0.5
	}
	return PursuitScape{
		cfg:     cfg,
		physics: physics{dt: 0.1, damping: 0.9, maxForce: 2, radius: 0.5},
	}
}

// Config returns the effective configuration, defaults applied.
func (s PursuitScape) Config() PursuitConfig {
	return s.cfg
}

func (PursuitScape) Name() string {
	return "pursuit"
}

func (PursuitScape) Arity() (int, int) {
	return pursuitInputs, pursuitOutputs
}

func (s PursuitScape) Evaluate(ctx context.Context, agent Agent, rng *rand.Rand) (Fitness, Trace, error) {
	if rng == nil {
		return 0, nil, fmt.Errorf("pursuit: random source is required")
	}
	angle := rng.Float64() * 2 * math.Pi
	var self body
	target := body{pos: vec2{math.Cos(angle), math.Sin(angle)}.scale(s.cfg.StartDistance)}
	heading := rng.Float64() * 2 * math.Pi

	inputs := make([]float32, pursuitInputs)
	out := make([]float32, 0, pursuitOutputs)
	var reward float64
	contacts := 0
	for tick := 0; tick < s.cfg.Ticks; tick++ {
		if tick%32 == 0 {
			if err := ctx.Err(); err != nil {
				return 0, nil, err
			}
		}
		inputs[0], inputs[1] = self.vel.inputs()
		inputs[2], inputs[3] = target.pos.sub(self.pos).inputs()
		inputs[4], inputs[5] = target.vel.inputs()
		if err := agent.SetInputs(inputs); err != nil {
			return 0, nil, fmt.Errorf("pursuit: %w", err)
		}
		agent.Evaluate()
		out = agent.ReadOutputs(out)
		s.physics.step(&self, s.physics.forceFromOutputs(out))

		heading += rng.NormFloat64() * 0.3
		target.vel = vec2{math.Cos(heading), math.Sin(heading)}.scale(s.cfg.TargetSpeed)
		target.pos = target.pos.add(target.vel.scale(s.physics.dt))

		if s.physics.touching(self, target) {
			reward++
			contacts++
		}
		reward -= s.cfg.DistancePenalty * target.pos.sub(self.pos).length()
	}
	return Fitness(reward), Trace{
		"contacts":       contacts,
		"final_distance": target.pos.sub(self.pos).length(),
	}, nil
}
