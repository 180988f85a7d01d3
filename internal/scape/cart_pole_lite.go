package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

// CartPoleLiteScape is a simplified 1D balancing control task. The agent
// sees cart position and velocity and outputs a force; reward per step is
// higher the closer the cart stays to the origin.
type CartPoleLiteScape struct{}

var cartPoleLiteStarts = []float64{-0.8, -0.4, 0.0, 0.4, 0.8}

const cartPoleLiteSteps = 60

func (CartPoleLiteScape) Name() string {
	return "cart-pole-lite"
}

func (CartPoleLiteScape) Arity() (int, int) {
	return 2, 1
}

func (CartPoleLiteScape) Evaluate(ctx context.Context, agent Agent, _ *rand.Rand) (Fitness, Trace, error) {
	totalReward := 0.0
	stepsSurvived := 0
	inputs := make([]float32, 2)
	out := make([]float32, 0, 1)

	for _, start := range cartPoleLiteStarts {
		x := start
		v := 0.0
		for step := 0; step < cartPoleLiteSteps; step++ {
			if err := ctx.Err(); err != nil {
				return 0, nil, err
			}
			inputs[0], inputs[1] = float32(x), float32(v)
			if err := agent.SetInputs(inputs); err != nil {
				return 0, nil, fmt.Errorf("cart-pole-lite: %w", err)
			}
			agent.Evaluate()
			out = agent.ReadOutputs(out)
			if len(out) != 1 {
				return 0, nil, fmt.Errorf("cart-pole-lite requires one output, got %d", len(out))
			}
			force := float64(out[0])
			if math.IsNaN(force) {
				force = 0
			}

			var reward float64
			x, v, reward = cartPoleLiteStep(x, v, force)
			totalReward += reward
			stepsSurvived++
			if math.Abs(x) > 2.0 {
				break
			}
		}
	}

	avgReward := totalReward / float64(stepsSurvived)
	return Fitness(avgReward), Trace{
		"avg_reward":     avgReward,
		"steps_survived": stepsSurvived,
		"episodes":       len(cartPoleLiteStarts),
	}, nil
}

func cartPoleLiteStep(x, v, force float64) (nextX, nextV, reward float64) {
	const (
		dt       = 0.1
		kPos     = 0.45
		kVel     = 0.15
		forceK   = 1.25
		maxForce = 1.0
	)
	if force > maxForce {
		force = maxForce
	}
	if force < -maxForce {
		force = -maxForce
	}

	acc := forceK*force - kPos*x - kVel*v
	v = v + acc*dt
	x = x + v*dt
	reward = 1.0 - math.Min(1.0, math.Abs(x)/2.0)
	return x, v, reward
}
