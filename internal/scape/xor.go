package scape

import (
	"context"
	"fmt"
	"math"
	"math/rand"
)

const nonFiniteError = 1e3

type XORScape struct{}

func (XORScape) Name() string {
	return "xor"
}

func (XORScape) Arity() (int, int) {
	return 2, 1
}

type xorCase struct {
	in   [2]float32
	want float64
}

var xorCases = []xorCase{
	{in: [2]float32{0, 0}, want: 0},
	{in: [2]float32{0, 1}, want: 1},
	{in: [2]float32{1, 0}, want: 1},
	{in: [2]float32{1, 1}, want: 0},
}

// Evaluate scores 4 - SSE over the truth table, so a perfect agent earns 4.
// Non-finite outputs count as an error of nonFiniteError.
func (XORScape) Evaluate(ctx context.Context, agent Agent, _ *rand.Rand) (Fitness, Trace, error) {
	var sse float64
	predictions := make([]float64, 0, len(xorCases))
	out := make([]float32, 0, 1)
	for _, c := range xorCases {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		if err := agent.SetInputs(c.in[:]); err != nil {
			return 0, nil, fmt.Errorf("xor: %w", err)
		}
		agent.Evaluate()
		out = agent.ReadOutputs(out)
		if len(out) != 1 {
			return 0, nil, fmt.Errorf("xor requires one output, got %d", len(out))
		}
		predicted := float64(out[0])
		predictions = append(predictions, predicted)
		delta := predicted - c.want
		if math.IsNaN(delta) || math.IsInf(delta, 0) {
			delta = nonFiniteError
		}
		sse += delta * delta
	}
	return Fitness(float64(len(xorCases)) - sse), Trace{
		"sse":         sse,
		"mse":         sse / float64(len(xorCases)),
		"predictions": predictions,
	}, nil
}
