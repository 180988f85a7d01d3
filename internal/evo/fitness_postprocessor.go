package evo

import (
	"fmt"
	"math"

	"evolution/internal/nn"
)

const sizeProportionalEfficiency = 0.05

// RewardPostprocessor adjusts rewards after evaluation and before selection.
type RewardPostprocessor interface {
	Name() string
	Process(networks []*nn.Network)
}

type NoopRewardPostprocessor struct{}

func (NoopRewardPostprocessor) Name() string {
	return "none"
}

func (NoopRewardPostprocessor) Process([]*nn.Network) {}

// SizeProportionalPostprocessor divides each reward by complexity^0.05, so
// between equally rewarded networks the smaller one wins the tournament.
// Non-positive rewards are unchanged.
type SizeProportionalPostprocessor struct{}

func (SizeProportionalPostprocessor) Name() string {
	return "size_proportional"
}

func (SizeProportionalPostprocessor) Process(networks []*nn.Network) {
	for _, net := range networks {
		reward := net.Reward()
		if reward <= 0 {
			continue
		}
		complexity := float64(net.Complexity())
		if complexity < 1 {
			complexity = 1
		}
		net.SetReward(float32(float64(reward) / math.Pow(complexity, sizeProportionalEfficiency)))
	}
}

func PostprocessorByName(name string) (RewardPostprocessor, error) {
	switch name {
	case "", "none":
		return NoopRewardPostprocessor{}, nil
	case "size_proportional":
		return SizeProportionalPostprocessor{}, nil
	default:
		return nil, fmt.Errorf("unsupported reward postprocessor: %s", name)
	}
}
