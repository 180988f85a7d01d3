package scape

import (
	"context"
	"errors"
	"math/rand"
)

var (
	ErrScapeNotFound = errors.New("scape not found")
	ErrScapeExists   = errors.New("scape already registered")
)

type Fitness float64

type Trace map[string]any

// Agent is the evaluation surface of a network: write inputs, propagate,
// read outputs.
type Agent interface {
	SetInputs(values []float32) error
	Evaluate()
	ReadOutputs(dst []float32) []float32
}

// Scape scores one agent. Implementations must be safe for concurrent use
// with distinct agents and random sources.
type Scape interface {
	Name() string
	Arity() (inputs, outputs int)
	Evaluate(ctx context.Context, agent Agent, rng *rand.Rand) (Fitness, Trace, error)
}

// PairedScape additionally scores two agents against each other.
type PairedScape interface {
	Scape
	EvaluatePair(ctx context.Context, a, b Agent, rng *rand.Rand) (Fitness, Fitness, Trace, error)
}
