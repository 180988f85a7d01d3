package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
)

var ErrActivationNotFound = errors.New("activation not found")

// Activation tags a scalar transfer function. The numeric value is the tag
// stored in the binary network record, so the order below is part of the
// on-disk format.
type Activation int32

const (
	Identity Activation = iota
	Sigmoid
	Tanh
	Step
	ReLU
	Gaussian
	Sine
	Cosine
	Abs
	Negate

	activationCount
)

var activationNames = [activationCount]string{
	Identity: "identity",
	Sigmoid:  "sigmoid",
	Tanh:     "tanh",
	Step:     "step",
	ReLU:     "relu",
	Gaussian: "gaussian",
	Sine:     "sine",
	Cosine:   "cosine",
	Abs:      "abs",
	Negate:   "negate",
}

// ActivationCount is the number of valid activation tags.
const ActivationCount = int(activationCount)

func (a Activation) Valid() bool {
	return a >= 0 && a < activationCount
}

func (a Activation) String() string {
	if !a.Valid() {
		return fmt.Sprintf("activation(%d)", int32(a))
	}
	return activationNames[a]
}

// Apply evaluates the transfer function. It is total over finite inputs; an
// invalid tag yields 0.
func (a Activation) Apply(x float32) float32 {
	switch a {
	case Identity:
		return x
	case Sigmoid:
		return float32(1 / (1 + math.Exp(-float64(x))))
	case Tanh:
		return float32(math.Tanh(float64(x)))
	case Step:
		return stepf(x)
	case ReLU:
		return x * stepf(x)
	case Gaussian:
		return float32(math.Exp(-float64(x) * float64(x) * 0.5))
	case Sine:
		return float32(math.Sin(math.Pi * float64(x)))
	case Cosine:
		return float32(math.Cos(math.Pi * float64(x)))
	case Abs:
		return float32(math.Abs(float64(x)))
	case Negate:
		return -x
	default:
		return 0
	}
}

// stepf is 1 when the sign bit of x is clear, so -0 maps to 0 and +0 to 1.
func stepf(x float32) float32 {
	if math.Signbit(float64(x)) {
		return 0
	}
	return 1
}

// RandomActivation draws a tag uniformly from the valid set.
func RandomActivation(rng *rand.Rand) Activation {
	return Activation(rng.Intn(ActivationCount))
}

func ParseActivation(name string) (Activation, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range activationNames {
		if candidate == key {
			return Activation(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrActivationNotFound, name)
}

func ListActivations() []string {
	names := make([]string, 0, ActivationCount)
	names = append(names, activationNames[:]...)
	sort.Strings(names)
	return names
}
