package nn

import (
	"errors"
	"fmt"
	"math/rand"
)

var (
	ErrInvalidArity     = errors.New("input and output counts must be > 0")
	ErrInputLength      = errors.New("input length mismatch")
	ErrTopologyMismatch = errors.New("network topology mismatch")
	ErrArityMismatch    = errors.New("network arity mismatch")
)

// Network is an arena of nodes split into an input region, an output region
// and a hidden region, in that order. Edges between non-input nodes form a
// DAG; every mutation that grows the graph preserves that.
//
// A Network is not safe for concurrent use. Distinct networks may be
// evaluated in parallel.
type Network struct {
	nodes   []Node
	raw     []float32
	inputs  int
	outputs int
	edges   int
	reward  float32

	// scratch for reachability queries during mutation
	visited []bool
	stack   []int
}

// NewNetwork returns a network with the given arity and no edges. Input and
// output nodes start with zero bias and the identity activation; call Reset
// to seed the minimal random topology.
func NewNetwork(inputs, outputs int) (*Network, error) {
	if inputs <= 0 || outputs <= 0 {
		return nil, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInvalidArity, inputs, outputs)
	}
	return &Network{
		nodes:   make([]Node, inputs+outputs),
		raw:     make([]float32, inputs),
		inputs:  inputs,
		outputs: outputs,
	}, nil
}

// Reset reinitializes the network to one random edge from an input to an
// output, redraws every bias and clears the reward. Hidden nodes are dropped.
func (n *Network) Reset(rng *rand.Rand) error {
	if n.inputs <= 0 || n.outputs <= 0 {
		return fmt.Errorf("%w: inputs=%d outputs=%d", ErrInvalidArity, n.inputs, n.outputs)
	}
	size := n.inputs + n.outputs
	n.nodes = n.nodes[:0]
	for i := 0; i < size; i++ {
		n.nodes = append(n.nodes, newNode(rng, Identity))
	}
	for i := range n.raw {
		n.raw[i] = 0
	}
	n.reward = 0

	dst := n.inputs + rng.Intn(n.outputs)
	src := rng.Intn(n.inputs)
	n.nodes[dst].addEdge(rng, src)
	n.edges = 1
	return nil
}

func (n *Network) InputCount() int  { return n.inputs }
func (n *Network) OutputCount() int { return n.outputs }
func (n *Network) NodeCount() int   { return len(n.nodes) }

// EdgeCount is the maintained running total of edges.
func (n *Network) EdgeCount() int { return n.edges }

func (n *Network) HiddenCount() int {
	hidden := len(n.nodes) - n.inputs - n.outputs
	if hidden < 0 {
		return 0
	}
	return hidden
}

// Complexity is node count plus edge count.
func (n *Network) Complexity() int {
	return len(n.nodes) + n.edges
}

// CountEdges sums edge lists. EdgeCount should always agree with it.
func (n *Network) CountEdges() int {
	total := 0
	for i := range n.nodes {
		total += len(n.nodes[i].Edges)
	}
	return total
}

// Node returns a copy of node i.
func (n *Network) Node(i int) Node {
	return n.nodes[i].clone()
}

// Inputs exposes the raw input buffer. Values written here are consumed by
// the next Evaluate.
func (n *Network) Inputs() []float32 {
	return n.raw
}

func (n *Network) SetInputs(values []float32) error {
	if len(values) != n.inputs {
		return fmt.Errorf("%w: got=%d want=%d", ErrInputLength, len(values), n.inputs)
	}
	copy(n.raw, values)
	return nil
}

// Evaluate propagates the raw inputs to every output node. Only nodes an
// output depends on are computed, each at most once.
func (n *Network) Evaluate() {
	for i := n.inputs; i < len(n.nodes); i++ {
		n.nodes[i].computed = false
	}
	for i := 0; i < n.inputs; i++ {
		node := &n.nodes[i]
		node.Value = node.Activation.Apply(n.raw[i] + node.Bias)
		node.computed = true
	}
	for i := n.inputs; i < n.inputs+n.outputs; i++ {
		n.compute(i)
	}
}

func (n *Network) compute(i int) {
	node := &n.nodes[i]
	if node.computed {
		return
	}
	for _, edge := range node.Edges {
		if !n.nodes[edge.Source].computed {
			n.compute(edge.Source)
		}
	}
	var sum float32
	for _, edge := range node.Edges {
		sum += edge.Weight * n.nodes[edge.Source].Value
	}
	node.Value = node.Activation.Apply(sum + node.Bias)
	node.computed = true
}

// Output returns the value of output node i after the last Evaluate.
func (n *Network) Output(i int) float32 {
	return n.nodes[n.inputs+i].Value
}

// ReadOutputs appends the output region to dst[:0] and returns it.
func (n *Network) ReadOutputs(dst []float32) []float32 {
	dst = dst[:0]
	for i := n.inputs; i < n.inputs+n.outputs; i++ {
		dst = append(dst, n.nodes[i].Value)
	}
	return dst
}

func (n *Network) Reward() float32          { return n.reward }
func (n *Network) SetReward(reward float32) { n.reward = reward }
func (n *Network) AddReward(delta float32)  { n.reward += delta }

// Clone returns a deep copy, reward included.
func (n *Network) Clone() *Network {
	out := &Network{}
	out.CopyFrom(n)
	return out
}

// CopyFrom overwrites n with a deep copy of src, reusing n's buffers.
func (n *Network) CopyFrom(src *Network) {
	if n == src {
		return
	}
	n.nodes = n.nodes[:0]
	for i := range src.nodes {
		node := src.nodes[i]
		var edges []Edge
		if node.Edges != nil {
			edges = make([]Edge, len(node.Edges))
			copy(edges, node.Edges)
		}
		node.Edges = edges
		n.nodes = append(n.nodes, node)
	}
	if cap(n.raw) >= len(src.raw) {
		n.raw = n.raw[:len(src.raw)]
	} else {
		n.raw = make([]float32, len(src.raw))
	}
	copy(n.raw, src.raw)
	n.inputs = src.inputs
	n.outputs = src.outputs
	n.edges = src.edges
	n.reward = src.reward
}

// SameTopology reports whether both networks have the same arity, node count
// and per-node edge sources in the same order.
func (n *Network) SameTopology(other *Network) bool {
	if n.inputs != other.inputs || n.outputs != other.outputs || len(n.nodes) != len(other.nodes) {
		return false
	}
	for i := range n.nodes {
		a, b := n.nodes[i].Edges, other.nodes[i].Edges
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j].Source != b[j].Source {
				return false
			}
		}
	}
	return true
}

// Equal compares topology, weights, biases and activations bit for bit.
// Reward, node values and the input buffer are runtime state and ignored.
func (n *Network) Equal(other *Network) bool {
	if !n.SameTopology(other) || n.edges != other.edges {
		return false
	}
	for i := range n.nodes {
		a, b := &n.nodes[i], &other.nodes[i]
		if a.Bias != b.Bias || a.Activation != b.Activation {
			return false
		}
		for j := range a.Edges {
			if a.Edges[j].Weight != b.Edges[j].Weight {
				return false
			}
		}
	}
	return true
}

// Perturb adds scale * N(0,1) noise to every weight and bias.
func (n *Network) Perturb(rng *rand.Rand, scale float32) {
	for i := range n.nodes {
		n.nodes[i].perturb(rng, scale)
	}
}

// Randomize redraws every weight and bias as scale * N(0,1).
func (n *Network) Randomize(rng *rand.Rand, scale float32) {
	for i := range n.nodes {
		n.nodes[i].randomize(rng, scale)
	}
}

// Crossover clones a and then, independently per edge and per bias, takes
// b's value on a coin flip. Both parents must share topology.
func Crossover(rng *rand.Rand, a, b *Network) (*Network, error) {
	if !a.SameTopology(b) {
		return nil, ErrTopologyMismatch
	}
	child := a.Clone()
	for i := range child.nodes {
		node := &child.nodes[i]
		for j := range node.Edges {
			if rng.Int63()&1 == 1 {
				node.Edges[j].Weight = b.nodes[i].Edges[j].Weight
			}
		}
		if rng.Int63()&1 == 1 {
			node.Bias = b.nodes[i].Bias
		}
	}
	return child, nil
}
