package nn

import "math/rand"

// Edge is a weighted connection into the owning node. Source is an index into
// the owning Network's node list and has no meaning outside that Network.
type Edge struct {
	Source int
	Weight float32
}

// Node is one scalar computation unit.
type Node struct {
	Value      float32
	Bias       float32
	Activation Activation
	Edges      []Edge

	computed bool
}

func newNode(rng *rand.Rand, activation Activation) Node {
	return Node{Bias: gaussian(rng), Activation: activation}
}

func (n *Node) addEdge(rng *rand.Rand, source int) {
	n.Edges = append(n.Edges, Edge{Source: source, Weight: gaussian(rng)})
}

// removeEdgeAt drops edge i and keeps the remaining insertion order, which
// evaluation relies on for its summation order.
func (n *Node) removeEdgeAt(i int) Edge {
	removed := n.Edges[i]
	copy(n.Edges[i:], n.Edges[i+1:])
	n.Edges = n.Edges[:len(n.Edges)-1]
	return removed
}

func (n *Node) perturb(rng *rand.Rand, scale float32) {
	for i := range n.Edges {
		n.Edges[i].Weight += scale * gaussian(rng)
	}
	n.Bias += scale * gaussian(rng)
}

func (n *Node) randomize(rng *rand.Rand, scale float32) {
	for i := range n.Edges {
		n.Edges[i].Weight = scale * gaussian(rng)
	}
	n.Bias = scale * gaussian(rng)
}

func (n Node) clone() Node {
	out := n
	if n.Edges != nil {
		out.Edges = make([]Edge, len(n.Edges))
		copy(out.Edges, n.Edges)
	}
	return out
}

func gaussian(rng *rand.Rand) float32 {
	return float32(rng.NormFloat64())
}
