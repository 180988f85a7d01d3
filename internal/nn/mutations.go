package nn

import (
	"fmt"
	"math/rand"
)

type MutationKind int

const (
	MutationNone MutationKind = iota
	MutationSplitEdge
	MutationAddEdge
	MutationChangeActivation
)

func (k MutationKind) String() string {
	switch k {
	case MutationNone:
		return "none"
	case MutationSplitEdge:
		return "split_edge"
	case MutationAddEdge:
		return "add_edge"
	case MutationChangeActivation:
		return "change_activation"
	default:
		return fmt.Sprintf("mutation(%d)", int(k))
	}
}

// MutationWeights are relative probabilities of the structural operators.
// They need not sum to one.
type MutationWeights struct {
	SplitEdge        float64 `json:"split_edge" yaml:"split_edge"`
	AddEdge          float64 `json:"add_edge" yaml:"add_edge"`
	ChangeActivation float64 `json:"change_activation" yaml:"change_activation"`
}

func DefaultMutationWeights() MutationWeights {
	return MutationWeights{SplitEdge: 0.3125, AddEdge: 0.1875, ChangeActivation: 0.5}
}

func (w MutationWeights) Validate() error {
	if w.SplitEdge < 0 || w.AddEdge < 0 || w.ChangeActivation < 0 {
		return fmt.Errorf("mutation weights must be >= 0: %+v", w)
	}
	if w.total() == 0 {
		return fmt.Errorf("mutation weights require at least one positive weight")
	}
	return nil
}

func (w MutationWeights) total() float64 {
	return w.SplitEdge + w.AddEdge + w.ChangeActivation
}

func (w MutationWeights) pick(rng *rand.Rand) MutationKind {
	total := w.total()
	if total <= 0 {
		return MutationNone
	}
	r := rng.Float64() * total
	switch {
	case r < w.SplitEdge:
		return MutationSplitEdge
	case r < w.SplitEdge+w.AddEdge:
		return MutationAddEdge
	default:
		return MutationChangeActivation
	}
}

// Mutate applies one structural mutation chosen by weight and reports what
// changed. MutationNone means the chosen operator found nothing to do.
func (n *Network) Mutate(rng *rand.Rand, weights MutationWeights) MutationKind {
	if len(n.nodes) == 0 {
		return MutationNone
	}
	kind := weights.pick(rng)
	var applied bool
	switch kind {
	case MutationSplitEdge:
		applied = n.SplitEdge(rng)
	case MutationAddEdge:
		applied = n.AddEdge(rng)
	case MutationChangeActivation:
		applied = n.ChangeActivation(rng)
	}
	if !applied {
		return MutationNone
	}
	return kind
}

// SplitEdge replaces a random edge src->dst into a non-input node with a new
// hidden node h and the edges src->h and h->dst.
func (n *Network) SplitEdge(rng *rand.Rand) bool {
	candidates := 0
	for i := n.inputs; i < len(n.nodes); i++ {
		if len(n.nodes[i].Edges) > 0 {
			candidates++
		}
	}
	if candidates == 0 {
		return false
	}
	pick := rng.Intn(candidates)
	dst := -1
	for i := n.inputs; i < len(n.nodes); i++ {
		if len(n.nodes[i].Edges) == 0 {
			continue
		}
		if pick == 0 {
			dst = i
			break
		}
		pick--
	}

	removed := n.nodes[dst].removeEdgeAt(rng.Intn(len(n.nodes[dst].Edges)))
	n.edges--

	hidden := len(n.nodes)
	n.nodes = append(n.nodes, newNode(rng, RandomActivation(rng)))
	n.nodes[hidden].addEdge(rng, removed.Source)
	n.nodes[dst].addEdge(rng, hidden)
	n.edges += 2
	return true
}

// AddEdge connects a random pair src->dst where dst is not an input and
// neither node already reaches the other. It gives up after NodeCount tries.
func (n *Network) AddEdge(rng *rand.Rand) bool {
	size := len(n.nodes)
	targets := size - n.inputs
	if targets <= 0 || size < 2 {
		return false
	}
	for tries := 0; tries < size; tries++ {
		dst := n.inputs + rng.Intn(targets)
		src := rng.Intn(size)
		if src == dst || n.reaches(src, dst) || n.reaches(dst, src) {
			continue
		}
		n.nodes[dst].addEdge(rng, src)
		n.edges++
		return true
	}
	return false
}

// ChangeActivation assigns a random activation to a random node.
func (n *Network) ChangeActivation(rng *rand.Rand) bool {
	if len(n.nodes) == 0 {
		return false
	}
	n.nodes[rng.Intn(len(n.nodes))].Activation = RandomActivation(rng)
	return true
}

// reaches reports whether a directed path from -> to exists. Edges are stored
// on their target, so the search walks backwards from to.
func (n *Network) reaches(from, to int) bool {
	if from == to {
		return true
	}
	if cap(n.visited) < len(n.nodes) {
		n.visited = make([]bool, len(n.nodes))
	} else {
		n.visited = n.visited[:len(n.nodes)]
		clear(n.visited)
	}

	stack := append(n.stack[:0], to)
	n.visited[to] = true
	found := false
	for len(stack) > 0 && !found {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, edge := range n.nodes[current].Edges {
			if edge.Source == from {
				found = true
				break
			}
			if !n.visited[edge.Source] {
				n.visited[edge.Source] = true
				stack = append(stack, edge.Source)
			}
		}
	}
	n.stack = stack[:0]
	return found
}
