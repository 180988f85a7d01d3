package nn

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"
)

var ErrCyclicGraph = errors.New("network graph has a cycle")

// Validate checks the structural invariants of the network: arity, index
// bounds, inputs without incoming edges, valid activations, the running edge
// count and acyclicity. It builds a full graph copy, so it is meant for
// decoded or foreign networks and for tests, not the evaluation path.
func (n *Network) Validate() error {
	if n.inputs <= 0 || n.outputs <= 0 {
		return fmt.Errorf("%w: inputs=%d outputs=%d", ErrInvalidArity, n.inputs, n.outputs)
	}
	if len(n.nodes) < n.inputs+n.outputs {
		return fmt.Errorf("node count %d below arity %d+%d", len(n.nodes), n.inputs, n.outputs)
	}
	if len(n.raw) != n.inputs {
		return fmt.Errorf("input buffer length %d, want %d", len(n.raw), n.inputs)
	}

	g, total, err := n.directedGraph()
	if err != nil {
		return err
	}
	if total != n.edges {
		return fmt.Errorf("edge count %d disagrees with %d stored edges", n.edges, total)
	}
	if _, err := topo.Sort(g); err != nil {
		return fmt.Errorf("%w: %v", ErrCyclicGraph, err)
	}
	return nil
}

// Depth is the number of edges on the longest path ending at an output node.
func (n *Network) Depth() (int, error) {
	g, _, err := n.directedGraph()
	if err != nil {
		return 0, err
	}
	order, err := topo.SortStabilized(g, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCyclicGraph, err)
	}
	depth := make([]int, len(n.nodes))
	for _, node := range order {
		dst := int(node.ID())
		for _, edge := range n.nodes[dst].Edges {
			if d := depth[edge.Source] + 1; d > depth[dst] {
				depth[dst] = d
			}
		}
	}
	deepest := 0
	for i := n.inputs; i < n.inputs+n.outputs; i++ {
		if depth[i] > deepest {
			deepest = depth[i]
		}
	}
	return deepest, nil
}

func (n *Network) directedGraph() (*simple.DirectedGraph, int, error) {
	g := simple.NewDirectedGraph()
	for i := range n.nodes {
		g.AddNode(simple.Node(i))
	}
	total := 0
	for dst := range n.nodes {
		node := &n.nodes[dst]
		if !node.Activation.Valid() {
			return nil, 0, fmt.Errorf("node %d: invalid activation %d", dst, int32(node.Activation))
		}
		if dst < n.inputs && len(node.Edges) > 0 {
			return nil, 0, fmt.Errorf("input node %d has %d incoming edges", dst, len(node.Edges))
		}
		for _, edge := range node.Edges {
			if edge.Source < 0 || edge.Source >= len(n.nodes) {
				return nil, 0, fmt.Errorf("node %d: edge source %d out of range", dst, edge.Source)
			}
			if edge.Source == dst {
				return nil, 0, fmt.Errorf("%w: self edge on node %d", ErrCyclicGraph, dst)
			}
			g.SetEdge(g.NewEdge(simple.Node(edge.Source), simple.Node(dst)))
		}
		total += len(node.Edges)
	}
	return g, total, nil
}
