package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"evolution/internal/nn"
)

var (
	ErrEmptyPopulation      = errors.New("population is empty")
	ErrRandomSourceRequired = errors.New("random source is required")
)

// Phase is the generational phase a population is in. It is informational;
// the population does no locking of its own.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseEvaluating
	PhaseSelecting
	PhaseReplacing
	PhaseMutating
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseSelecting:
		return "selecting"
	case PhaseReplacing:
		return "replacing"
	case PhaseMutating:
		return "mutating"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Population is a fixed-capacity roster of networks that share an arity.
// Selection swaps whole rosters, so pointers returned by At or Networks are
// only valid until the next selection or read.
type Population struct {
	networks []*nn.Network
	spare    []*nn.Network
	phase    Phase
}

// NewPopulation returns a roster of capacity empty networks. They have no
// arity until ResetAll.
func NewPopulation(capacity int) *Population {
	p := &Population{}
	p.Resize(capacity)
	return p
}

func (p *Population) Len() int { return len(p.networks) }

func (p *Population) At(i int) *nn.Network { return p.networks[i] }

// Networks exposes the live roster.
func (p *Population) Networks() []*nn.Network { return p.networks }

func (p *Population) Phase() Phase { return p.phase }

func (p *Population) setPhase(phase Phase) { p.phase = phase }

// Resize keeps existing individuals and their rewards. Growing appends empty
// networks; shrinking truncates.
func (p *Population) Resize(capacity int) {
	if capacity < 0 {
		capacity = 0
	}
	if capacity <= len(p.networks) {
		clear(p.networks[capacity:])
		p.networks = p.networks[:capacity]
		return
	}
	for len(p.networks) < capacity {
		p.networks = append(p.networks, &nn.Network{})
	}
}

// ResetAll gives every slot the minimal random topology for the given arity
// and clears all rewards.
func (p *Population) ResetAll(rng *rand.Rand, inputs, outputs int) error {
	if rng == nil {
		return ErrRandomSourceRequired
	}
	for i := range p.networks {
		net := p.networks[i]
		if net.InputCount() != inputs || net.OutputCount() != outputs {
			fresh, err := nn.NewNetwork(inputs, outputs)
			if err != nil {
				return err
			}
			net = fresh
		}
		if err := net.Reset(rng); err != nil {
			return err
		}
		p.networks[i] = net
	}
	return nil
}

// Arity returns the input and output counts of the first non-empty network,
// or zeros if every slot is empty.
func (p *Population) Arity() (int, int) {
	for _, net := range p.networks {
		if net.InputCount() > 0 {
			return net.InputCount(), net.OutputCount()
		}
	}
	return 0, 0
}

// BestIndex returns the slot with the highest reward. Ties go to the lowest
// index and NaN rewards rank below everything else.
func (p *Population) BestIndex() (int, error) {
	if len(p.networks) == 0 {
		return 0, ErrEmptyPopulation
	}
	return bestOf(p.networks), nil
}

func (p *Population) Best() (*nn.Network, error) {
	idx, err := p.BestIndex()
	if err != nil {
		return nil, err
	}
	return p.networks[idx], nil
}

func bestOf(networks []*nn.Network) int {
	best := 0
	for i := 1; i < len(networks); i++ {
		if better(networks[i].Reward(), networks[best].Reward()) {
			best = i
		}
	}
	return best
}

func better(candidate, incumbent float32) bool {
	if incumbent != incumbent {
		return candidate == candidate
	}
	return candidate > incumbent
}

// ClearRewards zeroes every reward without touching the roster.
func (p *Population) ClearRewards() {
	for _, net := range p.networks {
		net.SetReward(0)
	}
}

// Shuffle permutes the roster in place.
func (p *Population) Shuffle(rng *rand.Rand) {
	rng.Shuffle(len(p.networks), func(i, j int) {
		p.networks[i], p.networks[j] = p.networks[j], p.networks[i]
	})
}

// Scope selects which part of the roster a batched operation touches.
type Scope int

const (
	ScopeAll Scope = iota
	// ScopeHalf touches the first half of the roster, at least one slot.
	ScopeHalf
)

func (s Scope) String() string {
	switch s {
	case ScopeAll:
		return "all"
	case ScopeHalf:
		return "half"
	default:
		return fmt.Sprintf("scope(%d)", int(s))
	}
}

func ParseScope(name string) (Scope, error) {
	switch name {
	case "", "all":
		return ScopeAll, nil
	case "half":
		return ScopeHalf, nil
	default:
		return 0, fmt.Errorf("unsupported mutation scope: %s", name)
	}
}

func (p *Population) scoped(scope Scope) []*nn.Network {
	if scope != ScopeHalf {
		return p.networks
	}
	half := len(p.networks) / 2
	if half == 0 && len(p.networks) > 0 {
		half = 1
	}
	return p.networks[:half]
}

// MutationCounts tallies applied structural mutations by kind.
type MutationCounts struct {
	SplitEdge        int `json:"split_edge"`
	AddEdge          int `json:"add_edge"`
	ChangeActivation int `json:"change_activation"`
	None             int `json:"none"`
}

func (c *MutationCounts) Add(kind nn.MutationKind) {
	switch kind {
	case nn.MutationSplitEdge:
		c.SplitEdge++
	case nn.MutationAddEdge:
		c.AddEdge++
	case nn.MutationChangeActivation:
		c.ChangeActivation++
	default:
		c.None++
	}
}

// Applied is the number of mutations that changed a network.
func (c MutationCounts) Applied() int {
	return c.SplitEdge + c.AddEdge + c.ChangeActivation
}

// Mutate applies count structural mutations to every network in scope.
// Empty networks are skipped.
func (p *Population) Mutate(rng *rand.Rand, weights nn.MutationWeights, scope Scope, count int) MutationCounts {
	var counts MutationCounts
	for _, net := range p.scoped(scope) {
		if net.NodeCount() == 0 {
			continue
		}
		for i := 0; i < count; i++ {
			counts.Add(net.Mutate(rng, weights))
		}
	}
	return counts
}

// Perturb adds scale * N(0,1) noise to the parameters of every network in
// scope.
func (p *Population) Perturb(rng *rand.Rand, scale float32, scope Scope) {
	for _, net := range p.scoped(scope) {
		net.Perturb(rng, scale)
	}
}

// Randomize redraws the parameters of every network.
func (p *Population) Randomize(rng *rand.Rand, scale float32) {
	for _, net := range p.networks {
		net.Randomize(rng, scale)
	}
}

// Summary describes rewards and structure of the current roster.
type Summary struct {
	Size           int     `json:"size"`
	BestIndex      int     `json:"best_index"`
	BestReward     float64 `json:"best_reward"`
	MeanReward     float64 `json:"mean_reward"`
	MinReward      float64 `json:"min_reward"`
	BestComplexity int     `json:"best_complexity"`
	MaxComplexity  int     `json:"max_complexity"`
	MeanComplexity float64 `json:"mean_complexity"`
	MeanHidden     float64 `json:"mean_hidden"`
}

func (p *Population) Summary() Summary {
	if len(p.networks) == 0 {
		return Summary{}
	}
	best := bestOf(p.networks)
	s := Summary{
		Size:           len(p.networks),
		BestIndex:      best,
		BestReward:     float64(p.networks[best].Reward()),
		MinReward:      float64(p.networks[0].Reward()),
		BestComplexity: p.networks[best].Complexity(),
	}
	var rewards, complexity, hidden float64
	for _, net := range p.networks {
		reward := float64(net.Reward())
		rewards += reward
		if reward < s.MinReward {
			s.MinReward = reward
		}
		c := net.Complexity()
		complexity += float64(c)
		if c > s.MaxComplexity {
			s.MaxComplexity = c
		}
		hidden += float64(net.HiddenCount())
	}
	size := float64(len(p.networks))
	s.MeanReward = rewards / size
	s.MeanComplexity = complexity / size
	s.MeanHidden = hidden / size
	return s
}
