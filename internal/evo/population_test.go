package evo

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"evolution/internal/nn"
)

func newResetNetwork(t *testing.T, rng *rand.Rand, inputs, outputs int) *nn.Network {
	t.Helper()
	net, err := nn.NewNetwork(inputs, outputs)
	if err != nil {
		t.Fatalf("new network: %v", err)
	}
	if err := net.Reset(rng); err != nil {
		t.Fatalf("reset: %v", err)
	}
	return net
}

// newEvolvedPopulation returns size networks with distinct topologies and
// rewards equal to their slot index.
func newEvolvedPopulation(t *testing.T, seed int64, size int) *Population {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	pop := NewPopulation(size)
	if err := pop.ResetAll(rng, 3, 2); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	pop.Mutate(rng, nn.DefaultMutationWeights(), ScopeAll, 10)
	for i, net := range pop.Networks() {
		net.SetReward(float32(i))
	}
	return pop
}

func TestNewPopulationStartsEmpty(t *testing.T) {
	pop := NewPopulation(4)
	if pop.Len() != 4 {
		t.Fatalf("unexpected size: got=%d want=4", pop.Len())
	}
	if in, out := pop.Arity(); in != 0 || out != 0 {
		t.Fatalf("expected no arity before reset, got=%d/%d", in, out)
	}
	for i, net := range pop.Networks() {
		if net.NodeCount() != 0 || net.Reward() != 0 {
			t.Fatalf("slot %d: expected empty network", i)
		}
	}
}

func TestResetAllBuildsMinimalNetworks(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	pop := NewPopulation(5)
	if err := pop.ResetAll(rng, 2, 1); err != nil {
		t.Fatalf("reset all: %v", err)
	}
	if in, out := pop.Arity(); in != 2 || out != 1 {
		t.Fatalf("unexpected arity: got=%d/%d want=2/1", in, out)
	}
	for i, net := range pop.Networks() {
		if net.EdgeCount() != 1 || net.NodeCount() != 3 {
			t.Fatalf("slot %d: unexpected shape nodes=%d edges=%d", i, net.NodeCount(), net.EdgeCount())
		}
	}
	if err := pop.ResetAll(rng, 0, 1); !errors.Is(err, nn.ErrInvalidArity) {
		t.Fatalf("expected invalid arity, got %v", err)
	}
	if err := pop.ResetAll(nil, 2, 1); !errors.Is(err, ErrRandomSourceRequired) {
		t.Fatalf("expected random source error, got %v", err)
	}
}

func TestResizeKeepsIndividuals(t *testing.T) {
	pop := newEvolvedPopulation(t, 2, 4)
	first := pop.At(0).Clone()

	pop.Resize(6)
	if pop.Len() != 6 {
		t.Fatalf("unexpected size: got=%d want=6", pop.Len())
	}
	if !pop.At(0).Equal(first) || pop.At(3).Reward() != 3 {
		t.Fatal("expected existing individuals and rewards to survive growth")
	}
	if pop.At(5).NodeCount() != 0 || pop.At(5).Reward() != 0 {
		t.Fatal("expected new slots to be empty")
	}

	pop.Resize(2)
	if pop.Len() != 2 || !pop.At(0).Equal(first) || pop.At(1).Reward() != 1 {
		t.Fatal("expected shrinking to truncate")
	}
}

func TestBestIndex(t *testing.T) {
	if _, err := NewPopulation(0).Best(); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected empty population error, got %v", err)
	}

	nan := float32(math.NaN())
	cases := []struct {
		name    string
		rewards []float32
		want    int
	}{
		{name: "single", rewards: []float32{-1}, want: 0},
		{name: "max", rewards: []float32{1, 5, 3}, want: 1},
		{name: "tie goes to lowest index", rewards: []float32{2, 7, 7}, want: 1},
		{name: "nan ranks last", rewards: []float32{nan, -3, nan}, want: 1},
		{name: "all nan", rewards: []float32{nan, nan}, want: 0},
	}
	for _, tc := range cases {
		pop := NewPopulation(len(tc.rewards))
		for i, reward := range tc.rewards {
			pop.At(i).SetReward(reward)
		}
		got, err := pop.BestIndex()
		if err != nil {
			t.Fatalf("%s: best index: %v", tc.name, err)
		}
		if got != tc.want {
			t.Fatalf("%s: unexpected best index: got=%d want=%d", tc.name, got, tc.want)
		}
	}
}

func TestTournamentReplaceWithElitismNeverLowersBest(t *testing.T) {
	for seed := int64(1); seed <= 30; seed++ {
		rng := rand.New(rand.NewSource(seed))
		pop := newEvolvedPopulation(t, seed, 10)
		for _, net := range pop.Networks() {
			net.SetReward(float32(rng.NormFloat64()))
		}
		before, _ := pop.Best()
		beforeReward := before.Reward()
		snapshot := make([]*nn.Network, pop.Len())
		for i, net := range pop.Networks() {
			snapshot[i] = net.Clone()
		}

		if err := pop.TournamentReplace(rng, 1+int(seed%4), true); err != nil {
			t.Fatalf("seed %d: tournament: %v", seed, err)
		}
		after, _ := pop.Best()
		if after.Reward() < beforeReward {
			t.Fatalf("seed %d: best reward dropped: before=%f after=%f", seed, beforeReward, after.Reward())
		}

		seen := make(map[*nn.Network]bool)
		for i, net := range pop.Networks() {
			if seen[net] {
				t.Fatalf("seed %d: slot %d aliases another slot", seed, i)
			}
			seen[net] = true
			found := false
			for _, parent := range snapshot {
				if net.Equal(parent) && net.Reward() == parent.Reward() {
					found = true
					break
				}
			}
			if !found {
				t.Fatalf("seed %d: slot %d is not a copy of any snapshot individual", seed, i)
			}
		}
	}
}

func TestSelectionWithoutElitismSamplesChampionSlot(t *testing.T) {
	selections := []struct {
		name   string
		replace func(pop *Population, rng *rand.Rand) error
	}{
		{name: "tournament", replace: func(pop *Population, rng *rand.Rand) error { return pop.TournamentReplace(rng, 1, false) }},
		{name: "produce", replace: func(pop *Population, rng *rand.Rand) error { return pop.Produce(rng, 1, false) }},
	}
	for _, sel := range selections {
		replaced := false
		for seed := int64(1); seed <= 30 && !replaced; seed++ {
			rng := rand.New(rand.NewSource(seed))
			pop := newEvolvedPopulation(t, seed, 10)
			for i, net := range pop.Networks() {
				net.SetReward(float32(i))
			}
			champion, err := pop.BestIndex()
			if err != nil {
				t.Fatalf("%s: best index: %v", sel.name, err)
			}
			if err := sel.replace(pop, rng); err != nil {
				t.Fatalf("%s: seed %d: %v", sel.name, seed, err)
			}
			if pop.At(champion).Reward() != float32(champion) {
				replaced = true
			}
		}
		if !replaced {
			t.Fatalf("%s: champion slot never took part in selection", sel.name)
		}
	}
}

func TestSelectionLeavesPopulationIdle(t *testing.T) {
	cases := []struct {
		name   string
		replace func(pop *Population, rng *rand.Rand) error
	}{
		{name: "tournament", replace: func(pop *Population, rng *rand.Rand) error { return pop.TournamentReplace(rng, 3, false) }},
		{name: "tournament elitism", replace: func(pop *Population, rng *rand.Rand) error { return pop.TournamentReplace(rng, 3, true) }},
		{name: "produce", replace: func(pop *Population, rng *rand.Rand) error { return pop.Produce(rng, 3, false) }},
		{name: "reduce", replace: func(pop *Population, _ *rand.Rand) error { return pop.Reduce() }},
	}
	for _, tc := range cases {
		rng := rand.New(rand.NewSource(8))
		pop := newEvolvedPopulation(t, 8, 5)
		if err := tc.replace(pop, rng); err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := pop.Phase(); got != PhaseIdle {
			t.Fatalf("%s: unexpected phase: got=%s want=%s", tc.name, got, PhaseIdle)
		}
	}
}

func TestTournamentReplaceLargeGroupConvergesOnChampion(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	pop := newEvolvedPopulation(t, 4, 8)
	champion := pop.At(7).Clone()

	if err := pop.TournamentReplace(rng, 400, false); err != nil {
		t.Fatalf("tournament: %v", err)
	}
	for i, net := range pop.Networks() {
		if !net.Equal(champion) {
			t.Fatalf("slot %d: expected champion copy", i)
		}
	}
}

func TestTournamentReplaceReusesBuffers(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	pop := newEvolvedPopulation(t, 5, 6)
	original := append([]*nn.Network(nil), pop.Networks()...)

	if err := pop.TournamentReplace(rng, 3, false); err != nil {
		t.Fatalf("tournament: %v", err)
	}
	for _, net := range pop.Networks() {
		for _, old := range original {
			if net == old {
				t.Fatal("expected a fresh roster after the first replacement")
			}
		}
	}
	if err := pop.TournamentReplace(rng, 3, false); err != nil {
		t.Fatalf("tournament: %v", err)
	}
	reused := 0
	for _, net := range pop.Networks() {
		for _, old := range original {
			if net == old {
				reused++
			}
		}
	}
	if reused != len(original) {
		t.Fatalf("expected the second replacement to reuse the first roster, reused=%d", reused)
	}
}

func TestTournamentReplaceErrors(t *testing.T) {
	if err := NewPopulation(0).TournamentReplace(rand.New(rand.NewSource(1)), 4, false); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected empty population error, got %v", err)
	}
	if err := NewPopulation(2).TournamentReplace(nil, 4, false); !errors.Is(err, ErrRandomSourceRequired) {
		t.Fatalf("expected random source error, got %v", err)
	}
}

func TestProduceCrossesSharedTopology(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	base := newResetNetwork(t, rng, 3, 2)
	for i := 0; i < 15; i++ {
		base.Mutate(rng, nn.DefaultMutationWeights())
	}
	pop := NewPopulation(6)
	for i := range pop.Networks() {
		net := base.Clone()
		net.Randomize(rng, 1)
		net.SetReward(float32(i))
		pop.networks[i] = net
	}
	champion := pop.At(5).Clone()

	if err := pop.Produce(rng, 4, true); err != nil {
		t.Fatalf("produce: %v", err)
	}
	if !pop.At(5).Equal(champion) {
		t.Fatal("expected elitism to keep the champion in its slot")
	}
	for i, net := range pop.Networks() {
		if !net.SameTopology(base) {
			t.Fatalf("slot %d: expected shared topology", i)
		}
	}
}

func TestProduceFallsBackOnTopologyMismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pop := newEvolvedPopulation(t, 7, 6)
	snapshot := make([]*nn.Network, pop.Len())
	for i, net := range pop.Networks() {
		snapshot[i] = net.Clone()
	}
	if err := pop.Produce(rng, 3, false); err != nil {
		t.Fatalf("produce: %v", err)
	}
	for i, net := range pop.Networks() {
		if err := net.Validate(); err != nil {
			t.Fatalf("slot %d: validate: %v", i, err)
		}
		found := false
		for _, parent := range snapshot {
			if net.SameTopology(parent) {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("slot %d: topology matches no parent", i)
		}
	}
}

func TestReduceCopiesBest(t *testing.T) {
	pop := newEvolvedPopulation(t, 8, 5)
	best := pop.At(4).Clone()
	if err := pop.Reduce(); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	for i, net := range pop.Networks() {
		if !net.Equal(best) || net.Reward() != best.Reward() {
			t.Fatalf("slot %d: expected copy of best", i)
		}
	}
	if err := NewPopulation(0).Reduce(); !errors.Is(err, ErrEmptyPopulation) {
		t.Fatalf("expected empty population error, got %v", err)
	}
}

func TestMutateHalfScope(t *testing.T) {
	rng := rand.New(rand.NewSource(9))
	pop := newEvolvedPopulation(t, 9, 6)
	before := make([]*nn.Network, pop.Len())
	for i, net := range pop.Networks() {
		before[i] = net.Clone()
	}

	counts := pop.Mutate(rng, nn.MutationWeights{SplitEdge: 1}, ScopeHalf, 2)
	if counts.SplitEdge != 6 || counts.Applied() != 6 {
		t.Fatalf("unexpected counts: %+v", counts)
	}
	for i := 0; i < 3; i++ {
		if pop.At(i).NodeCount() != before[i].NodeCount()+2 {
			t.Fatalf("slot %d: expected two splits", i)
		}
	}
	for i := 3; i < 6; i++ {
		if !pop.At(i).Equal(before[i]) {
			t.Fatalf("slot %d: expected second half untouched", i)
		}
	}

	single := newEvolvedPopulation(t, 10, 1)
	if got := single.Mutate(rng, nn.MutationWeights{SplitEdge: 1}, ScopeHalf, 1); got.SplitEdge != 1 {
		t.Fatalf("expected half scope to cover a single-slot roster, got %+v", got)
	}
}

func TestMutateSkipsEmptyNetworks(t *testing.T) {
	pop := NewPopulation(3)
	counts := pop.Mutate(rand.New(rand.NewSource(1)), nn.DefaultMutationWeights(), ScopeAll, 5)
	if counts != (MutationCounts{}) {
		t.Fatalf("expected no mutations on empty networks, got %+v", counts)
	}
}

func TestPerturbHalfScope(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	pop := newEvolvedPopulation(t, 11, 4)
	before := make([]*nn.Network, pop.Len())
	for i, net := range pop.Networks() {
		before[i] = net.Clone()
	}
	pop.Perturb(rng, 0.5, ScopeHalf)
	for i := 0; i < 2; i++ {
		if pop.At(i).Equal(before[i]) || !pop.At(i).SameTopology(before[i]) {
			t.Fatalf("slot %d: expected perturbed parameters with unchanged topology", i)
		}
	}
	for i := 2; i < 4; i++ {
		if !pop.At(i).Equal(before[i]) {
			t.Fatalf("slot %d: expected untouched", i)
		}
	}
}

func TestShuffleKeepsMembers(t *testing.T) {
	pop := newEvolvedPopulation(t, 12, 8)
	members := make(map[*nn.Network]bool)
	for _, net := range pop.Networks() {
		members[net] = true
	}
	pop.Shuffle(rand.New(rand.NewSource(3)))
	for _, net := range pop.Networks() {
		if !members[net] {
			t.Fatal("shuffle introduced an unknown network")
		}
		delete(members, net)
	}
	if len(members) != 0 {
		t.Fatalf("shuffle dropped %d networks", len(members))
	}
}

func TestSummary(t *testing.T) {
	pop := newEvolvedPopulation(t, 13, 4)
	s := pop.Summary()
	if s.Size != 4 || s.BestIndex != 3 || s.BestReward != 3 || s.MinReward != 0 || s.MeanReward != 1.5 {
		t.Fatalf("unexpected reward summary: %+v", s)
	}
	maxComplexity := 0
	for _, net := range pop.Networks() {
		maxComplexity = max(maxComplexity, net.Complexity())
	}
	if s.MaxComplexity != maxComplexity || s.BestComplexity != pop.At(3).Complexity() {
		t.Fatalf("unexpected complexity summary: %+v", s)
	}
	if (NewPopulation(0).Summary() != Summary{}) {
		t.Fatal("expected zero summary for empty population")
	}
}

func TestParseScopeAndSelection(t *testing.T) {
	if s, err := ParseScope("half"); err != nil || s != ScopeHalf {
		t.Fatalf("unexpected scope parse: %v %v", s, err)
	}
	if _, err := ParseScope("quarter"); err == nil {
		t.Fatal("expected unsupported scope error")
	}
	if s, err := ParseSelection(""); err != nil || s != SelectionTournament {
		t.Fatalf("unexpected selection parse: %v %v", s, err)
	}
	if _, err := ParseSelection("roulette"); err == nil {
		t.Fatal("expected unsupported selection error")
	}
}
