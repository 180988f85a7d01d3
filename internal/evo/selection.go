package evo

import (
	"errors"
	"fmt"
	"math/rand"

	"evolution/internal/nn"
)

const DefaultGroupSize = 16

// Selection names a replacement strategy used by Step.
type Selection string

const (
	// SelectionTournament refills each slot with a clone of a tournament
	// winner.
	SelectionTournament Selection = "tournament"
	// SelectionProduce refills each slot with the crossover of a tournament
	// winner and runner-up.
	SelectionProduce Selection = "produce"
	// SelectionReduce copies the best individual into every slot.
	SelectionReduce Selection = "reduce"
)

func ParseSelection(name string) (Selection, error) {
	switch Selection(name) {
	case "", SelectionTournament:
		return SelectionTournament, nil
	case SelectionProduce, SelectionReduce:
		return Selection(name), nil
	default:
		return "", fmt.Errorf("unsupported selection: %s", name)
	}
}

// tournament samples groupSize slots with replacement and returns the
// highest-reward one and the runner-up. With a single sample both are the
// same slot.
func tournament(rng *rand.Rand, snapshot []*nn.Network, groupSize int) (int, int) {
	best := rng.Intn(len(snapshot))
	second := best
	for i := 1; i < groupSize; i++ {
		candidate := rng.Intn(len(snapshot))
		reward := snapshot[candidate].Reward()
		switch {
		case better(reward, snapshot[best].Reward()):
			second = best
			best = candidate
		case second == best || better(reward, snapshot[second].Reward()):
			second = candidate
		}
	}
	return best, second
}

func normalizeGroupSize(groupSize int) int {
	if groupSize < 1 {
		return DefaultGroupSize
	}
	return groupSize
}

// nextRoster returns a roster of len(p.networks) reusable networks that do
// not alias the live one.
func (p *Population) nextRoster() []*nn.Network {
	next := p.spare[:cap(p.spare)]
	if len(next) < len(p.networks) {
		next = append(next, make([]*nn.Network, len(p.networks)-len(next))...)
	}
	next = next[:len(p.networks)]
	for i := range next {
		if next[i] == nil {
			next[i] = &nn.Network{}
		}
	}
	return next
}

func (p *Population) swapRoster(next []*nn.Network) {
	p.spare = p.networks
	p.networks = next
}

// TournamentReplace rebuilds the roster from a frozen snapshot of the current
// one. Every slot receives a copy of the winner of a tournament of groupSize
// samples. With elitism the champion's slot keeps the champion instead, so the
// best reward never drops.
func (p *Population) TournamentReplace(rng *rand.Rand, groupSize int, elitism bool) error {
	if len(p.networks) == 0 {
		return ErrEmptyPopulation
	}
	if rng == nil {
		return ErrRandomSourceRequired
	}
	groupSize = normalizeGroupSize(groupSize)

	p.setPhase(PhaseSelecting)
	defer p.setPhase(PhaseIdle)
	snapshot := p.networks
	champion := eliteSlot(snapshot, elitism)
	next := p.nextRoster()
	for i := range next {
		if i == champion {
			next[i].CopyFrom(snapshot[i])
			continue
		}
		winner, _ := tournament(rng, snapshot, groupSize)
		next[i].CopyFrom(snapshot[winner])
	}

	p.setPhase(PhaseReplacing)
	p.swapRoster(next)
	return nil
}

// eliteSlot returns the slot pinned during replacement, or -1 without
// elitism.
func eliteSlot(snapshot []*nn.Network, elitism bool) int {
	if !elitism {
		return -1
	}
	return bestOf(snapshot)
}

// Produce rebuilds the roster like TournamentReplace, elitism included, but
// each slot receives the crossover of the tournament winner and runner-up. Parents with
// different topologies fall back to a copy of the winner.
func (p *Population) Produce(rng *rand.Rand, groupSize int, elitism bool) error {
	if len(p.networks) == 0 {
		return ErrEmptyPopulation
	}
	if rng == nil {
		return ErrRandomSourceRequired
	}
	groupSize = normalizeGroupSize(groupSize)

	p.setPhase(PhaseSelecting)
	defer p.setPhase(PhaseIdle)
	snapshot := p.networks
	champion := eliteSlot(snapshot, elitism)
	next := p.nextRoster()
	for i := range next {
		if i == champion {
			next[i].CopyFrom(snapshot[i])
			continue
		}
		winner, runnerUp := tournament(rng, snapshot, groupSize)
		if winner == runnerUp {
			next[i].CopyFrom(snapshot[winner])
			continue
		}
		child, err := nn.Crossover(rng, snapshot[winner], snapshot[runnerUp])
		switch {
		case errors.Is(err, nn.ErrTopologyMismatch):
			next[i].CopyFrom(snapshot[winner])
		case err != nil:
			return err
		default:
			next[i] = child
		}
	}

	p.setPhase(PhaseReplacing)
	p.swapRoster(next)
	return nil
}

// Reduce copies the best individual into every other slot.
func (p *Population) Reduce() error {
	if len(p.networks) == 0 {
		return ErrEmptyPopulation
	}
	p.setPhase(PhaseReplacing)
	defer p.setPhase(PhaseIdle)
	best := bestOf(p.networks)
	for i, net := range p.networks {
		if i != best {
			net.CopyFrom(p.networks[best])
		}
	}
	return nil
}
