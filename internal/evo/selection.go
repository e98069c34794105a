package evo

import (
	"fmt"
	"math/rand"
	"sort"

	"ringevo/internal/ring"
)

// Population is the read side of an arena that tournaments sample from.
type Population interface {
	OccupiedSlots() []int
	Get(slot int) (*ring.Individual, error)
	Order() ring.Order
}

// TournamentSelector samples occupied slots and keeps the two fittest as parents.
type TournamentSelector struct {
	Size int
}

func (TournamentSelector) Name() string {
	return "tournament"
}

// SelectPmems draws count distinct occupied slots uniformly without replacement.
func (TournamentSelector) SelectPmems(rng *rand.Rand, count int, pop Population) ([]int, error) {
	if rng == nil {
		return nil, fmt.Errorf("random source is required")
	}
	if count < 0 {
		return nil, fmt.Errorf("%w: tournament size must be >= 0", ring.ErrConfiguration)
	}
	occupied := pop.OccupiedSlots()
	if count > len(occupied) {
		return nil, fmt.Errorf("%w: tournament size %d exceeds population %d", ring.ErrInsufficientPopulation, count, len(occupied))
	}
	for i := 0; i < count; i++ {
		j := i + rng.Intn(len(occupied)-i)
		occupied[i], occupied[j] = occupied[j], occupied[i]
	}
	return append([]int(nil), occupied[:count]...), nil
}

// SelectParents ranks the candidate slots and returns the best and second best.
// Equal fitness is broken by the lower slot index.
func (TournamentSelector) SelectParents(candidates []int, pop Population) (int, int, error) {
	if len(candidates) < 2 {
		return 0, 0, fmt.Errorf("%w: need 2 candidates, got %d", ring.ErrInsufficientPopulation, len(candidates))
	}

	type entry struct {
		slot    int
		fitness float64
	}
	entries := make([]entry, 0, len(candidates))
	for _, slot := range candidates {
		ind, err := pop.Get(slot)
		if err != nil {
			return 0, 0, err
		}
		if !ind.Scored() {
			return 0, 0, fmt.Errorf("%w: slot %d entered a tournament unscored", ring.ErrUnscoredIndividual, slot)
		}
		entries = append(entries, entry{slot: slot, fitness: *ind.Fitness})
	}

	order := pop.Order()
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if order.Better(a.fitness, b.fitness) {
			return true
		}
		if order.Better(b.fitness, a.fitness) {
			return false
		}
		return a.slot < b.slot
	})
	return entries[0].slot, entries[1].slot, nil
}

// Run samples Size slots and ranks them.
func (s TournamentSelector) Run(rng *rand.Rand, pop Population) ([]int, int, int, error) {
	sampled, err := s.SelectPmems(rng, s.Size, pop)
	if err != nil {
		return nil, 0, 0, err
	}
	best, second, err := s.SelectParents(sampled, pop)
	if err != nil {
		return sampled, 0, 0, err
	}
	return sampled, best, second, nil
}
