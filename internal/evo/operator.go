package evo

import (
	"fmt"
	"math/rand"

	"ringevo/internal/genome"
	"ringevo/internal/ring"
)

// Breeder produces two fresh, unscored children from two parent genomes.
type Breeder interface {
	Name() string
	GenerateChildren(rng *rand.Rand, parentA, parentB genome.Genome, event int) (*ring.Individual, *ring.Individual, error)
}

// Variation is the conformer operator set: conformer swaps between parents
// followed by replacement mutations of single angles. Mutated angles are drawn
// from [AngleMin, AngleMax); the zero value of both bounds means [0, 360).
type Variation struct {
	MutationCount int
	SwapCount     int
	AngleMin      float64
	AngleMax      float64
}

func (Variation) Name() string {
	return "swap_mutate"
}

// Validate checks the operator counts against a genome shape.
func (v Variation) Validate(conformers, anglesPerConformer int) error {
	if v.MutationCount < 0 || v.MutationCount > conformers*anglesPerConformer {
		return fmt.Errorf("%w: mutation count %d not in [0, %d]", ring.ErrConfiguration, v.MutationCount, conformers*anglesPerConformer)
	}
	if v.SwapCount < 0 || v.SwapCount > conformers {
		return fmt.Errorf("%w: swap count %d not in [0, %d]", ring.ErrConfiguration, v.SwapCount, conformers)
	}
	if !v.defaultRange() && v.AngleMax <= v.AngleMin {
		return fmt.Errorf("%w: angle range [%g, %g) is empty", ring.ErrConfiguration, v.AngleMin, v.AngleMax)
	}
	return nil
}

// Mutate returns a copy of g with count distinct positions redrawn from the
// angle range. The new values do not depend on the old ones.
func (v Variation) Mutate(rng *rand.Rand, g genome.Genome, count int) (genome.Genome, error) {
	positions := g.Positions()
	if count < 0 || count > positions {
		return nil, fmt.Errorf("%w: mutation count %d exceeds %d positions", ring.ErrConfiguration, count, positions)
	}
	out := g.Clone()
	for _, p := range sampleDistinct(rng, positions, count) {
		c, a, _ := out.Locate(p)
		out[c][a] = v.drawAngle(rng)
	}
	return out, nil
}

// Swap exchanges count distinct conformer vectors between a and b.
func (v Variation) Swap(rng *rand.Rand, a, b genome.Genome, count int) (genome.Genome, genome.Genome, error) {
	if len(a) != len(b) {
		return nil, nil, fmt.Errorf("%w: parents have %d and %d conformers", ring.ErrConfiguration, len(a), len(b))
	}
	if count < 0 || count > len(a) {
		return nil, nil, fmt.Errorf("%w: swap count %d exceeds %d conformers", ring.ErrConfiguration, count, len(a))
	}
	outA, outB := a.Clone(), b.Clone()
	for _, c := range sampleDistinct(rng, len(a), count) {
		outA[c], outB[c] = outB[c], outA[c]
	}
	return outA, outB, nil
}

func (v Variation) GenerateChildren(rng *rand.Rand, parentA, parentB genome.Genome, event int) (*ring.Individual, *ring.Individual, error) {
	recA, recB, err := v.Swap(rng, parentA, parentB, v.SwapCount)
	if err != nil {
		return nil, nil, err
	}
	childA, err := v.Mutate(rng, recA, v.MutationCount)
	if err != nil {
		return nil, nil, err
	}
	childB, err := v.Mutate(rng, recB, v.MutationCount)
	if err != nil {
		return nil, nil, err
	}
	return ring.NewIndividual(childA, event), ring.NewIndividual(childB, event), nil
}

func (v Variation) defaultRange() bool {
	return v.AngleMin == 0 && v.AngleMax == 0
}

func (v Variation) drawAngle(rng *rand.Rand) float64 {
	lo, hi := v.AngleMin, v.AngleMax
	if v.defaultRange() {
		hi = 360
	}
	return lo + rng.Float64()*(hi-lo)
}

// sampleDistinct draws k distinct values from [0, n) with a partial Fisher-Yates shuffle.
func sampleDistinct(rng *rand.Rand, n, k int) []int {
	if k <= 0 {
		return nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(n-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	return idx[:k]
}
