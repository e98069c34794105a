package genome

import (
	"fmt"
	"math/rand"
)

// Genome holds one angle vector per conformer.
type Genome [][]float64

// Conformers returns the number of conformer vectors.
func (g Genome) Conformers() int {
	return len(g)
}

// Positions returns the total number of mutable angle positions.
func (g Genome) Positions() int {
	total := 0
	for _, angles := range g {
		total += len(angles)
	}
	return total
}

// Locate maps a flat position onto a (conformer, angle) pair.
func (g Genome) Locate(position int) (int, int, bool) {
	if position < 0 {
		return 0, 0, false
	}
	for c, angles := range g {
		if position < len(angles) {
			return c, position, true
		}
		position -= len(angles)
	}
	return 0, 0, false
}

func (g Genome) Clone() Genome {
	if g == nil {
		return nil
	}
	out := make(Genome, len(g))
	for i, angles := range g {
		out[i] = append([]float64(nil), angles...)
	}
	return out
}

func (g Genome) Equal(other Genome) bool {
	if len(g) != len(other) {
		return false
	}
	for i := range g {
		if len(g[i]) != len(other[i]) {
			return false
		}
		for j := range g[i] {
			if g[i][j] != other[i][j] {
				return false
			}
		}
	}
	return true
}

// Factory produces fresh genomes for newly filled slots.
type Factory interface {
	New(rng *rand.Rand) Genome
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(rng *rand.Rand) Genome

func (f FactoryFunc) New(rng *rand.Rand) Genome {
	return f(rng)
}

// AngleFactory draws every angle uniformly from [Min, Max).
type AngleFactory struct {
	Conformers int
	Angles     int
	Min        float64
	Max        float64
}

func NewAngleFactory(conformers, angles int, lo, hi float64) (AngleFactory, error) {
	if conformers <= 0 {
		return AngleFactory{}, fmt.Errorf("conformer count must be > 0")
	}
	if angles <= 0 {
		return AngleFactory{}, fmt.Errorf("angle count must be > 0")
	}
	if hi <= lo {
		return AngleFactory{}, fmt.Errorf("angle range is empty: [%g, %g)", lo, hi)
	}
	return AngleFactory{Conformers: conformers, Angles: angles, Min: lo, Max: hi}, nil
}

func (f AngleFactory) New(rng *rand.Rand) Genome {
	g := make(Genome, f.Conformers)
	for c := range g {
		angles := make([]float64, f.Angles)
		for i := range angles {
			angles[i] = f.Draw(rng)
		}
		g[c] = angles
	}
	return g
}

// Draw returns one uniform angle from the factory range.
func (f AngleFactory) Draw(rng *rand.Rand) float64 {
	return f.Min + rng.Float64()*(f.Max-f.Min)
}
