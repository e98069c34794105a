package fitness

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"

	"ringevo/internal/genome"
)

// EnergyFunc scores a single conformer.
type EnergyFunc func(conformer []float64) (float64, error)

// DistanceFunc measures the structural distance between two conformers.
type DistanceFunc func(a, b []float64) (float64, error)

// Formula combines conformer energies and pairwise distances into one score:
//
//	EnergyCoef * |sum of energies| + DistanceCoef * sum of pairwise distances
//
// Pairs are all unordered conformer pairs. A nil Energy or Distance term
// contributes nothing.
type Formula struct {
	EnergyCoef   float64
	DistanceCoef float64
	Energy       EnergyFunc
	Distance     DistanceFunc
}

// NewTorsionFormula wires the synthetic torsional terms into a Formula.
func NewTorsionFormula(energyCoef, distanceCoef float64) Formula {
	return Formula{
		EnergyCoef:   energyCoef,
		DistanceCoef: distanceCoef,
		Energy:       TorsionEnergy,
		Distance:     AngularRMSD,
	}
}

// Evaluate scores g. It makes Formula usable as a fitness oracle.
func (f Formula) Evaluate(ctx context.Context, g genome.Genome) (float64, error) {
	if len(g) == 0 {
		return 0, fmt.Errorf("genome has no conformers")
	}

	energy := 0.0
	if f.Energy != nil && f.EnergyCoef != 0 {
		energies := make([]float64, len(g))
		for i, conformer := range g {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			e, err := f.Energy(conformer)
			if err != nil {
				return 0, fmt.Errorf("conformer %d energy: %w", i, err)
			}
			energies[i] = e
		}
		energy = math.Abs(floats.Sum(energies))
	}

	distance := 0.0
	if f.Distance != nil && f.DistanceCoef != 0 {
		for _, pair := range AllPairs(len(g)) {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			d, err := f.Distance(g[pair[0]], g[pair[1]])
			if err != nil {
				return 0, fmt.Errorf("conformers %d/%d distance: %w", pair[0], pair[1], err)
			}
			distance += d
		}
	}

	score := f.EnergyCoef*energy + f.DistanceCoef*distance
	if math.IsNaN(score) {
		return 0, fmt.Errorf("fitness is NaN")
	}
	return score, nil
}

// AllPairs lists every unordered pair (i, j) with i < j < n.
func AllPairs(n int) [][2]int {
	if n < 2 {
		return nil
	}
	out := make([][2]int, 0, n*(n-1)/2)
	for i := 0; i < n-1; i++ {
		for j := i + 1; j < n; j++ {
			out = append(out, [2]int{i, j})
		}
	}
	return out
}
