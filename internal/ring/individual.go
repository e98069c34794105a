package ring

import "ringevo/internal/genome"

// Individual is one population member (pmem): a conformer genome plus its
// fitness and birth metadata.
type Individual struct {
	Slot       int
	Genome     genome.Genome
	Fitness    *float64
	BirthEvent int
	// Failed marks a fitness that is the sentinel for a failed evaluation.
	Failed bool
}

// NewIndividual returns an unplaced, unscored individual.
func NewIndividual(g genome.Genome, birthEvent int) *Individual {
	return &Individual{Slot: -1, Genome: g, BirthEvent: birthEvent}
}

func (ind *Individual) Scored() bool {
	return ind != nil && ind.Fitness != nil
}

// Score records a fitness value.
func (ind *Individual) Score(fitness float64) {
	ind.Fitness = &fitness
	ind.Failed = false
}

// ScoreFailed records the sentinel fitness for an evaluation that did not complete.
func (ind *Individual) ScoreFailed(order Order) {
	worst := order.Worst()
	ind.Fitness = &worst
	ind.Failed = true
}

func (ind *Individual) Age(currentEvent int) int {
	return currentEvent - ind.BirthEvent
}

func (ind *Individual) Clone() *Individual {
	if ind == nil {
		return nil
	}
	out := *ind
	out.Genome = ind.Genome.Clone()
	if ind.Fitness != nil {
		f := *ind.Fitness
		out.Fitness = &f
	}
	return &out
}
