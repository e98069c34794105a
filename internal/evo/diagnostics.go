package evo

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"ringevo/internal/ring"
)

// EventDiagnostics summarises the arena after a mating event.
type EventDiagnostics struct {
	Event         int     `json:"event" csv:"event"`
	Occupied      int     `json:"occupied" csv:"occupied"`
	BestFitness   float64 `json:"best_fitness" csv:"best_fitness"`
	MeanFitness   float64 `json:"mean_fitness" csv:"mean_fitness"`
	StdDevFitness float64 `json:"stddev_fitness" csv:"stddev_fitness"`
	WorstFitness  float64 `json:"worst_fitness" csv:"worst_fitness"`
	MeanAge       float64 `json:"mean_age" csv:"mean_age"`
	FailedMembers int     `json:"failed_members" csv:"failed_members"`
}

// SummarizeArena computes fitness statistics over the scored, non-failed
// members. Failed sentinels are counted but kept out of the moments.
func SummarizeArena(members []*ring.Individual, order ring.Order, event int) EventDiagnostics {
	diag := EventDiagnostics{Event: event, Occupied: len(members)}
	if len(members) == 0 {
		return diag
	}

	fitness := make([]float64, 0, len(members))
	ages := make([]float64, 0, len(members))
	for _, m := range members {
		ages = append(ages, float64(m.Age(event)))
		if m.Failed {
			diag.FailedMembers++
			continue
		}
		if !m.Scored() || math.IsNaN(*m.Fitness) || math.IsInf(*m.Fitness, 0) {
			continue
		}
		fitness = append(fitness, *m.Fitness)
	}
	diag.MeanAge = stat.Mean(ages, nil)
	if len(fitness) == 0 {
		diag.BestFitness = order.Worst()
		diag.WorstFitness = order.Worst()
		return diag
	}

	best, worst := fitness[0], fitness[0]
	for _, f := range fitness[1:] {
		if order.Better(f, best) {
			best = f
		}
		if order.Better(worst, f) {
			worst = f
		}
	}
	diag.BestFitness = best
	diag.WorstFitness = worst
	if len(fitness) > 1 {
		diag.MeanFitness, diag.StdDevFitness = stat.MeanStdDev(fitness, nil)
	} else {
		diag.MeanFitness = fitness[0]
	}
	return diag
}
