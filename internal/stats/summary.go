package stats

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"ringevo/internal/model"
	"ringevo/internal/ring"
)

// FormatGenome renders conformers separated by "|" and angles by spaces,
// e.g. "60 180|300 60".
func FormatGenome(genome [][]float64) string {
	var b strings.Builder
	for c, conformer := range genome {
		if c > 0 {
			b.WriteByte('|')
		}
		for a, angle := range conformer {
			if a > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(strconv.FormatFloat(angle, 'g', -1, 64))
		}
	}
	return b.String()
}

func ParseGenome(s string) ([][]float64, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, "|")
	genome := make([][]float64, len(parts))
	for c, part := range parts {
		fields := strings.Fields(part)
		conformer := make([]float64, len(fields))
		for a, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, fmt.Errorf("conformer %d angle %d: %w", c, a, err)
			}
			conformer[a] = v
		}
		genome[c] = conformer
	}
	return genome, nil
}

// SummarizeIsland reduces the final members and best-fitness history of one
// island. Failed and non-finite fitness values stay out of the moments.
func SummarizeIsland(island, nextEvent, capacity int, members []MemberRow, history []float64, order ring.Order) IslandSummary {
	summary := IslandSummary{
		Island:    island,
		NextEvent: nextEvent,
		Occupied:  len(members),
		Capacity:  capacity,
	}

	values := make([]float64, 0, len(members))
	for _, m := range members {
		if m.Failed || math.IsNaN(m.Fitness) || math.IsInf(m.Fitness, 0) {
			continue
		}
		values = append(values, m.Fitness)
	}
	if len(values) > 0 {
		best := values[0]
		for _, v := range values[1:] {
			if order.Better(v, best) {
				best = v
			}
		}
		summary.BestFitness = model.Finite(best)
		mean, std := stat.MeanStdDev(values, nil)
		summary.MeanFitness = model.Finite(mean)
		if len(values) > 1 {
			summary.StdDevFitness = model.Finite(std)
		}
	}

	finite := make([]float64, 0, len(history))
	for _, h := range history {
		if !math.IsNaN(h) && !math.IsInf(h, 0) {
			finite = append(finite, h)
		}
	}
	if len(finite) > 1 {
		summary.Improvement = model.Finite(math.Abs(finite[len(finite)-1] - finite[0]))
	}
	return summary
}
