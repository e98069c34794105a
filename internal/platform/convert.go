package platform

import (
	"ringevo/internal/evo"
	"ringevo/internal/genome"
	"ringevo/internal/model"
	"ringevo/internal/ring"
	"ringevo/internal/storage"
)

func toMemberRecords(members []*ring.Individual) []model.MemberRecord {
	out := make([]model.MemberRecord, 0, len(members))
	for _, m := range members {
		record := model.MemberRecord{
			Slot:       m.Slot,
			Genome:     m.Genome.Clone(),
			BirthEvent: m.BirthEvent,
			Failed:     m.Failed,
		}
		if m.Scored() && !m.Failed {
			record.Fitness = model.Finite(*m.Fitness)
		}
		out = append(out, record)
	}
	return out
}

// fromMemberRecords rebuilds individuals. Failed members get the sentinel
// score of order; members stored without fitness come back unscored.
func fromMemberRecords(records []model.MemberRecord, order ring.Order) []*ring.Individual {
	out := make([]*ring.Individual, 0, len(records))
	for _, r := range records {
		ind := ring.NewIndividual(genome.Genome(r.Genome).Clone(), r.BirthEvent)
		ind.Slot = r.Slot
		switch {
		case r.Failed:
			ind.ScoreFailed(order)
		case r.Fitness != nil:
			ind.Score(*r.Fitness)
		}
		out = append(out, ind)
	}
	return out
}

func toModelEvents(island int, events []evo.EventRecord) []model.EventRecord {
	out := make([]model.EventRecord, 0, len(events))
	for _, e := range events {
		record := model.EventRecord{
			VersionedRecord: storage.CurrentVersion(),
			Island:          island,
			Event:           e.Event,
			Tournament:      append([]int(nil), e.Tournament...),
			ParentA:         e.ParentA,
			ParentB:         e.ParentB,
			ParentAFitness:  model.Finite(e.ParentAFitness),
			ParentBFitness:  model.Finite(e.ParentBFitness),
			Discarded:       e.Discarded,
			Occupied:        e.Diagnostics.Occupied,
			BestFitness:     model.Finite(e.Diagnostics.BestFitness),
			MeanFitness:     e.Diagnostics.MeanFitness,
			StdDevFitness:   e.Diagnostics.StdDevFitness,
			MeanAge:         e.Diagnostics.MeanAge,
		}
		for i, child := range e.Children {
			record.Children[i] = model.ChildOutcome{
				Anchor:  child.Anchor,
				Slot:    child.Slot,
				Outcome: child.Outcome.String(),
				Fitness: model.Finite(child.Fitness),
				Failed:  child.Failed,
				Error:   child.EvalError,
			}
			if child.IncumbentFitness != nil {
				record.Children[i].IncumbentFitness = model.Finite(*child.IncumbentFitness)
			}
			if e.Discarded {
				record.Children[i].Outcome = "discarded"
			}
		}
		out = append(out, record)
	}
	return out
}
