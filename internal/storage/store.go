package storage

import (
	"context"

	"ringevo/internal/model"
)

// Store defines transaction-like persistence operations for runs and their
// island arenas.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run ordered by creation time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveArenaSnapshot(ctx context.Context, snapshot model.ArenaSnapshot) error
	GetArenaSnapshot(ctx context.Context, runID string, island int) (model.ArenaSnapshot, bool, error)
	// AppendEvents adds events after those already stored for the run.
	AppendEvents(ctx context.Context, runID string, events []model.EventRecord) error
	GetEvents(ctx context.Context, runID string) ([]model.EventRecord, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, island int, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string, island int) ([]float64, bool, error)
}
