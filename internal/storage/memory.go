package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"ringevo/internal/model"
)

var errNotInitialized = errors.New("store is not initialized")

type islandKey struct {
	runID  string
	island int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	snapshots   map[islandKey]model.ArenaSnapshot
	events      map[string][]model.EventRecord
	history     map[islandKey][]float64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.snapshots = make(map[islandKey]model.ArenaSnapshot)
	s.events = make(map[string][]model.EventRecord)
	s.history = make(map[islandKey][]float64)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return copyRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].CreatedAt.Before(runs[j].CreatedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *MemoryStore) SaveArenaSnapshot(_ context.Context, snapshot model.ArenaSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.snapshots[islandKey{snapshot.RunID, snapshot.Island}] = copySnapshot(snapshot)
	return nil
}

func (s *MemoryStore) GetArenaSnapshot(_ context.Context, runID string, island int) (model.ArenaSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.snapshots[islandKey{runID, island}]
	if !ok {
		return model.ArenaSnapshot{}, false, nil
	}
	return copySnapshot(snapshot), true, nil
}

func (s *MemoryStore) AppendEvents(_ context.Context, runID string, events []model.EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	stored := s.events[runID]
	for _, event := range events {
		stored = append(stored, copyEvent(event))
	}
	s.events[runID] = stored
	return nil
}

func (s *MemoryStore) GetEvents(_ context.Context, runID string) ([]model.EventRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events, ok := s.events[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.EventRecord, 0, len(events))
	for _, event := range events {
		copied = append(copied, copyEvent(event))
	}
	return copied, true, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, island int, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	s.history[islandKey{runID, island}] = append([]float64(nil), history...)
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string, island int) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[islandKey{runID, island}]
	if !ok {
		return nil, false, nil
	}
	return append([]float64(nil), history...), true, nil
}

func copyRun(run model.RunRecord) model.RunRecord {
	run.BestFitness = copyFloat(run.BestFitness)
	return run
}

func copySnapshot(snapshot model.ArenaSnapshot) model.ArenaSnapshot {
	members := make([]model.MemberRecord, len(snapshot.Members))
	for i, m := range snapshot.Members {
		genome := make([][]float64, len(m.Genome))
		for c := range m.Genome {
			genome[c] = append([]float64(nil), m.Genome[c]...)
		}
		m.Genome = genome
		m.Fitness = copyFloat(m.Fitness)
		members[i] = m
	}
	snapshot.Members = members
	return snapshot
}

func copyEvent(event model.EventRecord) model.EventRecord {
	event.Tournament = append([]int(nil), event.Tournament...)
	event.ParentAFitness = copyFloat(event.ParentAFitness)
	event.ParentBFitness = copyFloat(event.ParentBFitness)
	event.BestFitness = copyFloat(event.BestFitness)
	for i := range event.Children {
		event.Children[i].Fitness = copyFloat(event.Children[i].Fitness)
	}
	return event
}

func copyFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
