package storage

import (
	"context"
	"testing"
	"time"

	"ringevo/internal/model"
)

func TestMemoryStoreRunsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, id := range []string{"run-c", "run-a", "run-b"} {
		run := model.RunRecord{
			VersionedRecord: CurrentVersion(),
			ID:              id,
			CreatedAt:       base.Add(time.Duration(i) * time.Minute),
			Status:          model.RunCompleted,
		}
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 3 || runs[0].ID != "run-c" || runs[2].ID != "run-b" {
		t.Fatalf("unexpected run order: %+v", runs)
	}

	got, ok, err := store.GetRun(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if got.Status != model.RunCompleted {
		t.Fatalf("unexpected run: %+v", got)
	}
	if _, ok, _ := store.GetRun(ctx, "missing"); ok {
		t.Fatal("expected missing run")
	}
}

func TestMemoryStoreSnapshotIsCopied(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	fitness := 4.0
	snapshot := model.ArenaSnapshot{
		VersionedRecord: CurrentVersion(),
		RunID:           "run-1",
		Island:          1,
		Capacity:        8,
		Members: []model.MemberRecord{
			{Slot: 3, Genome: [][]float64{{1, 2}}, Fitness: &fitness},
		},
	}
	if err := store.SaveArenaSnapshot(ctx, snapshot); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	snapshot.Members[0].Genome[0][0] = 99
	fitness = 100

	loaded, ok, err := store.GetArenaSnapshot(ctx, "run-1", 1)
	if err != nil || !ok {
		t.Fatalf("get snapshot: ok=%t err=%v", ok, err)
	}
	if loaded.Members[0].Genome[0][0] != 1 || *loaded.Members[0].Fitness != 4 {
		t.Fatalf("stored snapshot aliased caller data: %+v", loaded.Members[0])
	}
	if _, ok, _ := store.GetArenaSnapshot(ctx, "run-1", 0); ok {
		t.Fatal("expected no snapshot for island 0")
	}
}

func TestMemoryStoreAppendEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	first := []model.EventRecord{{VersionedRecord: CurrentVersion(), Event: 0}, {VersionedRecord: CurrentVersion(), Event: 1}}
	second := []model.EventRecord{{VersionedRecord: CurrentVersion(), Event: 2}}
	if err := store.AppendEvents(ctx, "run-1", first); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := store.AppendEvents(ctx, "run-1", second); err != nil {
		t.Fatalf("append: %v", err)
	}
	events, ok, err := store.GetEvents(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get events: ok=%t err=%v", ok, err)
	}
	if len(events) != 3 || events[2].Event != 2 {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestMemoryStoreFitnessHistoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	input := []float64{0.1, 0.2, 0.3}
	if err := store.SaveFitnessHistory(ctx, "run-1", 0, input); err != nil {
		t.Fatalf("save history: %v", err)
	}
	output, ok, err := store.GetFitnessHistory(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted fitness history")
	}
	if len(output) != len(input) || output[2] != input[2] {
		t.Fatalf("unexpected history: %+v", output)
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	if err := store.SaveRun(context.Background(), model.RunRecord{ID: "run-1"}); err == nil {
		t.Fatal("expected error before init")
	}
}
