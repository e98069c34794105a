package platform

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"testing"

	"ringevo/internal/evo"
	"ringevo/internal/genome"
	"ringevo/internal/model"
	"ringevo/internal/ring"
	"ringevo/internal/storage"
)

func sumOracle() evo.Oracle {
	return evo.OracleFunc(func(_ context.Context, g genome.Genome) (float64, error) {
		total := 0.0
		for _, conformer := range g {
			for _, angle := range conformer {
				total += angle
			}
		}
		return total, nil
	})
}

func testRunConfig(t *testing.T, runID string) RunConfig {
	t.Helper()
	factory, err := genome.NewAngleFactory(2, 2, 0, 360)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	return RunConfig{
		RunID:          runID,
		NumSlots:       10,
		InitPopSize:    5,
		PmemDist:       2,
		NumEvents:      10,
		TournamentSize: 3,
		Variation:      evo.Variation{MutationCount: 1, SwapCount: 1, AngleMin: 0, AngleMax: 360},
		Factory:        factory,
		Oracle:         sumOracle(),
		Seed:           7,
	}
}

func newTestPolis(t *testing.T) (*Polis, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	p := NewPolis(Config{Store: store})
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return p, store
}

func TestRunRingRequiresInit(t *testing.T) {
	p := NewPolis(Config{Store: storage.NewMemoryStore()})
	if _, err := p.RunRing(context.Background(), testRunConfig(t, "run-1")); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := NewPolis(Config{}).Init(context.Background()); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestRunRingValidatesConfig(t *testing.T) {
	p, _ := newTestPolis(t)
	cases := map[string]func(*RunConfig){
		"no factory":        func(c *RunConfig) { c.Factory = nil },
		"no oracle":         func(c *RunConfig) { c.Oracle = nil },
		"negative events":   func(c *RunConfig) { c.NumEvents = -1 },
		"oversized fill":    func(c *RunConfig) { c.InitPopSize = 11 },
		"tournament > fill": func(c *RunConfig) { c.TournamentSize = 6 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := testRunConfig(t, "run-"+name)
			mutate(&cfg)
			if _, err := p.RunRing(context.Background(), cfg); !errors.Is(err, ring.ErrConfiguration) {
				t.Fatalf("expected ErrConfiguration, got %v", err)
			}
		})
	}
}

func TestRunRingPersistsRun(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPolis(t)

	var observed atomic.Int32
	cfg := testRunConfig(t, "run-1")
	cfg.OnEvent = func(island int, _ evo.EventRecord) {
		if island != 0 {
			t.Errorf("unexpected island %d", island)
		}
		observed.Add(1)
	}
	result, err := p.RunRing(ctx, cfg)
	if err != nil {
		t.Fatalf("run ring: %v", err)
	}
	if result.RunID != "run-1" || result.Run.Status != model.RunCompleted {
		t.Fatalf("unexpected run: %+v", result.Run)
	}
	if result.Run.EventsExecuted != 10 || result.Run.EventsRequested != 10 || observed.Load() != 10 {
		t.Fatalf("unexpected event counts: run=%+v observed=%d", result.Run, observed.Load())
	}
	if result.Run.BestFitness == nil || result.Run.BestIsland != 0 {
		t.Fatalf("expected best member on island 0, got %+v", result.Run)
	}
	if p.ActiveRun("run-1") {
		t.Fatal("run control should be released after the run")
	}

	stored, ok, err := store.GetRun(ctx, "run-1")
	if err != nil || !ok {
		t.Fatalf("get run: ok=%t err=%v", ok, err)
	}
	if stored.Status != model.RunCompleted || stored.NumSlots != 10 || stored.Direction != "maximize" {
		t.Fatalf("unexpected stored run: %+v", stored)
	}
	snapshot, ok, err := store.GetArenaSnapshot(ctx, "run-1", 0)
	if err != nil || !ok {
		t.Fatalf("get snapshot: ok=%t err=%v", ok, err)
	}
	if snapshot.NextEvent != 10 || snapshot.Capacity != 10 || snapshot.LocalityRadius != 2 {
		t.Fatalf("unexpected snapshot header: %+v", snapshot)
	}
	if len(snapshot.Members) < 5 {
		t.Fatalf("population shrank: %d members", len(snapshot.Members))
	}
	for _, m := range snapshot.Members {
		if m.Fitness == nil {
			t.Fatalf("member in slot %d stored without fitness", m.Slot)
		}
	}
	events, ok, err := store.GetEvents(ctx, "run-1")
	if err != nil || !ok || len(events) != 10 {
		t.Fatalf("unexpected events: ok=%t err=%v n=%d", ok, err, len(events))
	}
	history, ok, err := store.GetFitnessHistory(ctx, "run-1", 0)
	if err != nil || !ok || len(history) != 10 {
		t.Fatalf("unexpected history: ok=%t err=%v n=%d", ok, err, len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i] < history[i-1] {
			t.Fatalf("best fitness regressed at event %d: %v", i, history)
		}
	}

	if _, err := p.RunRing(ctx, cfg); err == nil {
		t.Fatal("expected error when reusing a stored run id")
	}
}

func TestRunRingContinuesStoredRun(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPolis(t)
	first, err := p.RunRing(ctx, testRunConfig(t, "run-1"))
	if err != nil {
		t.Fatalf("first run: %v", err)
	}

	cfg := testRunConfig(t, "")
	cfg.ContinueRunID = "run-1"
	cfg.NumEvents = 5
	cfg.NumSlots = 0
	cfg.InitPopSize = 0
	resumed, err := p.RunRing(ctx, cfg)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	if resumed.RunID != "run-1" || resumed.Islands[0].NextEvent != 15 {
		t.Fatalf("unexpected resumed result: id=%s next=%d", resumed.RunID, resumed.Islands[0].NextEvent)
	}
	if resumed.Run.EventsExecuted != 15 || resumed.Run.EventsRequested != 15 {
		t.Fatalf("unexpected accumulated counts: %+v", resumed.Run)
	}
	if !resumed.Run.CreatedAt.Equal(first.Run.CreatedAt) {
		t.Fatal("resume must keep the original creation time")
	}
	if first.Run.BestFitness != nil && *resumed.Run.BestFitness < *first.Run.BestFitness {
		t.Fatalf("best fitness regressed across resume: %g -> %g", *first.Run.BestFitness, *resumed.Run.BestFitness)
	}
	if got := resumed.Islands[0].Events[0].Event; got != 10 {
		t.Fatalf("resumed events should start at 10, got %d", got)
	}

	events, _, err := store.GetEvents(ctx, "run-1")
	if err != nil || len(events) != 15 {
		t.Fatalf("expected 15 stored events, got %d err=%v", len(events), err)
	}
	history, _, err := store.GetFitnessHistory(ctx, "run-1", 0)
	if err != nil || len(history) != 15 {
		t.Fatalf("expected 15 history entries, got %d err=%v", len(history), err)
	}

	cfg.ContinueRunID = "missing"
	if _, err := p.RunRing(ctx, cfg); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunRingIslands(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPolis(t)
	cfg := testRunConfig(t, "run-islands")
	cfg.Islands = 3
	cfg.NumEvents = 6

	result, err := p.RunRing(ctx, cfg)
	if err != nil {
		t.Fatalf("run ring: %v", err)
	}
	if len(result.Islands) != 3 || result.Run.Islands != 3 || result.Run.EventsExecuted != 18 {
		t.Fatalf("unexpected island results: %+v", result.Run)
	}
	perIsland := map[int]int{}
	events, _, err := store.GetEvents(ctx, "run-islands")
	if err != nil {
		t.Fatalf("get events: %v", err)
	}
	for _, e := range events {
		perIsland[e.Island]++
	}
	for i := 0; i < 3; i++ {
		if perIsland[i] != 6 {
			t.Fatalf("island %d stored %d events, want 6", i, perIsland[i])
		}
		if _, ok, err := store.GetArenaSnapshot(ctx, "run-islands", i); err != nil || !ok {
			t.Fatalf("missing snapshot for island %d: %v", i, err)
		}
	}
	island, best, ok := result.BestMember(ring.Order{})
	if !ok || island != result.Run.BestIsland || best.Slot != result.Run.BestSlot {
		t.Fatalf("best member mismatch: island=%d slot=%d run=%+v", island, best.Slot, result.Run)
	}
}

func TestRunRingAbsorbsInitialFailures(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPolis(t)
	cfg := testRunConfig(t, "run-failures")
	cfg.NumEvents = 0
	cfg.Oracle = evo.OracleFunc(func(_ context.Context, g genome.Genome) (float64, error) {
		if g[0][0] < 180 {
			return 0, fmt.Errorf("no convergence")
		}
		return g[0][0], nil
	})

	result, err := p.RunRing(ctx, cfg)
	if err != nil {
		t.Fatalf("run ring: %v", err)
	}
	snapshot, _, err := store.GetArenaSnapshot(ctx, "run-failures", 0)
	if err != nil {
		t.Fatalf("get snapshot: %v", err)
	}
	for i, m := range result.Islands[0].Members {
		record := snapshot.Members[i]
		if m.Failed != record.Failed {
			t.Fatalf("slot %d failure flag not persisted", m.Slot)
		}
		if m.Failed && record.Fitness != nil {
			t.Fatalf("failed slot %d persisted a fitness", m.Slot)
		}
	}
}

func TestScoreMembersTreatsNaNAsFailure(t *testing.T) {
	factory, err := genome.NewAngleFactory(1, 1, 0, 360)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	arena, err := ring.New(8, 1, factory, ring.WithRand(rand.New(rand.NewSource(3))))
	if err != nil {
		t.Fatalf("new arena: %v", err)
	}
	slots, err := arena.Fill(8, 0)
	if err != nil {
		t.Fatalf("fill: %v", err)
	}
	oracle := evo.OracleFunc(func(_ context.Context, g genome.Genome) (float64, error) {
		if g[0][0] < 180 {
			return math.NaN(), nil
		}
		return g[0][0], nil
	})
	if err := scoreMembers(context.Background(), arena, oracle, slots, 2, 0); err != nil {
		t.Fatalf("score members: %v", err)
	}
	for _, m := range arena.Members() {
		if !m.Scored() || math.IsNaN(*m.Fitness) {
			t.Fatalf("slot %d left with fitness %v", m.Slot, m.Fitness)
		}
		if want := m.Genome[0][0] < 180; m.Failed != want {
			t.Fatalf("slot %d failed=%t want=%t", m.Slot, m.Failed, want)
		}
	}
}

func TestRunRingFatalEvaluation(t *testing.T) {
	ctx := context.Background()
	p, store := newTestPolis(t)

	cfg := testRunConfig(t, "run-fatal-fill")
	cfg.Oracle = evo.OracleFunc(func(context.Context, genome.Genome) (float64, error) {
		return 0, evo.FatalEvaluation(fmt.Errorf("backend gone"))
	})
	if _, err := p.RunRing(ctx, cfg); !errors.Is(err, evo.ErrFatalEvaluation) {
		t.Fatalf("expected fatal error during fill, got %v", err)
	} else {
		var evalErr *evo.EvaluationError
		if !errors.As(err, &evalErr) || !evalErr.Initial {
			t.Fatalf("fill failure should name the slot being scored, got %v", err)
		}
	}

	var calls atomic.Int32
	cfg = testRunConfig(t, "run-fatal-loop")
	cfg.Oracle = evo.OracleFunc(func(_ context.Context, g genome.Genome) (float64, error) {
		if calls.Add(1) > 9 {
			return 0, evo.FatalEvaluation(fmt.Errorf("backend gone"))
		}
		return g[0][0], nil
	})
	result, err := p.RunRing(ctx, cfg)
	if !errors.Is(err, evo.ErrFatalEvaluation) {
		t.Fatalf("expected fatal error during events, got %v", err)
	}
	if result.Run.Status != model.RunFailed || result.Run.Error == "" {
		t.Fatalf("expected failed run, got %+v", result.Run)
	}
	stored, ok, _ := store.GetRun(ctx, "run-fatal-loop")
	if !ok || stored.Status != model.RunFailed {
		t.Fatalf("failed status not persisted: %+v", stored)
	}
	if _, ok, _ := store.GetArenaSnapshot(ctx, "run-fatal-loop", 0); !ok {
		t.Fatal("expected snapshot persisted for failed run")
	}
}

func TestRunRingStopCommand(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPolis(t)
	cfg := testRunConfig(t, "run-stop")
	cfg.NumEvents = 50
	cfg.OnEvent = func(_ int, rec evo.EventRecord) {
		if rec.Event == 3 {
			if err := p.StopRun("run-stop"); err != nil {
				t.Errorf("stop run: %v", err)
			}
		}
	}
	result, err := p.RunRing(ctx, cfg)
	if err != nil {
		t.Fatalf("run ring: %v", err)
	}
	if !result.Islands[0].Stopped || result.Run.Status != model.RunStopped {
		t.Fatalf("expected stopped run, got %+v", result.Run)
	}
	if result.Run.EventsExecuted != 4 {
		t.Fatalf("expected 4 events before stop, got %d", result.Run.EventsExecuted)
	}
}

func TestRunControlRequiresActiveRun(t *testing.T) {
	p, _ := newTestPolis(t)
	if err := p.PauseRun("missing"); err == nil {
		t.Fatal("expected error for inactive run")
	}
	if err := p.ContinueRun(""); err == nil {
		t.Fatal("expected error for empty run id")
	}

	controls := []chan evo.MonitorCommand{make(chan evo.MonitorCommand, 1), make(chan evo.MonitorCommand, 1)}
	if err := p.registerRunControl("run-1", controls); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := p.registerRunControl("run-1", controls); !errors.Is(err, ErrRunActive) {
		t.Fatalf("expected ErrRunActive, got %v", err)
	}
	if err := p.PauseRun("run-1"); err != nil {
		t.Fatalf("pause: %v", err)
	}
	for i, control := range controls {
		if cmd := <-control; cmd != evo.CommandPause {
			t.Fatalf("island %d got %q", i, cmd)
		}
	}

	p.Stop()
	if p.Started() || p.ActiveRun("run-1") {
		t.Fatal("stop should release every run")
	}
	if cmd := <-controls[0]; cmd != evo.CommandStop {
		t.Fatalf("expected stop broadcast, got %q", cmd)
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	p, _ := newTestPolis(t)
	for _, id := range []string{"run-a", "run-b"} {
		cfg := testRunConfig(t, id)
		cfg.NumEvents = 1
		if _, err := p.RunRing(ctx, cfg); err != nil {
			t.Fatalf("run %s: %v", id, err)
		}
	}
	runs, err := p.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" {
		t.Fatalf("unexpected order: %+v", runs)
	}
	members, ok, err := p.Members(ctx, "run-a", 0)
	if err != nil || !ok || len(members) == 0 {
		t.Fatalf("members: ok=%t err=%v", ok, err)
	}
	if _, ok, _ := p.Members(ctx, "run-a", 4); ok {
		t.Fatal("expected no snapshot for unknown island")
	}
}
