package platform

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ringevo/internal/evo"
	"ringevo/internal/genome"
	"ringevo/internal/model"
	"ringevo/internal/ring"
	"ringevo/internal/storage"
)

var (
	ErrNotInitialized = errors.New("polis is not initialized")
	ErrRunNotFound    = errors.New("run not found")
	ErrRunActive      = errors.New("run already active")
)

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
}

// Polis owns the store and every active run. Runs register one control
// channel per island so pause, continue and stop reach all of them.
type Polis struct {
	mu      sync.RWMutex
	store   storage.Store
	logger  *slog.Logger
	started bool
	runs    map[string][]chan evo.MonitorCommand
}

func NewPolis(cfg Config) *Polis {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Polis{
		store:  cfg.Store,
		logger: logger,
		runs:   make(map[string][]chan evo.MonitorCommand),
	}
}

func (p *Polis) Init(ctx context.Context) error {
	if p.store == nil {
		return fmt.Errorf("store is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.store.Init(ctx); err != nil {
		return err
	}
	p.started = true
	return nil
}

// Stop asks every active run to stop and marks the polis as stopped.
func (p *Polis) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, controls := range p.runs {
		for _, control := range controls {
			select {
			case control <- evo.CommandStop:
			default:
			}
		}
	}
	p.started = false
	p.runs = make(map[string][]chan evo.MonitorCommand)
}

func (p *Polis) Started() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}

func (p *Polis) Store() storage.Store {
	return p.store
}

// RunConfig describes one invocation of a run. With ContinueRunID set the
// stored arenas are restored and the ring parameters come from the stored
// run; NumEvents more events are executed on every island.
type RunConfig struct {
	RunID         string
	ContinueRunID string

	NumSlots       int
	InitPopSize    int
	PmemDist       int
	Order          ring.Order
	NumEvents      int
	TournamentSize int

	Variation evo.Variation
	Factory   genome.Factory
	Oracle    evo.Oracle

	EvaluationTimeout time.Duration
	CountDiscarded    bool
	Islands           int
	Seed              int64
	// Workers bounds concurrent evaluations while scoring the initial fill.
	Workers int

	// OnEvent observes events as they finish. It is called from the island
	// goroutines, so it must be safe for concurrent use.
	OnEvent func(island int, rec evo.EventRecord)
}

type IslandResult struct {
	Island      int
	Capacity    int
	Members     []*ring.Individual
	Events      []evo.EventRecord
	BestByEvent []float64
	NextEvent   int
	Stopped     bool
}

type RunResult struct {
	RunID   string
	Run     model.RunRecord
	Islands []IslandResult
}

// BestMember returns the best scored member across every island.
func (r RunResult) BestMember(order ring.Order) (int, *ring.Individual, bool) {
	bestIsland := -1
	var best *ring.Individual
	for _, island := range r.Islands {
		for _, m := range island.Members {
			if !m.Scored() {
				continue
			}
			if best == nil || order.Better(*m.Fitness, *best.Fitness) {
				best = m
				bestIsland = island.Island
			}
		}
	}
	return bestIsland, best, best != nil
}

func (c RunConfig) validate() error {
	if c.Factory == nil {
		return fmt.Errorf("%w: genome factory is required", ring.ErrConfiguration)
	}
	if c.Oracle == nil {
		return fmt.Errorf("%w: fitness oracle is required", ring.ErrConfiguration)
	}
	if c.NumEvents < 0 {
		return fmt.Errorf("%w: event count must be >= 0", ring.ErrConfiguration)
	}
	if c.ContinueRunID != "" {
		return nil
	}
	if c.InitPopSize < 0 || c.InitPopSize > c.NumSlots {
		return fmt.Errorf("%w: initial population %d not in [0, %d]", ring.ErrConfiguration, c.InitPopSize, c.NumSlots)
	}
	if c.TournamentSize > c.InitPopSize {
		return fmt.Errorf("%w: tournament size %d exceeds initial population %d", ring.ErrConfiguration, c.TournamentSize, c.InitPopSize)
	}
	return nil
}

// RunRing fills or restores the island arenas, runs the mating events on
// every island concurrently and persists the outcome. State reached before
// an error is persisted too, with the run marked failed or stopped.
func (p *Polis) RunRing(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if !p.Started() {
		return RunResult{}, ErrNotInitialized
	}
	if err := cfg.validate(); err != nil {
		return RunResult{}, err
	}

	record, arenas, err := p.prepareRun(ctx, &cfg)
	if err != nil {
		return RunResult{}, err
	}
	runID := record.ID
	logger := p.logger.With("run_id", runID)

	controls := make([]chan evo.MonitorCommand, len(arenas))
	for i := range controls {
		controls[i] = make(chan evo.MonitorCommand, 16)
	}
	if err := p.registerRunControl(runID, controls); err != nil {
		return RunResult{}, err
	}
	defer p.unregisterRunControl(runID)

	record.Status = model.RunRunning
	record.EventsRequested += cfg.NumEvents * len(arenas)
	record.UpdatedAt = time.Now().UTC()
	if err := p.store.SaveRun(ctx, record); err != nil {
		return RunResult{}, err
	}
	logger.Info("run starting",
		"islands", len(arenas),
		"events", cfg.NumEvents,
		"resumed", cfg.ContinueRunID != "",
	)

	results := make([]IslandResult, len(arenas))
	g, gctx := errgroup.WithContext(ctx)
	for i, state := range arenas {
		i, state := i, state
		g.Go(func() error {
			res, err := p.runIsland(gctx, cfg, state, controls[i], logger.With("island", i))
			results[i] = res
			return err
		})
	}
	runErr := g.Wait()

	// Persist whatever was reached even when the caller's context is gone.
	persistCtx := context.WithoutCancel(ctx)
	for _, res := range results {
		if err := p.persistIsland(persistCtx, runID, cfg.Order, arenas[res.Island], res); err != nil {
			return RunResult{}, errors.Join(runErr, err)
		}
	}

	record = finishRecord(record, cfg.Order, results, runErr)
	if err := p.store.SaveRun(persistCtx, record); err != nil {
		return RunResult{}, errors.Join(runErr, err)
	}
	logger.Info("run finished",
		"status", record.Status,
		"events_executed", record.EventsExecuted,
		"best_island", record.BestIsland,
		"best_slot", record.BestSlot,
	)
	return RunResult{RunID: runID, Run: record, Islands: results}, runErr
}

type islandState struct {
	island    int
	arena     *ring.Arena
	nextEvent int
	history   []float64
}

// prepareRun creates the run record and the island arenas, either fresh and
// scored or restored from the store.
func (p *Polis) prepareRun(ctx context.Context, cfg *RunConfig) (model.RunRecord, []*islandState, error) {
	if cfg.ContinueRunID != "" {
		return p.restoreRun(ctx, cfg)
	}

	runID := cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	if _, exists, err := p.store.GetRun(ctx, runID); err != nil {
		return model.RunRecord{}, nil, err
	} else if exists {
		return model.RunRecord{}, nil, fmt.Errorf("run id already stored: %s", runID)
	}
	islands := cfg.Islands
	if islands <= 0 {
		islands = 1
	}
	cfg.Islands = islands

	now := time.Now().UTC()
	record := model.RunRecord{
		VersionedRecord: storage.CurrentVersion(),
		ID:              runID,
		CreatedAt:       now,
		UpdatedAt:       now,
		Status:          model.RunRunning,
		Seed:            cfg.Seed,
		Islands:         islands,
		NumSlots:        cfg.NumSlots,
		InitPopSize:     cfg.InitPopSize,
		PmemDist:        cfg.PmemDist,
		Direction:       cfg.Order.Direction.String(),
		TournamentSize:  cfg.TournamentSize,
		NumMuts:         cfg.Variation.MutationCount,
		NumSwaps:        cfg.Variation.SwapCount,
		BestIsland:      -1,
		BestSlot:        -1,
	}

	states := make([]*islandState, islands)
	for i := range states {
		arena, err := ring.New(cfg.NumSlots, cfg.PmemDist, cfg.Factory,
			ring.WithOrder(cfg.Order),
			ring.WithRand(rand.New(rand.NewSource(islandSeed(cfg.Seed, i, 0)))),
		)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		slots, err := arena.Fill(cfg.InitPopSize, 0)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		if err := scoreMembers(ctx, arena, cfg.Oracle, slots, cfg.Workers, cfg.EvaluationTimeout); err != nil {
			return model.RunRecord{}, nil, fmt.Errorf("island %d initial scoring: %w", i, err)
		}
		states[i] = &islandState{island: i, arena: arena}
	}
	return record, states, nil
}

func (p *Polis) restoreRun(ctx context.Context, cfg *RunConfig) (model.RunRecord, []*islandState, error) {
	record, ok, err := p.store.GetRun(ctx, cfg.ContinueRunID)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	if !ok {
		return model.RunRecord{}, nil, fmt.Errorf("%w: %s", ErrRunNotFound, cfg.ContinueRunID)
	}
	direction, err := ring.ParseDirection(record.Direction)
	if err != nil {
		return model.RunRecord{}, nil, err
	}
	cfg.Order = ring.Order{Direction: direction}
	cfg.Islands = record.Islands
	cfg.Seed = record.Seed
	if cfg.TournamentSize == 0 {
		cfg.TournamentSize = record.TournamentSize
	}

	states := make([]*islandState, record.Islands)
	for i := range states {
		snapshot, ok, err := p.store.GetArenaSnapshot(ctx, record.ID, i)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		if !ok {
			return model.RunRecord{}, nil, fmt.Errorf("%w: arena snapshot %s island %d", ErrRunNotFound, record.ID, i)
		}
		arena, err := ring.New(snapshot.Capacity, snapshot.LocalityRadius, cfg.Factory,
			ring.WithOrder(cfg.Order),
			ring.WithRand(rand.New(rand.NewSource(islandSeed(cfg.Seed, i, snapshot.NextEvent)))),
		)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		if err := arena.Restore(fromMemberRecords(snapshot.Members, cfg.Order)); err != nil {
			return model.RunRecord{}, nil, fmt.Errorf("island %d restore: %w", i, err)
		}
		var unscored []int
		for _, m := range arena.Members() {
			if !m.Scored() {
				unscored = append(unscored, m.Slot)
			}
		}
		if err := scoreMembers(ctx, arena, cfg.Oracle, unscored, cfg.Workers, cfg.EvaluationTimeout); err != nil {
			return model.RunRecord{}, nil, fmt.Errorf("island %d rescoring: %w", i, err)
		}
		history, _, err := p.store.GetFitnessHistory(ctx, record.ID, i)
		if err != nil {
			return model.RunRecord{}, nil, err
		}
		states[i] = &islandState{island: i, arena: arena, nextEvent: snapshot.NextEvent, history: history}
	}
	record.Error = ""
	return record, states, nil
}

// islandSeed derives independent streams per island. Resumed runs shift the
// stream by the event counter so they do not replay the first invocation.
func islandSeed(seed int64, island, nextEvent int) int64 {
	return seed + int64(island)*7919 + int64(nextEvent)*104729
}

func (p *Polis) runIsland(ctx context.Context, cfg RunConfig, state *islandState, control <-chan evo.MonitorCommand, logger *slog.Logger) (IslandResult, error) {
	loopCfg := evo.LoopConfig{
		TournamentSize:    cfg.TournamentSize,
		EvaluationTimeout: cfg.EvaluationTimeout,
		CountDiscarded:    cfg.CountDiscarded,
		StartEvent:        state.nextEvent,
		Rand:              rand.New(rand.NewSource(islandSeed(cfg.Seed, state.island, state.nextEvent) + 1)),
		Logger:            logger,
		Control:           control,
	}
	if cfg.OnEvent != nil {
		island := state.island
		loopCfg.OnEvent = func(rec evo.EventRecord) {
			cfg.OnEvent(island, rec)
		}
	}
	res, err := evo.RunMatingEvents(ctx, state.arena, loopCfg, cfg.Oracle, cfg.Variation, cfg.NumEvents)
	next := res.NextEvent
	if err != nil && next < state.nextEvent {
		// Configuration errors return before the loop reports a counter.
		next = state.nextEvent
	}
	return IslandResult{
		Island:      state.island,
		Capacity:    state.arena.Capacity(),
		Members:     state.arena.Members(),
		Events:      res.Events,
		BestByEvent: res.BestByEvent,
		NextEvent:   next,
		Stopped:     res.Stopped,
	}, err
}

func (p *Polis) persistIsland(ctx context.Context, runID string, order ring.Order, state *islandState, res IslandResult) error {
	snapshot := model.ArenaSnapshot{
		VersionedRecord: storage.CurrentVersion(),
		RunID:           runID,
		Island:          res.Island,
		Capacity:        state.arena.Capacity(),
		LocalityRadius:  state.arena.LocalityRadius(),
		Direction:       order.Direction.String(),
		NextEvent:       res.NextEvent,
		Members:         toMemberRecords(res.Members),
	}
	if err := p.store.SaveArenaSnapshot(ctx, snapshot); err != nil {
		return err
	}
	if len(res.Events) > 0 {
		if err := p.store.AppendEvents(ctx, runID, toModelEvents(res.Island, res.Events)); err != nil {
			return err
		}
	}
	history := append(append([]float64(nil), state.history...), res.BestByEvent...)
	return p.store.SaveFitnessHistory(ctx, runID, res.Island, history)
}

func finishRecord(record model.RunRecord, order ring.Order, results []IslandResult, runErr error) model.RunRecord {
	stopped := false
	for _, res := range results {
		record.EventsExecuted += len(res.Events)
		stopped = stopped || res.Stopped
	}
	run := RunResult{Islands: results}
	if island, best, ok := run.BestMember(order); ok {
		record.BestFitness = model.Finite(*best.Fitness)
		record.BestIsland = island
		record.BestSlot = best.Slot
	}
	record.UpdatedAt = time.Now().UTC()
	switch {
	case runErr == nil && stopped:
		record.Status = model.RunStopped
	case runErr == nil:
		record.Status = model.RunCompleted
	case errors.Is(runErr, context.Canceled):
		record.Status = model.RunStopped
		record.Error = runErr.Error()
	default:
		record.Status = model.RunFailed
		record.Error = runErr.Error()
	}
	return record
}

// scoreMembers evaluates the given slots concurrently. Failed evaluations get
// the sentinel score; fatal ones abort.
func scoreMembers(ctx context.Context, arena *ring.Arena, oracle evo.Oracle, slots []int, workers int, timeout time.Duration) error {
	if len(slots) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, slot := range slots {
		slot := slot
		g.Go(func() error {
			ind, err := arena.Get(slot)
			if err != nil {
				return err
			}
			evalCtx := gctx
			if timeout > 0 {
				var cancel context.CancelFunc
				evalCtx, cancel = context.WithTimeout(gctx, timeout)
				defer cancel()
			}
			score, err := oracle.Evaluate(evalCtx, ind.Genome)
			if err == nil && math.IsNaN(score) {
				err = evo.ErrInvalidScore
			}
			switch {
			case err == nil:
				return arena.SetFitness(slot, score)
			case errors.Is(err, evo.ErrFatalEvaluation):
				return &evo.EvaluationError{Slot: slot, Initial: true, Fatal: true, Err: err}
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				return arena.MarkFailed(slot)
			}
		})
	}
	return g.Wait()
}

func (p *Polis) GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error) {
	return p.store.GetRun(ctx, runID)
}

// ListRuns returns stored runs newest first.
func (p *Polis) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	runs, err := p.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.RunRecord, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	return out, nil
}

func (p *Polis) Members(ctx context.Context, runID string, island int) ([]model.MemberRecord, bool, error) {
	snapshot, ok, err := p.store.GetArenaSnapshot(ctx, runID, island)
	if err != nil || !ok {
		return nil, ok, err
	}
	return snapshot.Members, true, nil
}

func (p *Polis) Events(ctx context.Context, runID string) ([]model.EventRecord, bool, error) {
	return p.store.GetEvents(ctx, runID)
}

func (p *Polis) PauseRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandPause)
}

func (p *Polis) ContinueRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandContinue)
}

func (p *Polis) StopRun(runID string) error {
	return p.sendRunCommand(runID, evo.CommandStop)
}

func (p *Polis) registerRunControl(runID string, controls []chan evo.MonitorCommand) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return ErrNotInitialized
	}
	if _, exists := p.runs[runID]; exists {
		return fmt.Errorf("%w: %s", ErrRunActive, runID)
	}
	p.runs[runID] = controls
	return nil
}

func (p *Polis) unregisterRunControl(runID string) {
	if runID == "" {
		return
	}
	p.mu.Lock()
	delete(p.runs, runID)
	p.mu.Unlock()
}

// ActiveRun reports whether runID currently has registered islands.
func (p *Polis) ActiveRun(runID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.runs[runID]
	return ok
}

func (p *Polis) sendRunCommand(runID string, cmd evo.MonitorCommand) error {
	if runID == "" {
		return fmt.Errorf("run id is required")
	}
	p.mu.RLock()
	controls, ok := p.runs[runID]
	p.mu.RUnlock()
	if !ok {
		return fmt.Errorf("run not active: %s", runID)
	}
	for i, control := range controls {
		select {
		case control <- cmd:
		default:
			return fmt.Errorf("run control channel is full: %s island %d", runID, i)
		}
	}
	return nil
}
