package ringevo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"ringevo/internal/config"
	"ringevo/internal/evo"
	"ringevo/internal/fitness"
	"ringevo/internal/genome"
	"ringevo/internal/platform"
	"ringevo/internal/ring"
	"ringevo/internal/stats"
	"ringevo/internal/storage"
)

const (
	defaultArtifactsDir = "runs"
	defaultExportsDir   = "exports"
	defaultDBPath       = "ringevo.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	polis  *platform.Polis
	logger *slog.Logger

	artifactsDir string
	exportsDir   string
}

type RunRequest struct {
	// Config holds the run parameters; nil means the embedded defaults.
	Config *config.Config
	RunID  string
	// ContinueRunID resumes a stored run for Config.Evolution.NumMevs more
	// events. The stored config.yaml of that run takes precedence over the
	// remaining parameters.
	ContinueRunID string
	// Oracle replaces the torsional fitness formula built from Config.Fitness.
	Oracle  evo.Oracle
	OnEvent func(island int, rec evo.EventRecord)
}

type RunSummary struct {
	RunID            string
	Status           string
	ArtifactsDir     string
	EventsExecuted   int
	EventsDiscarded  int
	BestByEvent      [][]float64
	FinalBestFitness *float64
	BestIsland       int
	BestSlot         int
	BestGenome       [][]float64
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID            string
	CreatedAtUTC     string
	Status           string
	Seed             int64
	Islands          int
	NumSlots         int
	EventsExecuted   int
	FinalBestFitness *float64
}

type MembersRequest struct {
	RunID  string
	Latest bool
	// Islands filters by island; empty means every island.
	Islands []int
	// Best orders members best first under the run's fitness direction.
	Best  bool
	Limit int
}

type EventsRequest struct {
	RunID   string
	Latest  bool
	Islands []int
	Limit   int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	if c.polis != nil {
		c.polis.Stop()
	}
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensurePolis(ctx)
	return err
}

// Run executes one run and writes its artifacts. When the run fails after it
// started, the summary describes the persisted partial state and the error
// is returned alongside it.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg, err := c.runConfig(req)
	if err != nil {
		return RunSummary{}, err
	}
	order, err := cfg.Order()
	if err != nil {
		return RunSummary{}, err
	}
	factory, err := genome.NewAngleFactory(cfg.Genome.NumGeoms, cfg.Genome.NumDiheds, cfg.Genome.AngleMin, cfg.Genome.AngleMax)
	if err != nil {
		return RunSummary{}, fmt.Errorf("%w: %w", ring.ErrConfiguration, err)
	}
	variation := evo.Variation{
		MutationCount: cfg.Evolution.NumMuts,
		SwapCount:     cfg.Evolution.NumSwaps,
		AngleMin:      cfg.Genome.AngleMin,
		AngleMax:      cfg.Genome.AngleMax,
	}
	if err := variation.Validate(cfg.Genome.NumGeoms, cfg.Genome.NumDiheds); err != nil {
		return RunSummary{}, err
	}
	oracle := req.Oracle
	if oracle == nil {
		oracle = fitness.NewTorsionFormula(cfg.Fitness.CoefEnergy, cfg.Fitness.CoefRMSD)
	}

	p, err := c.ensurePolis(ctx)
	if err != nil {
		return RunSummary{}, err
	}
	result, runErr := p.RunRing(ctx, platform.RunConfig{
		RunID:             req.RunID,
		ContinueRunID:     req.ContinueRunID,
		NumSlots:          cfg.Ring.NumSlots,
		InitPopSize:       cfg.Ring.InitPopSize,
		PmemDist:          cfg.Ring.PmemDist,
		Order:             order,
		NumEvents:         cfg.Evolution.NumMevs,
		TournamentSize:    cfg.Evolution.TournamentSize,
		Variation:         variation,
		Factory:           factory,
		Oracle:            oracle,
		EvaluationTimeout: cfg.Evolution.EvaluationTimeout,
		CountDiscarded:    cfg.Evolution.CountDiscarded,
		Islands:           cfg.Evolution.Islands,
		Seed:              cfg.Evolution.Seed,
		OnEvent:           req.OnEvent,
	})
	if result.RunID == "" {
		return RunSummary{}, runErr
	}

	summary, err := c.writeArtifacts(ctx, cfg, req.ContinueRunID != "", order, result)
	if err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	return summary, runErr
}

// runConfig resolves the parameters of a run: the request config (or the
// defaults) for a new run, the stored config.yaml for a resumed one.
func (c *Client) runConfig(req RunRequest) (*config.Config, error) {
	base := config.Default()
	if req.Config != nil {
		copied := *req.Config
		base = &copied
	}
	if req.ContinueRunID != "" {
		stored, ok, err := stats.ReadRunConfig(c.artifactsDir, req.ContinueRunID)
		if err != nil {
			return nil, err
		}
		if ok {
			stored.Evolution.NumMevs = base.Evolution.NumMevs
			stored.Evolution.EvaluationTimeout = base.Evolution.EvaluationTimeout
			base = stored
		}
	}
	if base.Evolution.Seed == 0 {
		base.Evolution.Seed = time.Now().UnixNano()
	}
	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

func (c *Client) writeArtifacts(ctx context.Context, cfg *config.Config, resumed bool, order ring.Order, result platform.RunResult) (RunSummary, error) {
	run := result.Run
	summary := RunSummary{
		RunID:            result.RunID,
		Status:           string(run.Status),
		EventsExecuted:   run.EventsExecuted,
		FinalBestFitness: run.BestFitness,
		BestIsland:       run.BestIsland,
		BestSlot:         run.BestSlot,
	}
	if _, best, ok := result.BestMember(order); ok {
		summary.BestGenome = best.Genome.Clone()
	}

	var events []stats.EventRow
	var members []stats.MemberRow
	islandSummaries := make([]stats.IslandSummary, 0, len(result.Islands))
	history := make([][]float64, 0, len(result.Islands))
	for _, island := range result.Islands {
		for _, e := range island.Events {
			events = append(events, toEventRow(island.Island, e))
			if e.Discarded {
				summary.EventsDiscarded++
			}
		}
		rows := toMemberRows(island.Island, island.Members)
		members = append(members, rows...)

		full, _, err := c.store.GetFitnessHistory(ctx, result.RunID, island.Island)
		if err != nil {
			return RunSummary{}, err
		}
		history = append(history, full)
		islandSummaries = append(islandSummaries, stats.SummarizeIsland(island.Island, island.NextEvent, island.Capacity, rows, full, order))
	}
	summary.BestByEvent = history

	// A resumed run keeps the config.yaml it was started with.
	artifactsConfig := cfg
	if resumed {
		artifactsConfig = nil
	}
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Config: artifactsConfig,
		Summary: stats.RunSummary{
			RunID:            result.RunID,
			Status:           string(run.Status),
			Error:            run.Error,
			Seed:             run.Seed,
			Islands:          run.Islands,
			EventsRequested:  run.EventsRequested,
			EventsExecuted:   run.EventsExecuted,
			EventsDiscarded:  summary.EventsDiscarded,
			FinalBestFitness: run.BestFitness,
			BestIsland:       run.BestIsland,
			BestSlot:         run.BestSlot,
			IslandSummaries:  islandSummaries,
			CreatedAtUTC:     run.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
		BestByEvent: history,
		Events:      events,
		Members:     members,
	})
	if err != nil {
		return RunSummary{}, err
	}
	summary.ArtifactsDir = filepath.Clean(runDir)

	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:            result.RunID,
		Status:           string(run.Status),
		Islands:          run.Islands,
		NumSlots:         run.NumSlots,
		EventsExecuted:   run.EventsExecuted,
		Seed:             run.Seed,
		FinalBestFitness: run.BestFitness,
		CreatedAtUTC:     run.CreatedAt.UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}
	return summary, nil
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:            e.RunID,
			CreatedAtUTC:     e.CreatedAtUTC,
			Status:           e.Status,
			Seed:             e.Seed,
			Islands:          e.Islands,
			NumSlots:         e.NumSlots,
			EventsExecuted:   e.EventsExecuted,
			FinalBestFitness: e.FinalBestFitness,
		})
	}
	return out, nil
}

// Members returns the final arena members recorded in a run's artifacts.
func (c *Client) Members(_ context.Context, req MembersRequest) ([]stats.MemberRow, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "members")
	if err != nil {
		return nil, err
	}
	rows, ok, err := stats.ReadMemberRows(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("members not found for run id: %s", runID)
	}
	rows = slices.DeleteFunc(rows, func(r stats.MemberRow) bool {
		return len(req.Islands) > 0 && !slices.Contains(req.Islands, r.Island)
	})

	if req.Best {
		order := ring.Order{}
		cfg, ok, err := stats.ReadRunConfig(c.artifactsDir, runID)
		if err != nil {
			return nil, err
		}
		if ok {
			if order, err = cfg.Order(); err != nil {
				return nil, err
			}
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if rows[i].Failed != rows[j].Failed {
				return !rows[i].Failed
			}
			return order.Better(rows[i].Fitness, rows[j].Fitness)
		})
	}
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return rows, nil
}

// Events returns the mating events recorded in a run's artifacts.
func (c *Client) Events(_ context.Context, req EventsRequest) ([]stats.EventRow, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "events")
	if err != nil {
		return nil, err
	}
	rows, ok, err := stats.ReadEventRows(c.artifactsDir, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("events not found for run id: %s", runID)
	}
	rows = slices.DeleteFunc(rows, func(r stats.EventRow) bool {
		return len(req.Islands) > 0 && !slices.Contains(req.Islands, r.Island)
	})
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	return rows, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) PauseRun(runID string) error {
	if c.polis == nil {
		return platform.ErrNotInitialized
	}
	return c.polis.PauseRun(runID)
}

func (c *Client) ContinueRun(runID string) error {
	if c.polis == nil {
		return platform.ErrNotInitialized
	}
	return c.polis.ContinueRun(runID)
}

func (c *Client) StopRun(runID string) error {
	if c.polis == nil {
		return platform.ErrNotInitialized
	}
	return c.polis.StopRun(runID)
}

func (c *Client) resolveRunID(runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if runID != "" {
		return runID, nil
	}
	if !latest {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "", errors.New("no runs available")
	}
	return entries[0].RunID, nil
}

func (c *Client) ensurePolis(ctx context.Context) (*platform.Polis, error) {
	if c.polis != nil {
		return c.polis, nil
	}
	p := platform.NewPolis(platform.Config{Store: c.store, Logger: c.logger})
	if err := p.Init(ctx); err != nil {
		return nil, err
	}
	c.polis = p
	return c.polis, nil
}

func toEventRow(island int, e evo.EventRecord) stats.EventRow {
	row := stats.EventRow{
		Island:         island,
		Event:          e.Event,
		ParentA:        e.ParentA,
		ParentB:        e.ParentB,
		ParentAFitness: e.ParentAFitness,
		ParentBFitness: e.ParentBFitness,
		ChildASlot:     e.Children[0].Slot,
		ChildAOutcome:  e.Children[0].Outcome.String(),
		ChildAFitness:  e.Children[0].Fitness,
		ChildAFailed:   e.Children[0].Failed,
		ChildBSlot:     e.Children[1].Slot,
		ChildBOutcome:  e.Children[1].Outcome.String(),
		ChildBFitness:  e.Children[1].Fitness,
		ChildBFailed:   e.Children[1].Failed,
		Discarded:      e.Discarded,
		Occupied:       e.Diagnostics.Occupied,
		BestFitness:    e.Diagnostics.BestFitness,
		MeanFitness:    e.Diagnostics.MeanFitness,
		StdDevFitness:  e.Diagnostics.StdDevFitness,
		MeanAge:        e.Diagnostics.MeanAge,
	}
	if e.Discarded {
		row.ChildAOutcome, row.ChildBOutcome = "discarded", "discarded"
		row.ChildASlot, row.ChildBSlot = -1, -1
	}
	return row
}

func toMemberRows(island int, members []*ring.Individual) []stats.MemberRow {
	rows := make([]stats.MemberRow, 0, len(members))
	for _, m := range members {
		row := stats.MemberRow{
			Island:     island,
			Slot:       m.Slot,
			BirthEvent: m.BirthEvent,
			Failed:     m.Failed,
			Genome:     stats.FormatGenome(m.Genome),
		}
		if m.Scored() {
			row.Fitness = *m.Fitness
		}
		rows = append(rows, row)
	}
	return rows
}
