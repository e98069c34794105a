package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"
	"github.com/jedib0t/go-pretty/v6/table"

	"ringevo/internal/evo"
	"ringevo/internal/storage"
	"ringevo/pkg/ringevo"
)

const (
	artifactsDir = "runs"
	exportsDir   = "exports"
)

var stdout io.Writer = os.Stdout

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "members":
		return runMembers(ctx, args[1:])
	case "events":
		return runEvents(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "ringevo.db", "sqlite database path")
	configOut := fs.String("write-config", "", "write the default run config to this path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := ringevo.New(ringevo.Options{StoreKind: *storeKind, DBPath: *dbPath})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	if err := client.Init(ctx); err != nil {
		return err
	}
	if *configOut != "" {
		cfg, err := loadRunConfig("")
		if err != nil {
			return err
		}
		if err := cfg.WriteYAML(*configOut); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "wrote config=%s\n", filepath.Clean(*configOut))
	}

	fmt.Fprintf(stdout, "initialized store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional run config YAML path")
	runID := fs.String("run-id", "", "explicit run id (optional)")
	continueRunID := fs.String("continue-run-id", "", "resume a stored run for -num-mevs more events")
	storeKind := fs.String("store", "", "store backend: memory|sqlite (default from config)")
	dbPath := fs.String("db-path", "", "sqlite database path (default from config)")
	outDir := fs.String("artifacts-dir", "", "run artifacts directory (default from config)")
	logLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	logFormat := fs.String("log-format", "", "log format: text|json")
	showProgress := fs.Bool("progress", false, "render per-island progress bars")
	fs.Int("num-slots", 0, "arena capacity")
	fs.Int("init-popsize", 0, "initial population size")
	fs.Int("pmem-dist", 0, "locality radius for child placement")
	fs.String("direction", "", "fitness direction: maximize|minimize")
	fs.Int("num-mevs", 0, "mating events per island")
	fs.Int("t-size", 0, "tournament size")
	fs.Int("num-muts", 0, "mutations per child")
	fs.Int("num-swaps", 0, "conformer swaps per event")
	fs.Bool("count-discarded", false, "advance the event counter for discarded events")
	fs.Duration("evaluation-timeout", 0, "per-event evaluation timeout (0 disables)")
	fs.Int("islands", 0, "independent island arenas")
	fs.Int64("seed", 0, "rng seed (0 picks a time-based seed)")
	fs.Int("num-geoms", 0, "conformers per genome")
	fs.Int("num-diheds", 0, "dihedral angles per conformer")
	fs.Float64("coef-energy", 0, "energy term coefficient")
	fs.Float64("coef-rmsd", 0, "distance term coefficient")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *continueRunID != "" {
		return errors.New("use either --run-id or --continue-run-id, not both")
	}

	cfg, err := loadRunConfig(*configPath)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if err := overrideFromFlags(cfg, fs, set); err != nil {
		return err
	}
	if *storeKind != "" {
		cfg.Storage.Kind = *storeKind
	}
	if *dbPath != "" {
		cfg.Storage.DBPath = *dbPath
	}
	if *outDir != "" {
		cfg.Artifacts.Dir = *outDir
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	logger, err := newLogger(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return err
	}

	client, err := ringevo.New(ringevo.Options{
		StoreKind:    cfg.Storage.Kind,
		DBPath:       cfg.Storage.DBPath,
		ArtifactsDir: cfg.Artifacts.Dir,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	req := ringevo.RunRequest{Config: cfg, RunID: *runID, ContinueRunID: *continueRunID}
	var pw progress.Writer
	if *showProgress {
		pw, req.OnEvent = newProgress(cfg.Evolution.Islands, cfg.Evolution.NumMevs)
		go pw.Render()
	}
	summary, runErr := client.Run(ctx, req)
	if pw != nil {
		pw.Stop()
		for pw.IsRenderInProgress() {
			time.Sleep(50 * time.Millisecond)
		}
	}
	if summary.RunID == "" {
		return runErr
	}

	fmt.Fprintf(stdout, "run %s run_id=%s events=%d discarded=%d\n", summary.Status, summary.RunID, summary.EventsExecuted, summary.EventsDiscarded)
	if summary.FinalBestFitness != nil {
		fmt.Fprintf(stdout, "final_best_fitness=%.6f island=%d slot=%d\n", *summary.FinalBestFitness, summary.BestIsland, summary.BestSlot)
	}
	fmt.Fprintf(stdout, "artifacts_dir=%s\n", summary.ArtifactsDir)
	return runErr
}

// newProgress returns a progress writer with one tracker per island and the
// event hook that advances them.
func newProgress(islands, events int) (progress.Writer, func(int, evo.EventRecord)) {
	pw := progress.NewWriter()
	pw.SetMessageLength(20)
	pw.SetNumTrackersExpected(islands)
	pw.SetStyle(progress.StyleDefault)
	pw.SetTrackerLength(30)
	pw.SetTrackerPosition(progress.PositionRight)
	pw.SetUpdateFrequency(100 * time.Millisecond)
	pw.SetOutputWriter(os.Stderr)

	trackers := make([]*progress.Tracker, islands)
	for i := range trackers {
		trackers[i] = &progress.Tracker{
			Message: fmt.Sprintf("island %d", i),
			Total:   int64(events),
			Units:   progress.UnitsDefault,
		}
		pw.AppendTracker(trackers[i])
	}
	return pw, func(island int, _ evo.EventRecord) {
		if island < len(trackers) {
			trackers[island].Increment(1)
		}
	}
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	dir := fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := ringevo.New(ringevo.Options{StoreKind: "memory", ArtifactsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	items, err := client.Runs(ctx, ringevo.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(items)
	}
	if len(items) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetTitle("Runs")
	t.AppendHeader(table.Row{"Run ID", "Created", "Status", "Seed", "Islands", "Slots", "Events", "Best"})
	for _, item := range items {
		t.AppendRow(table.Row{
			item.RunID,
			item.CreatedAtUTC,
			item.Status,
			item.Seed,
			item.Islands,
			item.NumSlots,
			item.EventsExecuted,
			formatOptional(item.FinalBestFitness),
		})
	}
	t.Render()
	return nil
}

func runMembers(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("members", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show members of the most recent run")
	islands := fs.String("islands", "", "comma separated island filter")
	best := fs.Bool("best", false, "order members best first")
	limit := fs.Int("limit", 0, "max members to print (0 for all)")
	dir := fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit members as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := parseIslands(*islands)
	if err != nil {
		return err
	}

	client, err := ringevo.New(ringevo.Options{StoreKind: "memory", ArtifactsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	rows, err := client.Members(ctx, ringevo.MembersRequest{
		RunID:   *runID,
		Latest:  *latest,
		Islands: filter,
		Best:    *best,
		Limit:   *limit,
	})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(rows)
	}

	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetTitle("Members")
	t.AppendHeader(table.Row{"Island", "Slot", "Born", "Fitness", "Genome"})
	for _, r := range rows {
		fitness := fmt.Sprintf("%.6f", r.Fitness)
		if r.Failed {
			fitness = "failed"
		}
		t.AppendRow(table.Row{r.Island, r.Slot, r.BirthEvent, fitness, r.Genome})
	}
	t.Render()
	return nil
}

func runEvents(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show events of the most recent run")
	islands := fs.String("islands", "", "comma separated island filter")
	limit := fs.Int("limit", 50, "max events to print (0 for all)")
	dir := fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	jsonOut := fs.Bool("json", false, "emit events as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	filter, err := parseIslands(*islands)
	if err != nil {
		return err
	}

	client, err := ringevo.New(ringevo.Options{StoreKind: "memory", ArtifactsDir: *dir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	rows, err := client.Events(ctx, ringevo.EventsRequest{RunID: *runID, Latest: *latest, Islands: filter, Limit: *limit})
	if err != nil {
		return err
	}
	if *jsonOut {
		return writeJSON(rows)
	}

	t := table.NewWriter()
	t.SetOutputMirror(stdout)
	t.SetTitle("Mating events")
	t.AppendHeader(table.Row{"Island", "Event", "Parents", "Child A", "Child B", "Occupied", "Best", "Mean"})
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Island,
			r.Event,
			fmt.Sprintf("%d,%d", r.ParentA, r.ParentB),
			fmt.Sprintf("%s@%d", r.ChildAOutcome, r.ChildASlot),
			fmt.Sprintf("%s@%d", r.ChildBOutcome, r.ChildBSlot),
			r.Occupied,
			fmt.Sprintf("%.6f", r.BestFitness),
			fmt.Sprintf("%.6f", r.MeanFitness),
		})
	}
	t.Render()
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	dir := fs.String("artifacts-dir", artifactsDir, "run artifacts directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := ringevo.New(ringevo.Options{StoreKind: "memory", ArtifactsDir: *dir, ExportsDir: *outDir})
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()
	exported, err := client.Export(ctx, ringevo.ExportRequest{RunID: *runID, Latest: *latest})
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch format {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func parseIslands(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return nil, fmt.Errorf("invalid island %q", part)
		}
		out = append(out, v)
	}
	return out, nil
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.6f", *v)
}

func writeJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: ringevoctl <init|run|runs|members|events|export> [flags]", msg)
}
