package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/gocarina/gocsv"

	"ringevo/internal/config"
	"ringevo/internal/model"
)

const (
	runIndexFile = "run_index.json"
	configFile   = "config.yaml"
	summaryFile  = "summary.json"
	historyFile  = "fitness_history.json"
	eventsFile   = "events.csv"
	membersFile  = "members.csv"
)

// EventRow is one mating event in events.csv.
type EventRow struct {
	Island         int     `csv:"island"`
	Event          int     `csv:"event"`
	ParentA        int     `csv:"parent_a"`
	ParentB        int     `csv:"parent_b"`
	ParentAFitness float64 `csv:"parent_a_fitness"`
	ParentBFitness float64 `csv:"parent_b_fitness"`
	ChildASlot     int     `csv:"child_a_slot"`
	ChildAOutcome  string  `csv:"child_a_outcome"`
	ChildAFitness  float64 `csv:"child_a_fitness"`
	ChildAFailed   bool    `csv:"child_a_failed"`
	ChildBSlot     int     `csv:"child_b_slot"`
	ChildBOutcome  string  `csv:"child_b_outcome"`
	ChildBFitness  float64 `csv:"child_b_fitness"`
	ChildBFailed   bool    `csv:"child_b_failed"`
	Discarded      bool    `csv:"discarded"`
	Occupied       int     `csv:"occupied"`
	BestFitness    float64 `csv:"best_fitness"`
	MeanFitness    float64 `csv:"mean_fitness"`
	StdDevFitness  float64 `csv:"stddev_fitness"`
	MeanAge        float64 `csv:"mean_age"`
}

// MemberRow is one occupied slot of a final arena in members.csv. Genome is
// the conformer list in FormatGenome notation.
type MemberRow struct {
	Island     int     `csv:"island"`
	Slot       int     `csv:"slot"`
	BirthEvent int     `csv:"birth_event"`
	Fitness    float64 `csv:"fitness"`
	Failed     bool    `csv:"failed"`
	Genome     string  `csv:"genome"`
}

type RunSummary struct {
	RunID            string          `json:"run_id"`
	Status           string          `json:"status"`
	Error            string          `json:"error,omitempty"`
	Seed             int64           `json:"seed"`
	Islands          int             `json:"islands"`
	EventsRequested  int             `json:"events_requested"`
	EventsExecuted   int             `json:"events_executed"`
	EventsDiscarded  int             `json:"events_discarded"`
	FinalBestFitness *float64        `json:"final_best_fitness,omitempty"`
	BestIsland       int             `json:"best_island"`
	BestSlot         int             `json:"best_slot"`
	IslandSummaries  []IslandSummary `json:"island_summaries"`
	CreatedAtUTC     string          `json:"created_at_utc"`
}

// IslandSummary is the end state of one island arena.
type IslandSummary struct {
	Island        int      `json:"island"`
	NextEvent     int      `json:"next_event"`
	Occupied      int      `json:"occupied"`
	Capacity      int      `json:"capacity"`
	BestFitness   *float64 `json:"best_fitness,omitempty"`
	MeanFitness   *float64 `json:"mean_fitness,omitempty"`
	StdDevFitness *float64 `json:"stddev_fitness,omitempty"`
	Improvement   *float64 `json:"improvement,omitempty"`
}

type RunArtifacts struct {
	Config  *config.Config
	Summary RunSummary
	// BestByEvent holds per-island best fitness after each accepted event.
	BestByEvent [][]float64
	Events      []EventRow
	Members     []MemberRow
}

type RunIndexEntry struct {
	RunID            string   `json:"run_id"`
	Status           string   `json:"status"`
	Islands          int      `json:"islands"`
	NumSlots         int      `json:"num_slots"`
	EventsExecuted   int      `json:"events_executed"`
	Seed             int64    `json:"seed"`
	FinalBestFitness *float64 `json:"final_best_fitness,omitempty"`
	CreatedAtUTC     string   `json:"created_at_utc"`
}

// WriteRunArtifacts writes a run directory under baseDir. Event rows are
// appended to an existing events.csv so resumed runs keep their history;
// every other file is replaced.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Summary.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Summary.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if artifacts.Config != nil {
		if err := artifacts.Config.WriteYAML(filepath.Join(runDir, configFile)); err != nil {
			return "", err
		}
	}
	if err := writeJSON(filepath.Join(runDir, summaryFile), artifacts.Summary); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, historyFile), map[string]any{"best_by_event": finiteSeries(artifacts.BestByEvent)}); err != nil {
		return "", err
	}
	if err := AppendEventRows(runDir, artifacts.Events); err != nil {
		return "", err
	}
	if err := writeMembers(filepath.Join(runDir, membersFile), artifacts.Members); err != nil {
		return "", err
	}
	return runDir, nil
}

// AppendEventRows adds rows to events.csv, writing the header only when the
// file is new or empty.
func AppendEventRows(runDir string, rows []EventRow) error {
	path := filepath.Join(runDir, eventsFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", eventsFile, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		if err := gocsv.Marshal(rows, file); err != nil {
			return fmt.Errorf("writing events: %w", err)
		}
		return nil
	}
	if len(rows) == 0 {
		return nil
	}
	if err := gocsv.MarshalWithoutHeaders(rows, file); err != nil {
		return fmt.Errorf("writing events: %w", err)
	}
	return nil
}

func writeMembers(path string, rows []MemberRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", membersFile, err)
	}
	defer file.Close()

	if err := gocsv.Marshal(rows, file); err != nil {
		return fmt.Errorf("writing members: %w", err)
	}
	return nil
}

func ReadEventRows(baseDir, runID string) ([]EventRow, bool, error) {
	var rows []EventRow
	ok, err := readCSV(filepath.Join(baseDir, runID, eventsFile), &rows)
	return rows, ok, err
}

func ReadMemberRows(baseDir, runID string) ([]MemberRow, bool, error) {
	var rows []MemberRow
	ok, err := readCSV(filepath.Join(baseDir, runID, membersFile), &rows)
	return rows, ok, err
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, summaryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}
	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

// ReadRunConfig loads the config.yaml a run was started with.
func ReadRunConfig(baseDir, runID string) (*config.Config, bool, error) {
	path := filepath.Join(baseDir, runID, configFile)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// ListRunIndex returns the index newest first.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory to outDir/runID.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{summaryFile, historyFile, eventsFile, membersFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	configPath := filepath.Join(src, configFile)
	if _, err := os.Stat(configPath); err == nil {
		if err := copyFile(configPath, filepath.Join(dst, configFile)); err != nil {
			return "", err
		}
	} else if !os.IsNotExist(err) {
		return "", err
	}
	return dst, nil
}

func readCSV(path string, out any) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return false, err
	}
	if info.Size() == 0 {
		return true, nil
	}
	if err := gocsv.Unmarshal(file, out); err != nil {
		return false, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return true, nil
}

func finiteSeries(series [][]float64) [][]*float64 {
	out := make([][]*float64, len(series))
	for i, s := range series {
		out[i] = make([]*float64, len(s))
		for j, f := range s {
			out[i][j] = model.Finite(f)
		}
	}
	return out
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
