package model

import (
	"math"
	"time"
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunStopped   RunStatus = "stopped"
	RunFailed    RunStatus = "failed"
)

// RunRecord describes one run over one or more island arenas.
type RunRecord struct {
	VersionedRecord
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Status         RunStatus `json:"status"`
	Error          string    `json:"error,omitempty"`
	Seed           int64     `json:"seed"`
	Islands        int       `json:"islands"`
	NumSlots       int       `json:"num_slots"`
	InitPopSize    int       `json:"init_popsize"`
	PmemDist       int       `json:"pmem_dist"`
	Direction      string    `json:"direction"`
	TournamentSize int       `json:"t_size"`
	NumMuts        int       `json:"num_muts"`
	NumSwaps       int       `json:"num_swaps"`
	// EventsRequested accumulates num_mevs over every invocation of the run.
	EventsRequested int      `json:"events_requested"`
	EventsExecuted  int      `json:"events_executed"`
	BestFitness     *float64 `json:"best_fitness,omitempty"`
	BestIsland      int      `json:"best_island"`
	BestSlot        int      `json:"best_slot"`
}

// MemberRecord is one occupied slot. Fitness is nil for unscored members and
// for non-finite sentinel scores; Failed tells the two apart.
type MemberRecord struct {
	Slot       int         `json:"slot"`
	Genome     [][]float64 `json:"genome"`
	Fitness    *float64    `json:"fitness,omitempty"`
	BirthEvent int         `json:"birth_event"`
	Failed     bool        `json:"failed,omitempty"`
}

// ArenaSnapshot is the full state of one island arena, enough to resume it.
type ArenaSnapshot struct {
	VersionedRecord
	RunID          string         `json:"run_id"`
	Island         int            `json:"island"`
	Capacity       int            `json:"capacity"`
	LocalityRadius int            `json:"locality_radius"`
	Direction      string         `json:"direction"`
	NextEvent      int            `json:"next_event"`
	Members        []MemberRecord `json:"members"`
}

type ChildOutcome struct {
	Anchor  int      `json:"anchor"`
	Slot    int      `json:"slot"`
	Outcome string   `json:"outcome"`
	Fitness *float64 `json:"fitness,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`

	// IncumbentFitness is the finite score of the occupant the child was
	// compared against.
	IncumbentFitness *float64 `json:"incumbent_fitness,omitempty"`
}

// EventRecord is the persisted trace of one mating event on one island.
type EventRecord struct {
	VersionedRecord
	Island         int             `json:"island"`
	Event          int             `json:"event"`
	Tournament     []int           `json:"tournament"`
	ParentA        int             `json:"parent_a"`
	ParentB        int             `json:"parent_b"`
	ParentAFitness *float64        `json:"parent_a_fitness,omitempty"`
	ParentBFitness *float64        `json:"parent_b_fitness,omitempty"`
	Children       [2]ChildOutcome `json:"children"`
	Discarded      bool            `json:"discarded,omitempty"`
	Occupied       int             `json:"occupied"`
	BestFitness    *float64        `json:"best_fitness,omitempty"`
	MeanFitness    float64         `json:"mean_fitness"`
	StdDevFitness  float64         `json:"stddev_fitness"`
	MeanAge        float64         `json:"mean_age"`
}

// Finite returns a pointer to f, or nil when f cannot be represented in JSON.
func Finite(f float64) *float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}
