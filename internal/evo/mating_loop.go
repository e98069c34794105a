package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"ringevo/internal/ring"
)

// State is the mating loop's position within one event.
type State int

const (
	AwaitingSelection State = iota
	Selecting
	Varying
	AwaitingEvaluation
	Placing
	Done
)

func (s State) String() string {
	switch s {
	case AwaitingSelection:
		return "awaiting_selection"
	case Selecting:
		return "selecting"
	case Varying:
		return "varying"
	case AwaitingEvaluation:
		return "awaiting_evaluation"
	case Placing:
		return "placing"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type MonitorCommand string

const (
	CommandPause    MonitorCommand = "pause"
	CommandContinue MonitorCommand = "continue"
	CommandStop     MonitorCommand = "stop"
)

type LoopConfig struct {
	TournamentSize int
	// EvaluationTimeout bounds the evaluation of both children of one event.
	// A timed out event is discarded without touching the arena.
	EvaluationTimeout time.Duration
	// CountDiscarded advances the event counter for discarded events too.
	CountDiscarded bool
	// StartEvent is the counter value of the first event, for resumed runs.
	StartEvent int
	Rand       *rand.Rand
	Logger     *slog.Logger
	Control    <-chan MonitorCommand
	// OnEvent, when set, observes every finished or discarded event.
	OnEvent func(EventRecord)
}

// ChildRecord is what happened to one child of an event.
type ChildRecord struct {
	Anchor    int          `json:"anchor"`
	Fitness   float64      `json:"fitness"`
	Failed    bool         `json:"failed,omitempty"`
	EvalError string       `json:"eval_error,omitempty"`
	Outcome   ring.Outcome `json:"outcome"`
	Slot      int          `json:"slot"`

	// IncumbentFitness is the occupant score the child was compared against,
	// nil when the child landed in an empty slot.
	IncumbentFitness *float64 `json:"incumbent_fitness,omitempty"`
}

type EventRecord struct {
	Event          int              `json:"event"`
	Tournament     []int            `json:"tournament"`
	ParentA        int              `json:"parent_a"`
	ParentB        int              `json:"parent_b"`
	ParentAFitness float64          `json:"parent_a_fitness"`
	ParentBFitness float64          `json:"parent_b_fitness"`
	Children       [2]ChildRecord   `json:"children"`
	Discarded      bool             `json:"discarded,omitempty"`
	Diagnostics    EventDiagnostics `json:"diagnostics"`
}

type RunResult struct {
	Events      []EventRecord
	BestByEvent []float64
	// NextEvent is the counter value the next event would receive.
	NextEvent int
	Stopped   bool
}

// MatingLoop drives select, vary, evaluate and place over one arena. Events
// run one at a time; the two evaluations inside an event run concurrently.
type MatingLoop struct {
	arena    *ring.Arena
	cfg      LoopConfig
	oracle   Oracle
	breeder  Breeder
	selector TournamentSelector
	rng      *rand.Rand
	logger   *slog.Logger

	state State
	event int
}

func NewMatingLoop(arena *ring.Arena, cfg LoopConfig, oracle Oracle, breeder Breeder) (*MatingLoop, error) {
	if arena == nil {
		return nil, fmt.Errorf("arena is required")
	}
	if oracle == nil {
		return nil, fmt.Errorf("fitness oracle is required")
	}
	if breeder == nil {
		return nil, fmt.Errorf("variation operators are required")
	}
	if cfg.TournamentSize < 2 {
		return nil, fmt.Errorf("%w: tournament size must be >= 2", ring.ErrConfiguration)
	}
	if cfg.TournamentSize > arena.Capacity() {
		return nil, fmt.Errorf("%w: tournament size %d exceeds arena capacity %d", ring.ErrConfiguration, cfg.TournamentSize, arena.Capacity())
	}
	if cfg.EvaluationTimeout < 0 {
		return nil, fmt.Errorf("%w: evaluation timeout must be >= 0", ring.ErrConfiguration)
	}
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &MatingLoop{
		arena:    arena,
		cfg:      cfg,
		oracle:   oracle,
		breeder:  breeder,
		selector: TournamentSelector{Size: cfg.TournamentSize},
		rng:      rng,
		logger:   logger,
		state:    AwaitingSelection,
		event:    cfg.StartEvent,
	}, nil
}

func (m *MatingLoop) State() State {
	return m.state
}

// Event returns the current mating-event counter.
func (m *MatingLoop) Event() int {
	return m.event
}

// RunMatingEvents runs numEvents mating events over arena.
func RunMatingEvents(ctx context.Context, arena *ring.Arena, cfg LoopConfig, oracle Oracle, breeder Breeder, numEvents int) (RunResult, error) {
	loop, err := NewMatingLoop(arena, cfg, oracle, breeder)
	if err != nil {
		return RunResult{}, err
	}
	return loop.Run(ctx, numEvents)
}

// Run executes numEvents iterations. Each iteration is one event, including
// discarded ones; the counter stamped on children only advances for
// discarded events when CountDiscarded is set.
func (m *MatingLoop) Run(ctx context.Context, numEvents int) (RunResult, error) {
	if numEvents < 0 {
		return RunResult{}, fmt.Errorf("%w: event count must be >= 0", ring.ErrConfiguration)
	}
	result := RunResult{
		Events:      make([]EventRecord, 0, numEvents),
		BestByEvent: make([]float64, 0, numEvents),
	}
	m.logger.Info("mating events starting",
		"events", numEvents,
		"start_event", m.event,
		"occupied", m.arena.Occupied(),
		"capacity", m.arena.Capacity(),
	)

	for i := 0; i < numEvents; i++ {
		if err := ctx.Err(); err != nil {
			result.NextEvent = m.event
			return result, err
		}
		stop, err := m.handleControl(ctx)
		if err != nil {
			result.NextEvent = m.event
			return result, err
		}
		if stop {
			result.Stopped = true
			break
		}

		rec, err := m.Step(ctx)
		if err != nil {
			m.state = Done
			result.NextEvent = m.event
			return result, err
		}
		result.Events = append(result.Events, rec)
		if !rec.Discarded {
			result.BestByEvent = append(result.BestByEvent, rec.Diagnostics.BestFitness)
			continue
		}
		if err := ctx.Err(); err != nil {
			m.state = Done
			result.NextEvent = m.event
			return result, err
		}
	}

	m.state = Done
	result.NextEvent = m.event
	m.logger.Info("mating events finished",
		"executed", len(result.Events),
		"next_event", m.event,
		"stopped", result.Stopped,
	)
	return result, nil
}

// Step runs a single mating event.
func (m *MatingLoop) Step(ctx context.Context) (EventRecord, error) {
	rec := EventRecord{Event: m.event}

	m.state = Selecting
	tournament, best, second, err := m.selector.Run(m.rng, m.arena)
	if err != nil {
		return rec, fmt.Errorf("event %d selection: %w", m.event, err)
	}
	parentA, err := m.arena.Get(best)
	if err != nil {
		return rec, fmt.Errorf("event %d parent %d: %w", m.event, best, err)
	}
	parentB, err := m.arena.Get(second)
	if err != nil {
		return rec, fmt.Errorf("event %d parent %d: %w", m.event, second, err)
	}
	rec.Tournament = tournament
	rec.ParentA, rec.ParentB = best, second
	rec.ParentAFitness, rec.ParentBFitness = *parentA.Fitness, *parentB.Fitness

	m.state = Varying
	childA, childB, err := m.breeder.GenerateChildren(m.rng, parentA.Genome, parentB.Genome, m.event)
	if err != nil {
		return rec, fmt.Errorf("event %d variation: %w", m.event, err)
	}

	m.state = AwaitingEvaluation
	children := [2]*ring.Individual{childA, childB}
	discarded, err := m.evaluate(ctx, children, &rec)
	if err != nil {
		return rec, err
	}
	if discarded {
		rec.Discarded = true
		rec.Diagnostics = SummarizeArena(m.arena.Members(), m.arena.Order(), m.event)
		m.logger.Warn("mating event discarded", "event", m.event, "cause", context.Cause(ctx))
		if m.cfg.CountDiscarded {
			m.event++
		}
		m.state = AwaitingSelection
		m.emit(rec)
		return rec, nil
	}

	// Cross-anchoring: each child is seeded near the other parent.
	m.state = Placing
	anchors := [2]int{second, best}
	for i, child := range children {
		placement, err := m.arena.Place(anchors[i], child)
		if err != nil {
			return rec, fmt.Errorf("event %d place child %d: %w", m.event, i, err)
		}
		rec.Children[i].Anchor = anchors[i]
		rec.Children[i].Outcome = placement.Outcome
		rec.Children[i].Slot = placement.Slot
		if placement.Incumbent != nil {
			rec.Children[i].IncumbentFitness = placement.Incumbent.Fitness
			if placement.Outcome == ring.Replaced {
				m.logger.Debug("member displaced",
					"event", m.event,
					"slot", placement.Slot,
					"incumbent_fitness", *placement.Incumbent.Fitness,
					"incumbent_birth_event", placement.Incumbent.BirthEvent,
					"fitness", *child.Fitness,
				)
			}
		}
	}

	rec.Diagnostics = SummarizeArena(m.arena.Members(), m.arena.Order(), m.event)
	m.logger.Debug("mating event",
		"event", m.event,
		"parents", []int{best, second},
		"child_a", rec.Children[0].Outcome.String(),
		"child_b", rec.Children[1].Outcome.String(),
		"best", rec.Diagnostics.BestFitness,
	)
	m.event++
	m.state = AwaitingSelection
	m.emit(rec)
	return rec, nil
}

// evaluate scores both children concurrently. Non-fatal oracle failures are
// absorbed as the worst score; a cancelled or timed out evaluation discards
// the event.
func (m *MatingLoop) evaluate(ctx context.Context, children [2]*ring.Individual, rec *EventRecord) (bool, error) {
	evalCtx := ctx
	if m.cfg.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		evalCtx, cancel = context.WithTimeout(ctx, m.cfg.EvaluationTimeout)
		defer cancel()
	}

	var scores [2]float64
	var failures [2]error
	g, gctx := errgroup.WithContext(evalCtx)
	for i, child := range children {
		i, child := i, child
		g.Go(func() error {
			score, err := m.oracle.Evaluate(gctx, child.Genome)
			if err == nil && math.IsNaN(score) {
				err = ErrInvalidScore
			}
			if err == nil {
				scores[i] = score
				return nil
			}
			if errors.Is(err, ErrFatalEvaluation) {
				return &EvaluationError{Event: m.event, Child: i, Fatal: true, Err: err}
			}
			if gctx.Err() != nil {
				return gctx.Err()
			}
			failures[i] = &EvaluationError{Event: m.event, Child: i, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var evalErr *EvaluationError
		if errors.As(err, &evalErr) && evalErr.Fatal {
			return false, evalErr
		}
		return true, nil
	}
	if evalCtx.Err() != nil {
		return true, nil
	}

	order := m.arena.Order()
	for i, child := range children {
		if failures[i] != nil {
			child.ScoreFailed(order)
			rec.Children[i].Failed = true
			rec.Children[i].EvalError = failures[i].Error()
			m.logger.Warn("child evaluation failed", "event", m.event, "child", i, "error", failures[i])
		} else {
			child.Score(scores[i])
		}
		rec.Children[i].Fitness = *child.Fitness
	}
	return false, nil
}

// handleControl drains pending commands. A pause blocks until continue, stop
// or cancellation.
func (m *MatingLoop) handleControl(ctx context.Context) (bool, error) {
	if m.cfg.Control == nil {
		return false, nil
	}
	paused := false
	for {
		if paused {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case cmd, ok := <-m.cfg.Control:
				if !ok {
					return false, nil
				}
				switch cmd {
				case CommandContinue:
					m.logger.Info("mating loop continued", "event", m.event)
					paused = false
				case CommandStop:
					return true, nil
				}
			}
			continue
		}
		select {
		case cmd, ok := <-m.cfg.Control:
			if !ok {
				return false, nil
			}
			switch cmd {
			case CommandPause:
				m.logger.Info("mating loop paused", "event", m.event)
				paused = true
			case CommandStop:
				return true, nil
			}
		default:
			return false, nil
		}
	}
}

func (m *MatingLoop) emit(rec EventRecord) {
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(rec)
	}
}
