package evo

import (
	"context"
	"errors"
	"fmt"

	"ringevo/internal/genome"
)

// Oracle scores a genome. It is the only place a run may block for long.
type Oracle interface {
	Evaluate(ctx context.Context, g genome.Genome) (float64, error)
}

type OracleFunc func(ctx context.Context, g genome.Genome) (float64, error)

func (f OracleFunc) Evaluate(ctx context.Context, g genome.Genome) (float64, error) {
	return f(ctx, g)
}

// ErrFatalEvaluation marks an oracle failure that must abort the run instead
// of being absorbed as a worst-possible score.
var ErrFatalEvaluation = errors.New("fatal evaluation failure")

// FatalEvaluation wraps err so the mating loop aborts on it.
func FatalEvaluation(err error) error {
	return fmt.Errorf("%w: %w", ErrFatalEvaluation, err)
}

// ErrInvalidScore reports an oracle that returned NaN instead of an error.
var ErrInvalidScore = errors.New("oracle returned NaN score")

// EvaluationError reports a failed evaluation. Children of a mating event are
// identified by Event and Child; the initial scoring of filled slots sets
// Initial and reports Slot instead.
type EvaluationError struct {
	Event   int
	Child   int
	Slot    int
	Initial bool
	Fatal   bool
	Err     error
}

func (e *EvaluationError) Error() string {
	kind := "evaluation failed"
	if e.Fatal {
		kind = "fatal evaluation failure"
	}
	if e.Initial {
		return fmt.Sprintf("initial scoring of slot %d: %s: %v", e.Slot, kind, e.Err)
	}
	return fmt.Sprintf("event %d child %d: %s: %v", e.Event, e.Child, kind, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
