package ring

import "errors"

var (
	// ErrCapacity reports a fill or insert beyond the free slots of an arena.
	ErrCapacity = errors.New("arena capacity exceeded")
	// ErrEmptySlot reports a slot without an occupant where one was required.
	ErrEmptySlot = errors.New("slot is empty")
	// ErrSlotOutOfRange reports an index outside [0, capacity).
	ErrSlotOutOfRange = errors.New("slot out of range")
	// ErrInsufficientPopulation reports a selection larger than the occupied population.
	ErrInsufficientPopulation = errors.New("insufficient population")
	// ErrUnscoredIndividual reports selection or comparison of an individual without fitness.
	ErrUnscoredIndividual = errors.New("individual has no fitness")
	// ErrInvalidFitness reports a NaN score offered to the arena.
	ErrInvalidFitness = errors.New("fitness is NaN")
	// ErrConfiguration reports run parameters that cannot work together.
	ErrConfiguration = errors.New("invalid configuration")
)
