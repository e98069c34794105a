package ring

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"ringevo/internal/genome"
)

// Outcome describes what a placement did to its target slot.
type Outcome int

const (
	Rejected Outcome = iota
	Inserted
	Replaced
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Placement is the result of Arena.Place.
type Placement struct {
	Outcome Outcome
	Slot    int
	// Incumbent is a copy of the occupant the candidate was compared against,
	// nil when the target was empty.
	Incumbent *Individual
}

// Arena is a fixed-capacity ring of population slots. Every method is safe for
// concurrent use; Place performs its read-compare-write under one lock.
type Arena struct {
	mu sync.RWMutex

	capacity int
	radius   int
	factory  genome.Factory
	order    Order
	rng      *rand.Rand

	slots    []*Individual
	visited  []bool
	occupied int
}

type Option func(*Arena)

func WithOrder(order Order) Option {
	return func(a *Arena) { a.order = order }
}

// WithRand injects the random source used for fresh genomes and placement windows.
func WithRand(rng *rand.Rand) Option {
	return func(a *Arena) {
		if rng != nil {
			a.rng = rng
		}
	}
}

func New(capacity, localityRadius int, factory genome.Factory, opts ...Option) (*Arena, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity must be > 0", ErrConfiguration)
	}
	if localityRadius < 0 {
		return nil, fmt.Errorf("%w: locality radius must be >= 0", ErrConfiguration)
	}
	if factory == nil {
		return nil, fmt.Errorf("%w: genome factory is required", ErrConfiguration)
	}
	a := &Arena{
		capacity: capacity,
		radius:   localityRadius,
		factory:  factory,
		slots:    make([]*Individual, capacity),
		visited:  make([]bool, capacity),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return a, nil
}

func (a *Arena) Capacity() int {
	return a.capacity
}

func (a *Arena) LocalityRadius() int {
	return a.radius
}

func (a *Arena) Order() Order {
	return a.order
}

func (a *Arena) Occupied() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.occupied
}

func (a *Arena) IsEmpty() bool {
	return a.Occupied() == 0
}

func (a *Arena) IsFull() bool {
	return a.Occupied() == a.capacity
}

// Distance is the ring-modular distance between two slots.
func (a *Arena) Distance(i, j int) int {
	return Distance(a.capacity, i, j)
}

func Distance(capacity, i, j int) int {
	d := i - j
	if d < 0 {
		d = -d
	}
	d %= capacity
	if capacity-d < d {
		return capacity - d
	}
	return d
}

// Window lists the distinct slots within the locality radius of slot, walking
// from slot-radius to slot+radius with wrap-around.
func (a *Arena) Window(slot int) ([]int, error) {
	if err := a.checkRange(slot); err != nil {
		return nil, err
	}
	return a.window(slot), nil
}

func (a *Arena) window(slot int) []int {
	if 2*a.radius+1 >= a.capacity {
		out := make([]int, a.capacity)
		for i := range out {
			out[i] = i
		}
		return out
	}
	out := make([]int, 0, 2*a.radius+1)
	for offset := -a.radius; offset <= a.radius; offset++ {
		out = append(out, a.wrap(slot+offset))
	}
	return out
}

func (a *Arena) wrap(i int) int {
	i %= a.capacity
	if i < 0 {
		i += a.capacity
	}
	return i
}

// Get returns a copy of the occupant of slot.
func (a *Arena) Get(slot int) (*Individual, error) {
	if err := a.checkRange(slot); err != nil {
		return nil, err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	ind := a.slots[slot]
	if ind == nil {
		return nil, fmt.Errorf("%w: %d", ErrEmptySlot, slot)
	}
	return ind.Clone(), nil
}

// OccupiedSlots returns the occupied slot indices in ascending order.
func (a *Arena) OccupiedSlots() []int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]int, 0, a.occupied)
	for i, ind := range a.slots {
		if ind != nil {
			out = append(out, i)
		}
	}
	return out
}

// Members returns copies of every occupant in slot order.
func (a *Arena) Members() []*Individual {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Individual, 0, a.occupied)
	for _, ind := range a.slots {
		if ind != nil {
			out = append(out, ind.Clone())
		}
	}
	return out
}

// Fill places n fresh, unscored individuals into the first n empty slots.
// On ErrCapacity the arena is left unchanged.
func (a *Arena) Fill(n, currentEvent int) ([]int, error) {
	if n < 0 {
		return nil, fmt.Errorf("%w: fill count must be >= 0", ErrConfiguration)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	free := a.capacity - a.occupied
	if n > free {
		return nil, fmt.Errorf("%w: cannot fill %d slots, %d free", ErrCapacity, n, free)
	}

	filled := make([]int, 0, n)
	for i := 0; i < a.capacity && len(filled) < n; i++ {
		if a.slots[i] != nil {
			continue
		}
		ind := NewIndividual(a.factory.New(a.rng), currentEvent)
		ind.Slot = i
		a.slots[i] = ind
		a.visited[i] = true
		filled = append(filled, i)
	}
	a.occupied += len(filled)
	return filled, nil
}

func (a *Arena) SetFitness(slot int, score float64) error {
	if err := a.checkRange(slot); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ind := a.slots[slot]
	if ind == nil {
		return fmt.Errorf("%w: cannot set fitness of slot %d", ErrEmptySlot, slot)
	}
	if math.IsNaN(score) {
		return fmt.Errorf("%w: slot %d", ErrInvalidFitness, slot)
	}
	ind.Score(score)
	return nil
}

// MarkFailed gives slot the sentinel worst fitness for a failed evaluation.
func (a *Arena) MarkFailed(slot int) error {
	if err := a.checkRange(slot); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ind := a.slots[slot]
	if ind == nil {
		return fmt.Errorf("%w: cannot set fitness of slot %d", ErrEmptySlot, slot)
	}
	ind.ScoreFailed(a.order)
	return nil
}

// Place seeds candidate at a uniformly chosen slot within the locality radius
// of reference. An empty target is always taken; an occupied target is taken
// only when the candidate is strictly better than its occupant. A failed
// candidate never takes an occupied slot.
func (a *Arena) Place(reference int, candidate *Individual) (Placement, error) {
	if err := a.checkRange(reference); err != nil {
		return Placement{}, err
	}
	if !candidate.Scored() {
		return Placement{}, fmt.Errorf("%w: candidate must be scored before placement", ErrUnscoredIndividual)
	}
	if math.IsNaN(*candidate.Fitness) {
		return Placement{}, fmt.Errorf("%w: candidate", ErrInvalidFitness)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.visited[reference] {
		return Placement{}, fmt.Errorf("%w: reference slot %d has never been occupied", ErrEmptySlot, reference)
	}

	window := a.window(reference)
	target := window[a.rng.Intn(len(window))]

	occupant := a.slots[target]
	if occupant == nil {
		a.store(target, candidate)
		a.occupied++
		return Placement{Outcome: Inserted, Slot: target}, nil
	}
	if !occupant.Scored() {
		return Placement{}, fmt.Errorf("%w: occupant of slot %d", ErrUnscoredIndividual, target)
	}

	incumbent := occupant.Clone()
	if !candidate.Failed && a.order.Better(*candidate.Fitness, *occupant.Fitness) {
		a.store(target, candidate)
		return Placement{Outcome: Replaced, Slot: target, Incumbent: incumbent}, nil
	}
	return Placement{Outcome: Rejected, Slot: target, Incumbent: incumbent}, nil
}

func (a *Arena) store(slot int, candidate *Individual) {
	ind := candidate.Clone()
	ind.Slot = slot
	a.slots[slot] = ind
	a.visited[slot] = true
}

// Restore loads members into an empty arena, for resuming a stored run.
func (a *Arena) Restore(members []*Individual) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.occupied != 0 {
		return fmt.Errorf("%w: restore requires an empty arena", ErrCapacity)
	}
	if len(members) > a.capacity {
		return fmt.Errorf("%w: %d members for %d slots", ErrCapacity, len(members), a.capacity)
	}
	for _, m := range members {
		if m == nil {
			a.reset()
			return fmt.Errorf("restore: nil member")
		}
		if m.Slot < 0 || m.Slot >= a.capacity {
			a.reset()
			return fmt.Errorf("%w: restore slot %d", ErrSlotOutOfRange, m.Slot)
		}
		if a.slots[m.Slot] != nil {
			a.reset()
			return fmt.Errorf("restore: duplicate slot %d", m.Slot)
		}
		if m.Scored() && math.IsNaN(*m.Fitness) {
			a.reset()
			return fmt.Errorf("%w: restore slot %d", ErrInvalidFitness, m.Slot)
		}
		a.slots[m.Slot] = m.Clone()
		a.visited[m.Slot] = true
		a.occupied++
	}
	return nil
}

func (a *Arena) reset() {
	for i := range a.slots {
		a.slots[i] = nil
		a.visited[i] = false
	}
	a.occupied = 0
}

func (a *Arena) checkRange(slot int) error {
	if slot < 0 || slot >= a.capacity {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrSlotOutOfRange, slot, a.capacity)
	}
	return nil
}
