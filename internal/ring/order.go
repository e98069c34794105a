package ring

import (
	"fmt"
	"math"
)

// Direction selects whether larger or smaller fitness values win.
type Direction int

const (
	Maximize Direction = iota
	Minimize
)

func (d Direction) String() string {
	switch d {
	case Maximize:
		return "maximize"
	case Minimize:
		return "minimize"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

func ParseDirection(s string) (Direction, error) {
	switch s {
	case "", "maximize", "max":
		return Maximize, nil
	case "minimize", "min":
		return Minimize, nil
	default:
		return Maximize, fmt.Errorf("%w: unknown fitness direction %q", ErrConfiguration, s)
	}
}

// Order is the single fitness comparison used for selection and replacement.
// Better is strict, so equal scores never displace each other. Neither NaN nor
// the Worst sentinel ever wins.
type Order struct {
	Direction Direction
}

func (o Order) Better(candidate, incumbent float64) bool {
	if math.IsNaN(candidate) || candidate == o.Worst() {
		return false
	}
	if math.IsNaN(incumbent) {
		return true
	}
	if o.Direction == Minimize {
		return candidate < incumbent
	}
	return candidate > incumbent
}

// Worst is the sentinel score given to individuals whose evaluation failed.
func (o Order) Worst() float64 {
	if o.Direction == Minimize {
		return math.Inf(1)
	}
	return math.Inf(-1)
}
