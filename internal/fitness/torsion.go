package fitness

import (
	"fmt"
	"math"
)

// TorsionBarrier is the height of the threefold rotational barrier, in
// arbitrary energy units.
const TorsionBarrier = 1.0

// TorsionEnergy is a threefold torsional potential summed over the dihedral
// angles of a conformer (degrees). Staggered angles (60, 180, 300) sit at
// the bottom of the wells.
func TorsionEnergy(conformer []float64) (float64, error) {
	if len(conformer) == 0 {
		return 0, fmt.Errorf("conformer has no angles")
	}
	total := 0.0
	for _, angle := range conformer {
		if math.IsNaN(angle) || math.IsInf(angle, 0) {
			return 0, fmt.Errorf("angle %v is not finite", angle)
		}
		phi := angle * math.Pi / 180
		total -= TorsionBarrier / 2 * (1 - math.Cos(3*phi))
	}
	return total, nil
}

// AngularRMSD is the root mean square of the wrapped angular differences
// between two conformers, in degrees.
func AngularRMSD(a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("conformer lengths differ: %d vs %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	sum := 0.0
	for i := range a {
		d := angleDelta(a[i], b[i])
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(a))), nil
}

// angleDelta returns a-b folded into [-180, 180].
func angleDelta(a, b float64) float64 {
	d := math.Mod(a-b, 360)
	switch {
	case d > 180:
		d -= 360
	case d < -180:
		d += 360
	}
	return d
}
