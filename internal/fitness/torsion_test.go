package fitness

import (
	"math"
	"testing"
)

func TestTorsionEnergyWells(t *testing.T) {
	cases := []struct {
		angles []float64
		want   float64
	}{
		{angles: []float64{60}, want: -1},
		{angles: []float64{180}, want: -1},
		{angles: []float64{0}, want: 0},
		{angles: []float64{120}, want: 0},
		{angles: []float64{60, 0, 300}, want: -2},
		{angles: []float64{-60}, want: -1},
	}
	for _, tc := range cases {
		got, err := TorsionEnergy(tc.angles)
		if err != nil {
			t.Fatalf("%v: %v", tc.angles, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%v: energy=%g want=%g", tc.angles, got, tc.want)
		}
	}
	if _, err := TorsionEnergy(nil); err == nil {
		t.Fatal("expected error for empty conformer")
	}
	if _, err := TorsionEnergy([]float64{math.NaN()}); err == nil {
		t.Fatal("expected error for NaN angle")
	}
}

func TestAngularRMSDWrapsAround(t *testing.T) {
	cases := []struct {
		a, b []float64
		want float64
	}{
		{a: []float64{10, 20}, b: []float64{10, 20}, want: 0},
		{a: []float64{350}, b: []float64{10}, want: 20},
		{a: []float64{0, 0}, b: []float64{30, -30}, want: 30},
		{a: []float64{0}, b: []float64{180}, want: 180},
		{a: []float64{720}, b: []float64{0}, want: 0},
	}
	for _, tc := range cases {
		got, err := AngularRMSD(tc.a, tc.b)
		if err != nil {
			t.Fatalf("%v/%v: %v", tc.a, tc.b, err)
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Fatalf("%v/%v: rmsd=%g want=%g", tc.a, tc.b, got, tc.want)
		}
	}
	if _, err := AngularRMSD([]float64{1}, []float64{1, 2}); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
