package evo

import (
	"errors"
	"math/rand"
	"testing"

	"ringevo/internal/genome"
	"ringevo/internal/ring"
)

func TestMutateWithZeroCountReturnsIdenticalCopy(t *testing.T) {
	v := Variation{AngleMin: 0, AngleMax: 360}
	g := genome.Genome{{10, 20}, {30, 40}}
	out, err := v.Mutate(rand.New(rand.NewSource(1)), g, 0)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if !out.Equal(g) {
		t.Fatalf("expected identical genome, got %v", out)
	}
	out[0][0] = 99
	if g[0][0] != 10 {
		t.Fatal("mutate must not alias its input")
	}
}

func TestMutateChangesExactlyCountPositions(t *testing.T) {
	v := Variation{AngleMin: 1000, AngleMax: 2000}
	g := genome.Genome{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	rng := rand.New(rand.NewSource(5))
	for count := 0; count <= g.Positions(); count++ {
		out, err := v.Mutate(rng, g, count)
		if err != nil {
			t.Fatalf("mutate %d: %v", count, err)
		}
		changed := 0
		for c := range g {
			for a := range g[c] {
				if out[c][a] != g[c][a] {
					changed++
					if out[c][a] < 1000 || out[c][a] >= 2000 {
						t.Fatalf("mutated angle %g outside range", out[c][a])
					}
				}
			}
		}
		if changed != count {
			t.Fatalf("count=%d changed=%d", count, changed)
		}
	}
}

func TestMutateRejectsTooManyPositions(t *testing.T) {
	v := Variation{AngleMin: 0, AngleMax: 360}
	g := genome.Genome{{1, 2}, {3, 4}}
	if _, err := v.Mutate(rand.New(rand.NewSource(1)), g, 5); !errors.Is(err, ring.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestSwapWithFullCountExchangesGenomes(t *testing.T) {
	v := Variation{}
	a := genome.Genome{{1, 1}, {2, 2}, {3, 3}}
	b := genome.Genome{{7, 7}, {8, 8}, {9, 9}}
	outA, outB, err := v.Swap(rand.New(rand.NewSource(1)), a, b, 3)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if !outA.Equal(b) || !outB.Equal(a) {
		t.Fatalf("expected full exchange, got %v / %v", outA, outB)
	}
	outA[0][0] = 100
	if b[0][0] != 7 {
		t.Fatal("swap must not alias parent storage")
	}
}

func TestSwapPartialKeepsConformersIntact(t *testing.T) {
	v := Variation{}
	a := genome.Genome{{1, 1}, {2, 2}, {3, 3}, {4, 4}}
	b := genome.Genome{{5, 5}, {6, 6}, {7, 7}, {8, 8}}
	outA, outB, err := v.Swap(rand.New(rand.NewSource(9)), a, b, 2)
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	swapped := 0
	for c := range a {
		switch {
		case outA[c][0] == b[c][0] && outB[c][0] == a[c][0]:
			swapped++
		case outA[c][0] == a[c][0] && outB[c][0] == b[c][0]:
		default:
			t.Fatalf("conformer %d mixed: %v / %v", c, outA[c], outB[c])
		}
	}
	if swapped != 2 {
		t.Fatalf("swapped=%d want=2", swapped)
	}
}

func TestSwapRejectsInvalidCounts(t *testing.T) {
	v := Variation{}
	a := genome.Genome{{1}, {2}}
	if _, _, err := v.Swap(rand.New(rand.NewSource(1)), a, a, 3); !errors.Is(err, ring.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if _, _, err := v.Swap(rand.New(rand.NewSource(1)), a, genome.Genome{{1}}, 1); !errors.Is(err, ring.ErrConfiguration) {
		t.Fatalf("expected shape mismatch error, got %v", err)
	}
}

func TestGenerateChildrenProducesFreshUnscoredIndividuals(t *testing.T) {
	v := Variation{MutationCount: 2, SwapCount: 1, AngleMin: 0, AngleMax: 360}
	a := genome.Genome{{1, 1}, {2, 2}}
	b := genome.Genome{{3, 3}, {4, 4}}
	childA, childB, err := v.GenerateChildren(rand.New(rand.NewSource(2)), a, b, 7)
	if err != nil {
		t.Fatalf("generate children: %v", err)
	}
	for _, child := range []*ring.Individual{childA, childB} {
		if child.Scored() {
			t.Fatal("children must be unscored")
		}
		if child.BirthEvent != 7 || child.Slot != -1 {
			t.Fatalf("unexpected child metadata: %+v", child)
		}
		if child.Genome.Positions() != 4 {
			t.Fatalf("child shape changed: %v", child.Genome)
		}
	}
	if a[0][0] != 1 || b[0][0] != 3 {
		t.Fatal("parents must be left untouched")
	}
}

func TestVariationValidate(t *testing.T) {
	cases := []struct {
		name string
		v    Variation
		ok   bool
	}{
		{name: "ok", v: Variation{MutationCount: 6, SwapCount: 2, AngleMax: 360}, ok: true},
		{name: "too many mutations", v: Variation{MutationCount: 7, AngleMax: 360}},
		{name: "too many swaps", v: Variation{SwapCount: 3, AngleMax: 360}},
		{name: "default range", v: Variation{MutationCount: 1}, ok: true},
		{name: "inverted range", v: Variation{AngleMin: 10, AngleMax: 0}},
		{name: "empty range", v: Variation{AngleMin: 90, AngleMax: 90}},
		{name: "negative empty range", v: Variation{AngleMin: -30, AngleMax: -30}},
	}
	for _, tc := range cases {
		err := tc.v.Validate(2, 3)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ring.ErrConfiguration) {
			t.Fatalf("%s: expected configuration error, got %v", tc.name, err)
		}
	}
}

func TestMutateZeroValueDrawsFullCircle(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	g := genome.Genome{{-1, -1, -1}, {-1, -1, -1}}
	out, err := Variation{}.Mutate(rng, g, 6)
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	for _, conformer := range out {
		for _, angle := range conformer {
			if angle < 0 || angle >= 360 {
				t.Fatalf("angle %g outside [0, 360)", angle)
			}
		}
	}
}
