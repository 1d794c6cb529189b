package world

import (
	"math/rand"
	"testing"
)

func TestGeographyClampAndStep(t *testing.T) {
	g := Geography{Width: 10, Height: 8}

	if got := g.Clamp(Position{X: -3, Y: 20}); got != (Position{X: 0, Y: 7}) {
		t.Fatalf("clamp = %+v", got)
	}
	if got := g.Step(Position{X: 0, Y: 0}, -1, -1); got != (Position{X: 0, Y: 0}) {
		t.Fatalf("step off the edge = %+v", got)
	}
	if got := g.Step(Position{X: 4, Y: 4}, 1, -1); got != (Position{X: 5, Y: 3}) {
		t.Fatalf("step = %+v", got)
	}
	if g.Contains(Position{X: 10, Y: 0}) {
		t.Fatalf("width is exclusive")
	}
}

func TestDistanceIsChebyshev(t *testing.T) {
	if d := Distance(Position{X: 0, Y: 0}, Position{X: 3, Y: -2}); d != 3 {
		t.Fatalf("distance = %d, want 3", d)
	}
	if d := Distance(Position{X: 1, Y: 1}, Position{X: 1, Y: 1}); d != 0 {
		t.Fatalf("distance = %d, want 0", d)
	}
}

func TestJitterNearDeterministicPerSeed(t *testing.T) {
	g := Geography{Width: 50, Height: 50}
	a := g.JitterNear(Position{X: 25, Y: 25}, 2, rand.New(rand.NewSource(7)))
	b := g.JitterNear(Position{X: 25, Y: 25}, 2, rand.New(rand.NewSource(7)))
	if a != b {
		t.Fatalf("same seed produced %+v and %+v", a, b)
	}
	if Distance(a, Position{X: 25, Y: 25}) > 2 {
		t.Fatalf("jitter escaped radius: %+v", a)
	}
}
