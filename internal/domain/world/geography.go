package world

import "math/rand"

type Position struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Geography is the bounded plane agents live on. Coordinates are
// clamped, never wrapped.
type Geography struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (g Geography) Contains(p Position) bool {
	return p.X >= 0 && p.X < g.Width && p.Y >= 0 && p.Y < g.Height
}

func (g Geography) Clamp(p Position) Position {
	if p.X < 0 {
		p.X = 0
	}
	if p.X >= g.Width {
		p.X = g.Width - 1
	}
	if p.Y < 0 {
		p.Y = 0
	}
	if p.Y >= g.Height {
		p.Y = g.Height - 1
	}
	return p
}

func (g Geography) Step(p Position, dx, dy int) Position {
	return g.Clamp(Position{X: p.X + dx, Y: p.Y + dy})
}

// Distance is the Chebyshev distance, the number of single-step moves
// between two positions when diagonals count as one step.
func Distance(a, b Position) int {
	dx := abs(a.X - b.X)
	dy := abs(a.Y - b.Y)
	if dx > dy {
		return dx
	}
	return dy
}

func (g Geography) RandomPosition(rng *rand.Rand) Position {
	if g.Width <= 0 || g.Height <= 0 {
		return Position{}
	}
	return Position{X: rng.Intn(g.Width), Y: rng.Intn(g.Height)}
}

// JitterNear returns a position within radius of p, clamped to bounds.
// Draws exactly two values from rng regardless of the result.
func (g Geography) JitterNear(p Position, radius int, rng *rand.Rand) Position {
	if radius <= 0 {
		return g.Clamp(p)
	}
	dx := rng.Intn(2*radius+1) - radius
	dy := rng.Intn(2*radius+1) - radius
	return g.Step(p, dx, dy)
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
