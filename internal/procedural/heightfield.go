package procedural

import (
	"context"
	"fmt"
)

// HeightField produces a width×height grid of elevations in [0, 1] for a seed.
// Implementations must be deterministic for a given (seed, width, height) and
// safe for concurrent use.
type HeightField interface {
	Generate(ctx context.Context, seed uint64, width, height int) (*Grid, error)
}

// HeightFieldFunc adapts a plain function to HeightField.
type HeightFieldFunc func(ctx context.Context, seed uint64, width, height int) (*Grid, error)

// Generate calls f.
func (f HeightFieldFunc) Generate(ctx context.Context, seed uint64, width, height int) (*Grid, error) {
	return f(ctx, seed, width, height)
}

// Grid is a row-major elevation grid: Values[x + z*Width].
type Grid struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Values []float32 `json:"values"`
}

// NewGrid allocates a zeroed grid.
func NewGrid(width, height int) *Grid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid{
		Width:  width,
		Height: height,
		Values: make([]float32, width*height),
	}
}

// At returns the elevation of column (x, z).
func (g *Grid) At(x, z int) float32 {
	return g.Values[x+z*g.Width]
}

// Set stores the elevation of column (x, z).
func (g *Grid) Set(x, z int, v float32) {
	g.Values[x+z*g.Width] = v
}

// Validate checks that the grid matches the requested shape.
func (g *Grid) Validate(width, height int) error {
	if g == nil {
		return fmt.Errorf("height field is nil")
	}
	if g.Width != width || g.Height != height {
		return fmt.Errorf("height field shape mismatch: got %dx%d want %dx%d", g.Width, g.Height, width, height)
	}
	if len(g.Values) != width*height {
		return fmt.Errorf("height field values length mismatch: got %d want %d", len(g.Values), width*height)
	}
	return nil
}

// Flat is a constant height field. Level is clamped to [0, 1].
type Flat struct {
	Level float32
}

// Generate fills the grid with the flat level.
func (f Flat) Generate(_ context.Context, _ uint64, width, height int) (*Grid, error) {
	g := NewGrid(width, height)
	level := clamp01(f.Level)
	for i := range g.Values {
		g.Values[i] = level
	}
	return g, nil
}

func clamp01(v float32) float32 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
