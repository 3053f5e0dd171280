package procedural

import (
	"context"
	"fmt"

	"github.com/aquilax/go-perlin"
	"github.com/ojrac/opensimplex-go"
)

// FBMParams shapes fractal Brownian motion terrain.
type FBMParams struct {
	Octaves     int     `json:"octaves"`
	Frequency   float64 `json:"frequency"`
	Persistence float64 `json:"persistence"`
	Lacunarity  float64 `json:"lacunarity"`
}

// DefaultFBMParams gives gentle rolling terrain for 10-voxel chunks.
func DefaultFBMParams() FBMParams {
	return FBMParams{
		Octaves:     4,
		Frequency:   0.08,
		Persistence: 0.5,
		Lacunarity:  2.0,
	}
}

// Validate rejects parameters that cannot produce a height field.
func (p FBMParams) Validate() error {
	if p.Octaves < 1 {
		return fmt.Errorf("octaves must be at least 1, got %d", p.Octaves)
	}
	if p.Frequency <= 0 {
		return fmt.Errorf("frequency must be positive, got %f", p.Frequency)
	}
	if p.Persistence <= 0 || p.Persistence >= 1 {
		return fmt.Errorf("persistence must be in (0, 1), got %f", p.Persistence)
	}
	if p.Lacunarity <= 1 {
		return fmt.Errorf("lacunarity must be greater than 1, got %f", p.Lacunarity)
	}
	return nil
}

// SimplexFBM layers OpenSimplex octaves.
type SimplexFBM struct {
	Params FBMParams
}

// Generate samples width×height columns; output is normalized to [0, 1].
func (s SimplexFBM) Generate(ctx context.Context, seed uint64, width, height int) (*Grid, error) {
	if err := s.Params.Validate(); err != nil {
		return nil, err
	}
	n := opensimplex.NewNormalized(int64(seed))
	g := NewGrid(width, height)
	for z := 0; z < g.Height; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < g.Width; x++ {
			g.Set(x, z, clamp01(float32(octaves(n.Eval2, float64(x), float64(z), s.Params))))
		}
	}
	return g, nil
}

// PerlinFBM uses the classic Perlin implementation, which sums its own
// octaves (alpha = amplitude divisor, beta = frequency multiplier).
type PerlinFBM struct {
	Params FBMParams
}

// Generate samples width×height columns; output is remapped from [-1, 1] to [0, 1].
func (p PerlinFBM) Generate(ctx context.Context, seed uint64, width, height int) (*Grid, error) {
	if err := p.Params.Validate(); err != nil {
		return nil, err
	}
	alpha := 1 / p.Params.Persistence
	noise := perlin.NewPerlin(alpha, p.Params.Lacunarity, int32(p.Params.Octaves), int64(seed))
	g := NewGrid(width, height)
	for z := 0; z < g.Height; z++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for x := 0; x < g.Width; x++ {
			// Perlin is zero on integer lattice points; the half-cell shift avoids them.
			v := noise.Noise2D((float64(x)+0.5)*p.Params.Frequency, (float64(z)+0.5)*p.Params.Frequency)
			g.Set(x, z, clamp01(float32((v+1)/2)))
		}
	}
	return g, nil
}

// octaves sums normalized samples and divides by the total amplitude.
func octaves(sample func(x, y float64) float64, x, y float64, p FBMParams) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0
	frequency := p.Frequency

	for i := 0; i < p.Octaves; i++ {
		total += sample(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= p.Persistence
		frequency *= p.Lacunarity
	}

	return total / maxVal
}
