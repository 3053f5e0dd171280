package procedural

import (
	"fmt"

	"github.com/voxelstream/server/internal/config"
)

// Height field sources selectable through configuration.
const (
	SourceSimplex = "simplex"
	SourcePerlin  = "perlin"
	SourceFlat    = "flat"
	SourceRemote  = "remote"
)

// NewHeightField builds the height field named by cfg.Terrain.HeightField.
func NewHeightField(cfg *config.Config) (HeightField, error) {
	params := FBMParams{
		Octaves:     cfg.Terrain.Octaves,
		Frequency:   cfg.Terrain.Frequency,
		Persistence: cfg.Terrain.Persistence,
		Lacunarity:  cfg.Terrain.Lacunarity,
	}

	switch cfg.Terrain.HeightField {
	case SourceSimplex:
		if err := params.Validate(); err != nil {
			return nil, err
		}
		return SimplexFBM{Params: params}, nil
	case SourcePerlin:
		if err := params.Validate(); err != nil {
			return nil, err
		}
		return PerlinFBM{Params: params}, nil
	case SourceFlat:
		return Flat{Level: float32(cfg.Terrain.FlatLevel)}, nil
	case SourceRemote:
		if cfg.Procedural.BaseURL == "" {
			return nil, fmt.Errorf("remote height field requires a base URL")
		}
		return NewClient(cfg), nil
	default:
		return nil, fmt.Errorf("unknown height field %q", cfg.Terrain.HeightField)
	}
}
