package materials

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
)

// ErrNotReady is returned when the registry has not been populated yet.
var ErrNotReady = errors.New("material registry not ready")

// HSL is a color in hue/saturation/lightness, each component 0-31.
type HSL struct {
	H float32 `json:"h"`
	S float32 `json:"s"`
	L float32 `json:"l"`
}

// Material describes how voxels with a given material index are rendered.
// Color channels and surface parameters are stored as bytes and quantized
// to 5 bits by the accessors.
type Material struct {
	ID          uint32   `yaml:"id" json:"id"`
	Name        string   `yaml:"name" json:"name" validate:"required,max=64"`
	Unlit       bool     `yaml:"unlit" json:"unlit"`
	Color       [3]uint8 `yaml:"color" json:"color"`
	Emissive    [3]uint8 `yaml:"emissive" json:"emissive"`
	Metallic    uint8    `yaml:"metallic" json:"metallic"`
	Roughness   uint8    `yaml:"roughness" json:"roughness"`
	Reflectance uint8    `yaml:"reflectance" json:"reflectance"`
}

// BaseColor returns the quantized base color.
func (m Material) BaseColor() HSL {
	return quantizeHSL(m.Color)
}

// EmissiveColor returns the quantized emissive color.
func (m Material) EmissiveColor() HSL {
	return quantizeHSL(m.Emissive)
}

// MetallicFactor returns metallic in [0, 1).
func (m Material) MetallicFactor() float32 { return quantize(m.Metallic) }

// RoughnessFactor returns roughness in [0, 1).
func (m Material) RoughnessFactor() float32 { return quantize(m.Roughness) }

// ReflectanceFactor returns reflectance in [0, 1).
func (m Material) ReflectanceFactor() float32 { return quantize(m.Reflectance) }

func quantize(v uint8) float32 {
	return float32(v&31) / 32
}

func quantizeHSL(c [3]uint8) HSL {
	return HSL{H: float32(c[0] & 31), S: float32(c[1] & 31), L: float32(c[2] & 31)}
}

// Registry maps material indices to render definitions. It starts empty and
// becomes ready once populated; generation tasks wait on that readiness
// instead of reading a global. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[uint32]Material
	ready   chan struct{}
	once    sync.Once
}

// NewRegistry creates an empty, not-yet-ready registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[uint32]Material),
		ready:   make(chan struct{}),
	}
}

// Populate replaces the registry contents and marks it ready. Duplicate ids
// are rejected and leave the registry untouched.
func (r *Registry) Populate(defs []Material) error {
	if len(defs) == 0 {
		return fmt.Errorf("no materials to register")
	}
	entries := make(map[uint32]Material, len(defs))
	for _, m := range defs {
		if _, dup := entries[m.ID]; dup {
			return fmt.Errorf("duplicate material id %d", m.ID)
		}
		entries[m.ID] = m
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()

	r.once.Do(func() {
		close(r.ready)
		log.Printf("[Materials] Registry ready with %d materials", len(entries))
	})
	return nil
}

// Ready is closed once the registry has been populated.
func (r *Registry) Ready() <-chan struct{} {
	return r.ready
}

// IsReady reports whether Populate has succeeded at least once.
func (r *Registry) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// WaitReady blocks until the registry is ready or ctx is done.
func (r *Registry) WaitReady(ctx context.Context) error {
	if r.IsReady() {
		return nil
	}
	select {
	case <-r.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotReady, ctx.Err())
	}
}

// Count returns the number of registered materials, or ErrNotReady.
func (r *Registry) Count() (uint32, error) {
	if !r.IsReady() {
		return 0, ErrNotReady
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return uint32(len(r.entries)), nil
}

// Lookup returns the material for an index. A missing entry means voxels with
// that index are not rendered.
func (r *Registry) Lookup(index uint32) (Material, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.entries[index]
	return m, ok
}

// All returns every registered material ordered by id.
func (r *Registry) All() []Material {
	r.mu.RLock()
	out := make([]Material, 0, len(r.entries))
	for _, m := range r.entries {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
