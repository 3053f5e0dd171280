package materials

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File is the on-disk layout of a materials table.
type File struct {
	Materials []Material `yaml:"materials" validate:"required,min=1,dive"`
}

// Parse decodes and validates a YAML materials table.
func Parse(raw []byte) ([]Material, error) {
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("materials.yaml: %w", err)
	}
	if err := validator.New().Struct(f); err != nil {
		return nil, fmt.Errorf("materials.yaml: %w", err)
	}
	return f.Materials, nil
}

// LoadFile reads and parses a materials table from disk.
func LoadFile(path string) ([]Material, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read materials file: %w", err)
	}
	return Parse(raw)
}

// LoadInto loads path into the registry, optionally after a delay. The delay
// lets callers start the engine before materials are available; tasks
// submitted in the meantime wait on the registry.
func LoadInto(ctx context.Context, r *Registry, path string, delay time.Duration) error {
	if delay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	defs, err := LoadFile(path)
	if err != nil {
		return err
	}
	if err := r.Populate(defs); err != nil {
		return fmt.Errorf("failed to populate registry: %w", err)
	}
	log.Printf("[Materials] Loaded %d materials from %s", len(defs), path)
	return nil
}
