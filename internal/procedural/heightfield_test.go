package procedural

import (
	"context"
	"testing"
)

func TestFlatClampsLevel(t *testing.T) {
	tests := []struct {
		level float32
		want  float32
	}{
		{level: 0.5, want: 0.5},
		{level: -1, want: 0},
		{level: 3, want: 1},
	}

	for _, tt := range tests {
		g, err := Flat{Level: tt.level}.Generate(context.Background(), 0, 3, 2)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		for i, v := range g.Values {
			if v != tt.want {
				t.Fatalf("Flat{%f}: value %d = %f, want %f", tt.level, i, v, tt.want)
			}
		}
	}
}

func TestGridIndexing(t *testing.T) {
	g := NewGrid(3, 2)
	g.Set(2, 1, 0.75)
	if g.Values[2+1*3] != 0.75 {
		t.Fatalf("Set wrote to the wrong index: %v", g.Values)
	}
	if g.At(2, 1) != 0.75 {
		t.Fatalf("At(2, 1) = %f", g.At(2, 1))
	}
}

func TestGridValidate(t *testing.T) {
	var nilGrid *Grid
	if err := nilGrid.Validate(1, 1); err == nil {
		t.Error("expected error for nil grid")
	}
	if err := NewGrid(2, 2).Validate(2, 3); err == nil {
		t.Error("expected error for shape mismatch")
	}
	if err := (&Grid{Width: 2, Height: 2, Values: []float32{1}}).Validate(2, 2); err == nil {
		t.Error("expected error for short values")
	}
	if err := NewGrid(0, 0).Validate(0, 0); err != nil {
		t.Errorf("empty grid should validate: %v", err)
	}
}

func TestHeightFieldFunc(t *testing.T) {
	called := false
	hf := HeightFieldFunc(func(_ context.Context, seed uint64, w, h int) (*Grid, error) {
		called = true
		return NewGrid(w, h), nil
	})
	if _, err := hf.Generate(context.Background(), 1, 2, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("function not called")
	}
}
