package domain

import (
	"math"
	"testing"
)

func TestCosine_SelfSimilarity(t *testing.T) {
	v := []float32{0.3, -1.2, 4.5, 0.01}
	if got := Cosine(v, v); math.Abs(got-1) > 1e-9 {
		t.Errorf("Cosine(v, v) = %v, want 1", got)
	}
}

func TestCosine_Orthogonal(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}
	if got := Cosine(a, b); got != 0 {
		t.Errorf("Cosine(a, b) = %v, want 0", got)
	}
}

func TestCosine_Opposite(t *testing.T) {
	a := []float32{2, 1}
	b := []float32{-2, -1}
	if got := Cosine(a, b); math.Abs(got+1) > 1e-9 {
		t.Errorf("Cosine(a, -a) = %v, want -1", got)
	}
}

func TestCosine_Degenerate(t *testing.T) {
	v := []float32{1, 2, 3}
	if got := Cosine(v, []float32{1, 2}); got != 0 {
		t.Errorf("length mismatch: got %v, want 0", got)
	}
	if got := Cosine(v, []float32{0, 0, 0}); got != 0 {
		t.Errorf("zero norm: got %v, want 0", got)
	}
	if got := Cosine(nil, nil); got != 0 {
		t.Errorf("empty vectors: got %v, want 0", got)
	}
}

func TestNormalize_UnitLength(t *testing.T) {
	v := []float32{3, 4}
	got := Normalize(v)
	if got == nil {
		t.Fatal("Normalize returned nil for non-zero vector")
	}
	if math.Abs(Norm(got)-1) > 1e-6 {
		t.Errorf("norm after Normalize = %v, want 1", Norm(got))
	}
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("Normalize([3 4]) = %v, want [0.6 0.8]", got)
	}
	if v[0] != 3 || v[1] != 4 {
		t.Errorf("input mutated: %v", v)
	}
}

func TestNormalize_ZeroVector(t *testing.T) {
	if got := Normalize([]float32{0, 0, 0}); got != nil {
		t.Errorf("Normalize(zero) = %v, want nil", got)
	}
}

func TestMeanVector(t *testing.T) {
	got := MeanVector([][]float32{
		{1, 0, 0},
		{0, 1, 0},
	})
	want := []float32{0.5, 0.5, 0}
	if len(got) != len(want) {
		t.Fatalf("MeanVector = %v, want %v", got, want)
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("MeanVector[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMeanVector_SkipsMismatchedAndEmpty(t *testing.T) {
	got := MeanVector([][]float32{
		{2, 2},
		nil,
		{1, 2, 3}, // length differs from the first usable vector
		{4, 4},
	})
	if len(got) != 2 || got[0] != 3 || got[1] != 3 {
		t.Errorf("MeanVector = %v, want [3 3]", got)
	}
}

func TestMeanVector_NoUsableVectors(t *testing.T) {
	if got := MeanVector(nil); got != nil {
		t.Errorf("MeanVector(nil) = %v, want nil", got)
	}
	if got := MeanVector([][]float32{nil, {}}); got != nil {
		t.Errorf("MeanVector(empty) = %v, want nil", got)
	}
}
