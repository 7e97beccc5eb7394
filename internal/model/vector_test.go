package model

import (
	"testing"

	"github.com/caliber-dev/caliber/internal/errs"
)

func TestCosineSimilarityIdentical(t *testing.T) {
	v := []float32{1, 0, 0}
	got, err := CosineSimilarity(v, v)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if got < 0.999 || got > 1.001 {
		t.Fatalf("expected ~1.0, got %v", got)
	}
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	got, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if got != 0 {
		t.Fatalf("expected 0, got %v", got)
	}
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	dm, ok := errs.As[*errs.DimensionMismatch](err)
	if !ok {
		t.Fatalf("expected DimensionMismatch, got %v", err)
	}
	if dm.Expected != 2 || dm.Got != 3 {
		t.Fatalf("unexpected dimensions: %+v", dm)
	}
}

func TestContentHashDeterministic(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	if a != b {
		t.Fatal("expected identical hashes for identical content")
	}
	c := ContentHash([]byte("hello!"))
	if a == c {
		t.Fatal("expected different hashes for different content")
	}
}
