package model

import (
	"crypto/sha256"
	"math"

	"github.com/caliber-dev/caliber/internal/errs"
)

// ContentHash returns the SHA-256 digest of b, the canonical byte form of
// an artifact or note's content (UTF-8 bytes for text, raw bytes for
// binary — the caller decides the encoding, this just hashes).
func ContentHash(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// CosineSimilarity returns the cosine similarity of a and b, failing with
// errs.DimensionMismatch when the vectors have different lengths. This is
// the single implementation of the similarity metric used by both the
// context assembler (C8) and the vector abstraction layer (C9).
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &errs.DimensionMismatch{Expected: len(a), Got: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		fa, fb := float64(a[i]), float64(b[i])
		dot += fa * fb
		normA += fa * fa
		normB += fb * fb
	}

	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
