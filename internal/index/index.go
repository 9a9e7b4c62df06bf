// Package index stores cover embeddings keyed by ISBN and answers
// nearest-neighbour queries by Euclidean distance.
package index

import (
	"cmp"
	"context"
	"fmt"
	"math"

	"coverscan/internal/apperr"
)

// Neighbor is one query hit. Distance is Euclidean; lower is closer.
type Neighbor struct {
	ISBN     string  `json:"isbn"`
	Distance float64 `json:"distance"`
	seq      uint64
}

// Index is the contract shared by the exact and approximate backends.
type Index interface {
	Insert(ctx context.Context, isbn string, vec []float32) error
	Query(ctx context.Context, vec []float32, k int) ([]Neighbor, error)
	Remove(ctx context.Context, isbn string) error
	Contains(ctx context.Context, isbn string) (bool, error)
	Len(ctx context.Context) (int, error)
	// Keys lists every indexed isbn in ascending order.
	Keys(ctx context.Context) ([]string, error)
	Dimension() int
}

func checkVector(dim int, vec []float32) error {
	if len(vec) != dim {
		return fmt.Errorf("vector has %d dimensions, index expects %d: %w", len(vec), dim, apperr.ErrInvalidArgument)
	}
	for _, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("vector contains NaN or Inf: %w", apperr.ErrInvalidArgument)
		}
	}
	return nil
}

func checkK(k int) error {
	if k <= 0 {
		return fmt.Errorf("k must be >= 1, got %d: %w", k, apperr.ErrInvalidArgument)
	}
	return nil
}

// Euclidean returns the L2 distance between equal-length vectors.
func Euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// compareNeighbors orders by distance, then insertion sequence, then isbn.
func compareNeighbors(a, b Neighbor) int {
	if c := cmp.Compare(a.Distance, b.Distance); c != 0 {
		return c
	}
	if c := cmp.Compare(a.seq, b.seq); c != 0 {
		return c
	}
	return cmp.Compare(a.ISBN, b.ISBN)
}
