// Package vecstore holds embedding vectors in memory and answers nearest
// neighbour queries over them.
//
// Two indexes are provided. [Flat] scans every vector and is exact; it is
// the default for agent knowledge, which stays small. [HNSW] builds a
// navigable small-world graph for larger stores. Both support the L2 and
// cosine metrics and can be persisted with [WriteSnapshot].
package vecstore

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
)

// ErrDimension is returned when a vector's length differs from the index
// dimension.
var ErrDimension = errors.New("vecstore: dimension mismatch")

// Index is a mutable nearest-neighbour index keyed by string IDs.
// Implementations are safe for concurrent use.
type Index interface {
	// Insert adds a vector or replaces the vector stored under id.
	Insert(id string, vector []float32) error

	// Delete removes id. Deleting an unknown id is not an error.
	Delete(id string) error

	// Search returns up to k matches ordered by ascending distance.
	Search(query []float32, k int) ([]Match, error)

	// Len reports the number of stored vectors.
	Len() int

	// All yields a copy of every stored vector.
	All() iter.Seq2[string, []float32]

	// Metric reports the distance function used by the index.
	Metric() Metric
}

// Match is one search hit.
type Match struct {
	ID       string
	Distance float32
}

// Metric selects the distance function.
type Metric int

const (
	// L2 is Euclidean distance.
	L2 Metric = iota
	// Cosine is 1 - cosine similarity, in [0, 2].
	Cosine
)

func (m Metric) String() string {
	switch m {
	case L2:
		return "l2"
	case Cosine:
		return "cosine"
	}
	return fmt.Sprintf("metric(%d)", int(m))
}

// ParseMetric parses "l2" or "cosine". An empty string selects L2.
func ParseMetric(s string) (Metric, error) {
	switch strings.ToLower(s) {
	case "", "l2", "euclidean":
		return L2, nil
	case "cosine":
		return Cosine, nil
	}
	return 0, fmt.Errorf("vecstore: unknown metric %q", s)
}

// Distance measures a and b, which must have equal length.
func (m Metric) Distance(a, b []float32) float32 {
	if m == Cosine {
		return cosineDistance(a, b)
	}
	return l2Distance(a, b)
}

func l2Distance(a, b []float32) float32 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return float32(math.Sqrt(sum))
}

// cosineDistance treats a zero vector as maximally distant.
func cosineDistance(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(1 - max(-1, min(1, sim)))
}

// dims tracks the dimension of an index. Zero means "set by the first
// insert".
type dims int

func (d *dims) check(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrDimension)
	}
	if *d == 0 {
		*d = dims(len(v))
		return nil
	}
	if len(v) != int(*d) {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(v), int(*d))
	}
	return nil
}
