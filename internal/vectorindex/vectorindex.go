// Package vectorindex persists float32 vectors to a single file and answers
// nearest-neighbor queries over it with an HNSW graph (github.com/coder/hnsw).
// Open maps the file read-only and hands the graph views into the mapping, so
// vectors are never copied onto the heap on little-endian hosts.
package vectorindex

import (
	"errors"
	"fmt"

	"github.com/viant/vec/search"
)

const (
	// NumTrees is recorded in every index file and sets the candidate breadth
	// of a query: the graph is searched for NumTrees candidates which are then
	// ranked exactly.
	NumTrees = 100
	// Metric is the only distance the index supports.
	Metric = "euclidean"

	// graphM is the neighbor count per HNSW node.
	graphM = 16
)

var (
	ErrEmpty       = errors.New("vectorindex: no items to index")
	ErrEmptyVector = errors.New("vectorindex: zero-length vector")
	ErrCorrupt     = errors.New("vectorindex: corrupt index file")
	ErrClosed      = errors.New("vectorindex: query on closed index")
)

// DimensionMismatchError reports a vector whose length differs from the
// index dimension.
type DimensionMismatchError struct {
	ID   int
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vectorindex: item %d has dimension %d, want %d", e.ID, e.Got, e.Want)
}

type Item struct {
	ID     int
	Vector []float32
}

type Neighbor struct {
	ID       int
	Distance float32
}

func euclidean(a, b []float32) float32 {
	return search.Float32s(a).EuclideanDistance(b)
}
