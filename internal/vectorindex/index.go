package vectorindex

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// Build writes items to path under the Euclidean metric. All vectors must
// share one length; nothing is written when they do not.
func Build(items []Item, path string) error {
	if len(items) == 0 {
		return ErrEmpty
	}
	dim := len(items[0].Vector)
	if dim == 0 {
		return ErrEmptyVector
	}
	for _, it := range items {
		if len(it.Vector) != dim {
			return &DimensionMismatchError{ID: it.ID, Want: dim, Got: len(it.Vector)}
		}
	}
	return writeFile(path, items, dim)
}

// Index is a read-only view over a built index file.
type Index struct {
	mu     sync.RWMutex
	data   []byte
	unmap  func([]byte) error
	h      header
	vecs   [][]float32
	graph  *hnsw.Graph[int]
	closed bool
}

// Open maps the index file at path into memory and links its vectors into
// an HNSW graph keyed by file position.
func Open(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: open: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("vectorindex: stat: %w", err)
	}
	if st.Size() < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, st.Size())
	}
	data, unmap, err := mapFile(f, int(st.Size()))
	if err != nil {
		return nil, fmt.Errorf("vectorindex: mmap: %w", err)
	}
	h, err := decodeHeader(data)
	if err != nil {
		_ = unmap(data)
		return nil, err
	}

	ix := &Index{data: data, unmap: unmap, h: h, vecs: make([][]float32, h.Count)}
	nodes := make([]hnsw.Node[int], h.Count)
	for pos := range ix.vecs {
		v := floats(ix.vectorRaw(pos))
		ix.vecs[pos] = v
		nodes[pos] = hnsw.MakeNode(pos, v)
	}
	g := hnsw.NewGraph[int]()
	g.M = graphM
	g.Distance = euclidean
	g.EfSearch = int(h.Trees)
	g.Add(nodes...)
	ix.graph = g
	return ix, nil
}

func (ix *Index) Len() int   { return int(ix.h.Count) }
func (ix *Index) Dim() int   { return int(ix.h.Dim) }
func (ix *Index) Trees() int { return int(ix.h.Trees) }

func (ix *Index) Close() error {
	if ix == nil {
		return nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.closed {
		return nil
	}
	ix.closed = true
	ix.graph = nil
	ix.vecs = nil
	data := ix.data
	ix.data = nil
	return ix.unmap(data)
}

// Vector returns a copy of the vector stored at position pos.
func (ix *Index) Vector(pos int) []float32 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]float32(nil), ix.vecs[pos]...)
}

func (ix *Index) vectorRaw(pos int) []byte {
	dim := int(ix.h.Dim)
	off := ix.h.vectorsOffset() + pos*dim*4
	return ix.data[off : off+dim*4]
}

func (ix *Index) id(pos int) int {
	return int(int64(binary.LittleEndian.Uint64(ix.data[ix.h.idsOffset()+pos*8:])))
}

// Query returns the ids of the k items nearest to v, closest first.
func (ix *Index) Query(v []float32, k int) ([]int, error) {
	ns, err := ix.Neighbors(v, k)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(ns))
	for i, n := range ns {
		out[i] = n.ID
	}
	return out, nil
}

// Neighbors is Query with Euclidean distances. The graph proposes Trees
// candidates which are ranked exactly; a k beyond that, or beyond the item
// count, scans every item.
func (ix *Index) Neighbors(v []float32, k int) ([]Neighbor, error) {
	if ix == nil {
		return nil, ErrClosed
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.closed {
		return nil, ErrClosed
	}
	if len(v) != ix.Dim() {
		return nil, &DimensionMismatchError{ID: -1, Want: ix.Dim(), Got: len(v)}
	}
	if k <= 0 {
		return []Neighbor{}, nil
	}

	var positions []int
	if k < ix.Len() && k <= ix.Trees() {
		for _, n := range ix.graph.Search(v, min(ix.Trees(), ix.Len())) {
			positions = append(positions, n.Key)
		}
	}
	if len(positions) < k {
		positions = make([]int, ix.Len())
		for i := range positions {
			positions[i] = i
		}
	}

	out := make([]Neighbor, len(positions))
	for i, pos := range positions {
		out[i] = Neighbor{ID: pos, Distance: euclidean(v, ix.vecs[pos])}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	for i := range out {
		out[i].ID = ix.id(out[i].ID)
	}
	return out, nil
}
