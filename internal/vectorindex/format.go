package vectorindex

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"unsafe"
)

const (
	magic         = "SPVX"
	formatVersion = 2
	headerSize    = 24

	metricEuclidean uint32 = 1
)

// header is the fixed little-endian file prefix. It is followed by Count int64
// ids and then Count*Dim float32 values, both little-endian.
type header struct {
	Magic   [4]byte
	Version uint32
	Metric  uint32
	Dim     uint32
	Count   uint32
	Trees   uint32
}

func (h header) idsOffset() int     { return headerSize }
func (h header) vectorsOffset() int { return headerSize + int(h.Count)*8 }
func (h header) size() int          { return h.vectorsOffset() + int(h.Count)*int(h.Dim)*4 }

func decodeHeader(data []byte) (header, error) {
	var h header
	if len(data) < headerSize {
		return h, fmt.Errorf("%w: %d bytes is shorter than the header", ErrCorrupt, len(data))
	}
	copy(h.Magic[:], data[0:4])
	le := binary.LittleEndian
	h.Version = le.Uint32(data[4:])
	h.Metric = le.Uint32(data[8:])
	h.Dim = le.Uint32(data[12:])
	h.Count = le.Uint32(data[16:])
	h.Trees = le.Uint32(data[20:])

	switch {
	case string(h.Magic[:]) != magic:
		return h, fmt.Errorf("%w: bad magic %q", ErrCorrupt, h.Magic[:])
	case h.Version != formatVersion:
		return h, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, h.Version)
	case h.Metric != metricEuclidean:
		return h, fmt.Errorf("%w: unknown metric %d", ErrCorrupt, h.Metric)
	case h.Dim == 0 || h.Count == 0 || h.Trees == 0:
		return h, fmt.Errorf("%w: empty index", ErrCorrupt)
	case h.size() != len(data):
		return h, fmt.Errorf("%w: size %d, want %d", ErrCorrupt, len(data), h.size())
	}
	return h, nil
}

func writeFile(path string, items []Item, dim int) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("vectorindex: mkdir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("vectorindex: create: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("vectorindex: close: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	w := bufio.NewWriterSize(f, 1<<20)
	le := binary.LittleEndian
	var hdr [headerSize]byte
	copy(hdr[0:4], magic)
	le.PutUint32(hdr[4:], formatVersion)
	le.PutUint32(hdr[8:], metricEuclidean)
	le.PutUint32(hdr[12:], uint32(dim))
	le.PutUint32(hdr[16:], uint32(len(items)))
	le.PutUint32(hdr[20:], NumTrees)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("vectorindex: write header: %w", err)
	}

	var buf [8]byte
	for _, it := range items {
		le.PutUint64(buf[:], uint64(int64(it.ID)))
		if _, err := w.Write(buf[:]); err != nil {
			return fmt.Errorf("vectorindex: write ids: %w", err)
		}
	}
	for _, it := range items {
		for _, x := range it.Vector {
			le.PutUint32(buf[:4], math.Float32bits(x))
			if _, err := w.Write(buf[:4]); err != nil {
				return fmt.Errorf("vectorindex: write vectors: %w", err)
			}
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("vectorindex: flush: %w", err)
	}
	return nil
}

var hostLittleEndian = func() bool {
	x := uint16(1)
	return *(*byte)(unsafe.Pointer(&x)) == 1
}()

// floats views raw as float32s. The view aliases raw when the host byte
// order and alignment allow it, and is a decoded copy otherwise.
func floats(raw []byte) []float32 {
	n := len(raw) / 4
	if n == 0 {
		return nil
	}
	if hostLittleEndian && uintptr(unsafe.Pointer(&raw[0]))%4 == 0 {
		return unsafe.Slice((*float32)(unsafe.Pointer(&raw[0])), n)
	}
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return out
}
