// Package embedstore persists sentence-embedding matrices as Arrow IPC
// files, one FixedSizeList<float32> row per sentence.
package embedstore

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/23skdu/bert-ruber/internal/embedding"
)

// Ext is the file extension of persisted embedding matrices.
const Ext = ".arrow"

// MetaSource names the text file a matrix was extracted from.
const MetaSource = "source"

var ErrClosed = errors.New("embedstore: writer closed")

// Matrix is a loaded embedding file.
type Matrix struct {
	Vectors []embedding.Vector
	Dim     int
	Meta    map[string]string
}

// Rows returns the matrix as float64 rows for the numeric code.
func (m *Matrix) Rows() [][]float64 {
	out := make([][]float64, len(m.Vectors))
	for i, v := range m.Vectors {
		out[i] = v.ToFloat64()
	}
	return out
}

// Writer streams vector batches into one IPC file. Each Write becomes one
// record batch.
type Writer struct {
	f    *os.File
	w    *ipc.FileWriter
	mem  memory.Allocator
	dim  int
	meta map[string]string
	rows int
}

// Create opens path for writing, truncating any existing file.
func Create(path string, dim int, meta map[string]string) (*Writer, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("invalid dim %d", dim)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	mem := memory.DefaultAllocator
	w, err := ipc.NewFileWriter(f, ipc.WithSchema(embedding.VectorSchema(dim, meta)), ipc.WithAllocator(mem))
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open ipc writer %s: %w", path, err)
	}
	return &Writer{f: f, w: w, mem: mem, dim: dim, meta: meta}, nil
}

func (w *Writer) Write(vecs []embedding.Vector) error {
	if w.w == nil {
		return ErrClosed
	}
	if len(vecs) == 0 {
		return nil
	}
	rec, err := embedding.VectorsToRecord(w.mem, vecs, w.dim, w.meta)
	if err != nil {
		return err
	}
	defer rec.Release()
	if err := w.w.Write(rec); err != nil {
		return err
	}
	w.rows += len(vecs)
	return nil
}

// Rows reports how many vectors have been written.
func (w *Writer) Rows() int { return w.rows }

// Close writes the IPC footer and closes the file.
func (w *Writer) Close() error {
	if w.w == nil {
		return nil
	}
	err := w.w.Close()
	w.w = nil
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Save writes vecs to path in one batch.
func Save(path string, vecs []embedding.Vector, dim int, meta map[string]string) error {
	w, err := Create(path, dim, meta)
	if err != nil {
		return err
	}
	if err := w.Write(vecs); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Load reads every record batch of an IPC file written by Save or Writer.
func Load(path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := ipc.NewFileReader(f, ipc.WithAllocator(memory.DefaultAllocator))
	if err != nil {
		return nil, fmt.Errorf("open ipc file %s: %w", path, err)
	}
	defer r.Close()

	m := &Matrix{Meta: make(map[string]string)}
	md := r.Schema().Metadata()
	for i, k := range md.Keys() {
		m.Meta[k] = md.Values()[i]
	}
	dim, err := strconv.Atoi(m.Meta[embedding.MetaDim])
	if err != nil {
		return nil, fmt.Errorf("%s: missing or bad %q metadata: %w", path, embedding.MetaDim, err)
	}
	m.Dim = dim
	delete(m.Meta, embedding.MetaDim)

	for i := 0; i < r.NumRecords(); i++ {
		rec, err := r.Record(i)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		vecs, err := embedding.RecordToVectors(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: record %d: %w", path, i, err)
		}
		m.Vectors = append(m.Vectors, vecs...)
	}
	return m, nil
}
