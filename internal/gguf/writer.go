package gguf

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
)

type kvPair struct {
	key string
	typ GGUFMetadataValueType
	val interface{}
}

type pendingTensor struct {
	name string
	dims []uint64
	data []float32
}

// Writer assembles a GGUF v3 file of F32 tensors. Keys are written in
// sorted order so identical content gives identical bytes.
type Writer struct {
	kv        map[string]kvPair
	tensors   []pendingTensor
	names     map[string]bool
	alignment uint32
}

func NewWriter() *Writer {
	return &Writer{
		kv:        make(map[string]kvPair),
		names:     make(map[string]bool),
		alignment: DefaultAlignment,
	}
}

// SetAlignment overrides the tensor data alignment (a power of two).
func (w *Writer) SetAlignment(a uint32) {
	w.alignment = a
}

func (w *Writer) SetString(key, v string) {
	w.kv[key] = kvPair{key, GGUFMetadataValueTypeString, v}
}

func (w *Writer) SetUint32(key string, v uint32) {
	w.kv[key] = kvPair{key, GGUFMetadataValueTypeUint32, v}
}

func (w *Writer) SetUint64(key string, v uint64) {
	w.kv[key] = kvPair{key, GGUFMetadataValueTypeUint64, v}
}

func (w *Writer) SetFloat64(key string, v float64) {
	w.kv[key] = kvPair{key, GGUFMetadataValueTypeFloat64, v}
}

func (w *Writer) SetBool(key string, v bool) {
	w.kv[key] = kvPair{key, GGUFMetadataValueTypeBool, v}
}

// AddTensor appends an F32 tensor. dims follow the GGUF convention of the
// fastest-varying dimension first.
func (w *Writer) AddTensor(name string, dims []uint64, data []float32) error {
	if w.names[name] {
		return fmt.Errorf("duplicate tensor %s", name)
	}
	n := uint64(1)
	for _, d := range dims {
		n *= d
	}
	if n != uint64(len(data)) {
		return fmt.Errorf("tensor %s: dims %v hold %d elements, got %d", name, dims, n, len(data))
	}
	w.names[name] = true
	w.tensors = append(w.tensors, pendingTensor{name: name, dims: dims, data: data})
	return nil
}

// WriteTo serializes the file.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	w.SetUint32(KeyAlignment, w.alignment)
	alignment := uint64(w.alignment)

	cw := &countingWriter{w: bufio.NewWriter(out)}
	le := binary.LittleEndian

	cw.put(le.AppendUint32(nil, GGUFMagic))
	cw.put(le.AppendUint32(nil, GGUFVersion))
	cw.put(le.AppendUint64(nil, uint64(len(w.tensors))))
	cw.put(le.AppendUint64(nil, uint64(len(w.kv))))

	keys := make([]string, 0, len(w.kv))
	for k := range w.kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		p := w.kv[k]
		cw.put(appendString(nil, p.key))
		cw.put(le.AppendUint32(nil, uint32(p.typ)))
		cw.put(appendValue(nil, p.typ, p.val))
	}

	var rel uint64
	for _, t := range w.tensors {
		cw.put(appendString(nil, t.name))
		cw.put(le.AppendUint32(nil, uint32(len(t.dims))))
		for _, d := range t.dims {
			cw.put(le.AppendUint64(nil, d))
		}
		cw.put(le.AppendUint32(nil, uint32(GGMLTypeF32)))
		cw.put(le.AppendUint64(nil, rel))
		rel = alignUp(rel+uint64(len(t.data))*4, alignment)
	}

	for _, t := range w.tensors {
		cw.pad(alignment)
		buf := make([]byte, 0, len(t.data)*4)
		for _, v := range t.data {
			buf = le.AppendUint32(buf, math.Float32bits(v))
		}
		cw.put(buf)
	}

	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, cw.w.Flush()
}

// WriteFile writes the file to path atomically via a temporary sibling.
func (w *Writer) WriteFile(path string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

type countingWriter struct {
	w   *bufio.Writer
	n   int64
	err error
}

func (c *countingWriter) put(b []byte) {
	if c.err != nil {
		return
	}
	n, err := c.w.Write(b)
	c.n += int64(n)
	c.err = err
}

func (c *countingWriter) pad(alignment uint64) {
	if rem := uint64(c.n) % alignment; rem != 0 {
		c.put(make([]byte, alignment-rem))
	}
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint64(b, uint64(len(s)))
	return append(b, s...)
}

func appendValue(b []byte, typ GGUFMetadataValueType, v interface{}) []byte {
	le := binary.LittleEndian
	switch typ {
	case GGUFMetadataValueTypeString:
		return appendString(b, v.(string))
	case GGUFMetadataValueTypeUint32:
		return le.AppendUint32(b, v.(uint32))
	case GGUFMetadataValueTypeUint64:
		return le.AppendUint64(b, v.(uint64))
	case GGUFMetadataValueTypeFloat64:
		return le.AppendUint64(b, math.Float64bits(v.(float64)))
	case GGUFMetadataValueTypeBool:
		if v.(bool) {
			return append(b, 1)
		}
		return append(b, 0)
	}
	panic(fmt.Sprintf("gguf: unsupported writer type %d", typ))
}
