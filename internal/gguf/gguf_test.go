package gguf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"path/filepath"
	"testing"
)

func TestGGUFMagic(t *testing.T) {
	if GGUFMagic != 0x46554747 {
		t.Errorf("expected GGUFMagic 0x46554747, got 0x%x", GGUFMagic)
	}
}

func TestGGMLTypeString(t *testing.T) {
	tests := []struct {
		ggmlType GGMLType
		expected string
	}{
		{GGMLTypeF32, "F32"},
		{GGMLTypeF16, "F16"},
		{GGMLType(999), "UNKNOWN_TYPE_999"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.ggmlType.String(); got != tt.expected {
				t.Errorf("String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestTensorInfoSizeBytes(t *testing.T) {
	tests := []struct {
		name string
		info TensorInfo
		want uint64
	}{
		{"f32 matrix", TensorInfo{Dimensions: []uint64{768, 768}, Type: GGMLTypeF32}, 768 * 768 * 4},
		{"f16 vector", TensorInfo{Dimensions: []uint64{256}, Type: GGMLTypeF16}, 512},
		{"scalar", TensorInfo{Dimensions: []uint64{1}, Type: GGMLTypeF32}, 4},
		{"unknown", TensorInfo{Dimensions: []uint64{4}, Type: GGMLType(42)}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.SizeBytes(); got != tt.want {
				t.Errorf("SizeBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}

func buildFile(t *testing.T) *Writer {
	t.Helper()
	w := NewWriter()
	w.SetString("general.architecture", "ruber")
	w.SetString("general.name", "unreferenced")
	w.SetFloat64("ruber.accuracy", 0.8125)
	w.SetUint64("ruber.epoch", 7)
	w.SetBool("ruber.trained", true)
	if err := w.AddTensor("w1", []uint64{3, 2}, []float32{1, 2, 3, 4, 5, 6}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddTensor("b2", []uint64{1}, []float32{-0.5}); err != nil {
		t.Fatal(err)
	}
	return w
}

func TestWriteParseRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	n, err := buildFile(t).WriteTo(&buf)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if n != int64(buf.Len()) {
		t.Errorf("WriteTo reported %d bytes, buffer has %d", n, buf.Len())
	}

	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if f.Header.Version != GGUFVersion || f.Header.TensorCount != 2 {
		t.Errorf("unexpected header %+v", f.Header)
	}
	if f.DataOffset%DefaultAlignment != 0 {
		t.Errorf("data offset %d not aligned", f.DataOffset)
	}
	if got, _ := f.GetString("general.architecture"); got != "ruber" {
		t.Errorf("architecture = %q", got)
	}
	if got, ok := f.GetFloat64("ruber.accuracy"); !ok || got != 0.8125 {
		t.Errorf("accuracy = %v, %v", got, ok)
	}
	if got, ok := f.GetUint64("ruber.epoch"); !ok || got != 7 {
		t.Errorf("epoch = %v, %v", got, ok)
	}
	if got, ok := f.KV["ruber.trained"].(bool); !ok || !got {
		t.Errorf("trained = %v", f.KV["ruber.trained"])
	}
	if _, ok := f.GetUint64("missing"); ok {
		t.Error("missing key reported present")
	}

	w1, err := f.Tensor("w1")
	if err != nil {
		t.Fatal(err)
	}
	vals, err := w1.Float64s()
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 2, 3, 4, 5, 6}
	for i := range want {
		if vals[i] != want[i] {
			t.Fatalf("w1 = %v, want %v", vals, want)
		}
	}

	b2, err := f.Tensor("b2")
	if err != nil {
		t.Fatal(err)
	}
	if (f.DataOffset+b2.Offset)%DefaultAlignment != 0 {
		t.Errorf("tensor b2 at unaligned offset %d", f.DataOffset+b2.Offset)
	}
	if v, _ := b2.Float32s(); len(v) != 1 || v[0] != -0.5 {
		t.Errorf("b2 = %v", v)
	}

	var notFound ErrTensorNotFound
	if _, err := f.Tensor("nope"); !errors.As(err, &notFound) {
		t.Errorf("expected ErrTensorNotFound, got %v", err)
	}
}

func TestWriteIsDeterministic(t *testing.T) {
	var a, b bytes.Buffer
	if _, err := buildFile(t).WriteTo(&a); err != nil {
		t.Fatal(err)
	}
	if _, err := buildFile(t).WriteTo(&b); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Error("identical content produced different bytes")
	}
}

func TestWriteFileLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.gguf")
	if err := buildFile(t).WriteFile(path); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Tensors) != 2 {
		t.Errorf("got %d tensors", len(f.Tensors))
	}
}

func TestAddTensorValidation(t *testing.T) {
	w := NewWriter()
	if err := w.AddTensor("x", []uint64{2, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("expected element count error")
	}
	if err := w.AddTensor("x", []uint64{1}, []float32{1}); err != nil {
		t.Fatal(err)
	}
	if err := w.AddTensor("x", []uint64{1}, []float32{1}); err == nil {
		t.Error("expected duplicate tensor error")
	}
}

func TestParseErrors(t *testing.T) {
	header := func(magic, version uint32) []byte {
		b := binary.LittleEndian.AppendUint32(nil, magic)
		b = binary.LittleEndian.AppendUint32(b, version)
		b = binary.LittleEndian.AppendUint64(b, 0)
		return binary.LittleEndian.AppendUint64(b, 0)
	}

	if _, err := Parse([]byte("GGUF")); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("short file: got %v", err)
	}

	var magicErr ErrInvalidMagic
	if _, err := Parse(header(0xdeadbeef, 3)); !errors.As(err, &magicErr) {
		t.Errorf("bad magic: got %v", err)
	}

	var versionErr ErrUnsupportedVersion
	if _, err := Parse(header(GGUFMagic, 9)); !errors.As(err, &versionErr) || versionErr.Version != 9 {
		t.Errorf("bad version: got %v", err)
	}

	if _, err := Parse(header(GGUFMagic, 3)); err != nil {
		t.Errorf("empty file: %v", err)
	}

	var full bytes.Buffer
	if _, err := buildFile(t).WriteTo(&full); err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(full.Bytes()[:full.Len()-8]); err == nil {
		t.Error("truncated tensor data should fail")
	}
}

func TestMetadataAnalyzer(t *testing.T) {
	var buf bytes.Buffer
	w := buildFile(t)
	if err := w.AddTensor("bad", []uint64{3}, []float32{1, float32(math.NaN()), -2}); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	f, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}

	a := NewMetadataAnalyzer(f)
	report := a.Analyze()
	if report.TotalParameters != 10 || report.TensorCount != 3 || report.Architecture != "ruber" {
		t.Errorf("unexpected report %+v", report)
	}

	if missing := a.FindMissingTensors([]string{"w1", "m"}); len(missing) != 1 || missing[0] != "m" {
		t.Errorf("missing = %v", missing)
	}

	stats, err := a.ComputeStats("bad")
	if err != nil {
		t.Fatal(err)
	}
	if !stats.HasNaN || stats.HasInf || stats.MinValue != -2 || stats.MaxValue != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}

	stats, err = a.ComputeStats("w1")
	if err != nil {
		t.Fatal(err)
	}
	if stats.MeanValue != 3.5 || stats.HasNaN {
		t.Errorf("unexpected stats %+v", stats)
	}
}
