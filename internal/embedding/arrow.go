package embedding

import (
	"fmt"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
)

const (
	TextColumn   = "text"
	VectorColumn = "vector"

	// MetaDim is the schema metadata key carrying the embedding width.
	MetaDim = "dim"
)

// TextSchema is the request schema of the Flight exchange.
var TextSchema = arrow.NewSchema([]arrow.Field{
	{Name: TextColumn, Type: arrow.BinaryTypes.String},
}, nil)

// VectorSchema describes a [N, dim] matrix as one FixedSizeList<float32> column.
func VectorSchema(dim int, meta map[string]string) *arrow.Schema {
	keys := []string{MetaDim}
	vals := []string{strconv.Itoa(dim)}
	for k, v := range meta {
		if k == MetaDim {
			continue
		}
		keys = append(keys, k)
		vals = append(vals, v)
	}
	md := arrow.NewMetadata(keys, vals)
	return arrow.NewSchema([]arrow.Field{
		{Name: VectorColumn, Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, &md)
}

// TextsToRecord builds a request record. The caller releases it.
func TextsToRecord(mem memory.Allocator, texts []string) arrow.Record {
	b := array.NewRecordBuilder(mem, TextSchema)
	defer b.Release()
	b.Field(0).(*array.StringBuilder).AppendValues(texts, nil)
	return b.NewRecord()
}

// RecordToTexts reads the text column of a request record.
func RecordToTexts(rec arrow.Record) ([]string, error) {
	if rec.NumCols() < 1 {
		return nil, fmt.Errorf("record has no columns")
	}
	col, ok := rec.Column(0).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q: unexpected type %s", rec.ColumnName(0), rec.Column(0).DataType())
	}
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.Value(i)
	}
	return out, nil
}

// VectorsToRecord packs vectors into a record of VectorSchema. The caller
// releases it.
func VectorsToRecord(mem memory.Allocator, vecs []Vector, dim int, meta map[string]string) (arrow.Record, error) {
	if err := checkVectors(vecs, len(vecs), dim); err != nil {
		return nil, err
	}
	b := array.NewRecordBuilder(mem, VectorSchema(dim, meta))
	defer b.Release()

	lb := b.Field(0).(*array.FixedSizeListBuilder)
	vb := lb.ValueBuilder().(*array.Float32Builder)
	vb.Reserve(len(vecs) * dim)
	for _, v := range vecs {
		lb.Append(true)
		vb.AppendValues(v, nil)
	}
	return b.NewRecord(), nil
}

// RecordToVectors unpacks a VectorSchema record. Rows are copied out of the
// Arrow buffers, so the record may be released afterwards.
func RecordToVectors(rec arrow.Record) ([]Vector, error) {
	if rec.NumCols() < 1 {
		return nil, fmt.Errorf("record has no columns")
	}
	col, ok := rec.Column(0).(*array.FixedSizeList)
	if !ok {
		return nil, fmt.Errorf("column %q: unexpected type %s", rec.ColumnName(0), rec.Column(0).DataType())
	}
	dim := int(col.DataType().(*arrow.FixedSizeListType).Len())
	values, ok := col.ListValues().(*array.Float32)
	if !ok {
		return nil, fmt.Errorf("column %q: values are %s, want float32", rec.ColumnName(0), col.ListValues().DataType())
	}
	raw := values.Float32Values()

	out := make([]Vector, col.Len())
	for i := range out {
		if col.IsNull(i) {
			return nil, fmt.Errorf("row %d is null", i)
		}
		start := (col.Offset() + i) * dim
		v := make(Vector, dim)
		copy(v, raw[start:start+dim])
		out[i] = v
	}
	return out, nil
}
