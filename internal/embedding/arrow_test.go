package embedding

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextRecordRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	rec := TextsToRecord(mem, []string{"你好", "", "<unk>"})
	got, err := RecordToTexts(rec)
	rec.Release()

	require.NoError(t, err)
	assert.Equal(t, []string{"你好", "", "<unk>"}, got)
}

func TestVectorRecordRoundTrip(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	in := []Vector{{1, 2, 3}, {4, 5, 6}}
	rec, err := VectorsToRecord(mem, in, 3, map[string]string{"source": "src-train.txt"})
	require.NoError(t, err)

	md := rec.Schema().Metadata()
	dimIdx := md.FindKey(MetaDim)
	require.GreaterOrEqual(t, dimIdx, 0)
	assert.Equal(t, "3", md.Values()[dimIdx])

	got, err := RecordToVectors(rec)
	rec.Release()
	require.NoError(t, err)
	assert.Equal(t, in, got)
}

func TestVectorsToRecordRejectsRaggedRows(t *testing.T) {
	_, err := VectorsToRecord(memory.DefaultAllocator, []Vector{{1, 2}, {3}}, 2, nil)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRecordToVectorsRejectsTextRecord(t *testing.T) {
	rec := TextsToRecord(memory.DefaultAllocator, []string{"a"})
	defer rec.Release()
	_, err := RecordToVectors(rec)
	assert.Error(t, err)
}
