package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
)

// LoadFile reads a GGUF file into memory and parses headers, metadata and
// tensor infos. Checkpoints are small, so the whole file is buffered.
func LoadFile(path string) (*GGUFFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	file, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return file, nil
}

// Parse decodes a GGUF image held in data. Tensor Data slices alias data.
func Parse(data []byte) (*GGUFFile, error) {
	file := &GGUFFile{
		Data: data,
		KV:   make(map[string]interface{}),
	}

	// Read Header
	if len(data) < 24 {
		return nil, io.ErrUnexpectedEOF
	}
	offset := uint64(0)

	file.Header.Magic = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if file.Header.Magic != GGUFMagic {
		return nil, ErrInvalidMagic{Magic: file.Header.Magic}
	}

	file.Header.Version = binary.LittleEndian.Uint32(data[offset:])
	offset += 4
	if file.Header.Version < 2 || file.Header.Version > 3 {
		return nil, ErrUnsupportedVersion{Version: file.Header.Version}
	}

	file.Header.TensorCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8
	file.Header.KVCount = binary.LittleEndian.Uint64(data[offset:])
	offset += 8

	for i := uint64(0); i < file.Header.KVCount; i++ {
		k, n, err := readString(data, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		if err := need(data, offset, 4); err != nil {
			return nil, err
		}
		valType := GGUFMetadataValueType(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		val, n, err := readValue(data, offset, valType)
		if err != nil {
			return nil, fmt.Errorf("key %s: %w", k, err)
		}
		offset += n

		file.KV[k] = val
	}

	for i := uint64(0); i < file.Header.TensorCount; i++ {
		name, n, err := readString(data, offset)
		if err != nil {
			return nil, err
		}
		offset += n

		if err := need(data, offset, 4); err != nil {
			return nil, err
		}
		dims := binary.LittleEndian.Uint32(data[offset:])
		offset += 4

		if err := need(data, offset, uint64(dims)*8+12); err != nil {
			return nil, err
		}
		dimArr := make([]uint64, dims)
		for j := uint32(0); j < dims; j++ {
			dimArr[j] = binary.LittleEndian.Uint64(data[offset:])
			offset += 8
		}

		typ := GGMLType(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4

		tensorOffset := binary.LittleEndian.Uint64(data[offset:])
		offset += 8

		file.Tensors = append(file.Tensors, &TensorInfo{
			Name:       name,
			Dimensions: dimArr,
			Type:       typ,
			Offset:     tensorOffset,
		})
	}

	// Tensor offsets are relative to the aligned end of the header block.
	alignment := uint64(DefaultAlignment)
	if a := getKVInt(file.KV, KeyAlignment); a > 0 {
		alignment = a
	}
	offset = alignUp(offset, alignment)
	file.DataOffset = offset

	for _, t := range file.Tensors {
		abs := offset + t.Offset
		if abs+t.SizeBytes() > uint64(len(data)) {
			return nil, fmt.Errorf("tensor %s: data out of bounds", t.Name)
		}
		t.Data = data[abs:]
	}

	return file, nil
}

func alignUp(offset, alignment uint64) uint64 {
	if rem := offset % alignment; rem != 0 {
		return offset + alignment - rem
	}
	return offset
}

func need(data []byte, offset, n uint64) error {
	if offset+n > uint64(len(data)) {
		return io.ErrUnexpectedEOF
	}
	return nil
}

func readString(data []byte, offset uint64) (string, uint64, error) {
	if err := need(data, offset, 8); err != nil {
		return "", 0, err
	}
	length := binary.LittleEndian.Uint64(data[offset:])
	if err := need(data, offset+8, length); err != nil {
		return "", 0, err
	}
	return string(data[offset+8 : offset+8+length]), 8 + length, nil
}

func scalarSize(typ GGUFMetadataValueType) uint64 {
	switch typ {
	case GGUFMetadataValueTypeUint8, GGUFMetadataValueTypeInt8, GGUFMetadataValueTypeBool:
		return 1
	case GGUFMetadataValueTypeUint16, GGUFMetadataValueTypeInt16:
		return 2
	case GGUFMetadataValueTypeUint32, GGUFMetadataValueTypeInt32, GGUFMetadataValueTypeFloat32:
		return 4
	case GGUFMetadataValueTypeUint64, GGUFMetadataValueTypeInt64, GGUFMetadataValueTypeFloat64:
		return 8
	}
	return 0
}

func readValue(data []byte, offset uint64, typ GGUFMetadataValueType) (interface{}, uint64, error) {
	if size := scalarSize(typ); size > 0 {
		if err := need(data, offset, size); err != nil {
			return nil, 0, err
		}
	}
	switch typ {
	case GGUFMetadataValueTypeUint8:
		return data[offset], 1, nil
	case GGUFMetadataValueTypeInt8:
		return int8(data[offset]), 1, nil
	case GGUFMetadataValueTypeUint16:
		return binary.LittleEndian.Uint16(data[offset:]), 2, nil
	case GGUFMetadataValueTypeInt16:
		return int16(binary.LittleEndian.Uint16(data[offset:])), 2, nil
	case GGUFMetadataValueTypeUint32:
		return binary.LittleEndian.Uint32(data[offset:]), 4, nil
	case GGUFMetadataValueTypeInt32:
		return int32(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case GGUFMetadataValueTypeFloat32:
		return math.Float32frombits(binary.LittleEndian.Uint32(data[offset:])), 4, nil
	case GGUFMetadataValueTypeBool:
		return data[offset] != 0, 1, nil
	case GGUFMetadataValueTypeString:
		return readString(data, offset)
	case GGUFMetadataValueTypeArray:
		if err := need(data, offset, 12); err != nil {
			return nil, 0, err
		}
		arrType := GGUFMetadataValueType(binary.LittleEndian.Uint32(data[offset:]))
		arrLen := binary.LittleEndian.Uint64(data[offset+4:])
		bytesRead := uint64(12)
		currentOff := offset + 12

		var arr []interface{}
		for i := uint64(0); i < arrLen; i++ {
			val, n, err := readValue(data, currentOff, arrType)
			if err != nil {
				return nil, 0, err
			}
			arr = append(arr, val)
			currentOff += n
			bytesRead += n
		}
		return arr, bytesRead, nil
	case GGUFMetadataValueTypeUint64:
		return binary.LittleEndian.Uint64(data[offset:]), 8, nil
	case GGUFMetadataValueTypeInt64:
		return int64(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	case GGUFMetadataValueTypeFloat64:
		return math.Float64frombits(binary.LittleEndian.Uint64(data[offset:])), 8, nil
	default:
		return nil, 0, fmt.Errorf("unsupported metadata type: %d", typ)
	}
}

// Tensor looks up a tensor by name.
func (f *GGUFFile) Tensor(name string) (*TensorInfo, error) {
	for _, t := range f.Tensors {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, ErrTensorNotFound{Name: name}
}

// Float32s decodes an F32 tensor.
func (t *TensorInfo) Float32s() ([]float32, error) {
	if t.Type != GGMLTypeF32 {
		return nil, fmt.Errorf("tensor %s: type %s, want F32", t.Name, t.Type)
	}
	n := t.Elements()
	if uint64(len(t.Data)) < n*4 {
		return nil, fmt.Errorf("tensor %s: truncated data", t.Name)
	}
	return castToFloat32(t.Data[:n*4]), nil
}

// Float64s decodes an F32 tensor widened to float64.
func (t *TensorInfo) Float64s() ([]float64, error) {
	f32, err := t.Float32s()
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(f32))
	for i, v := range f32 {
		out[i] = float64(v)
	}
	return out, nil
}
