package gguf

import (
	"fmt"
	"math"
)

type MetadataAnalyzer struct {
	file *GGUFFile
}

func NewMetadataAnalyzer(file *GGUFFile) *MetadataAnalyzer {
	return &MetadataAnalyzer{file: file}
}

type AnalysisReport struct {
	Architecture    string
	ModelName       string
	TensorCount     int
	TotalParameters int64
	MemoryEstimate  int64
}

func (a *MetadataAnalyzer) Analyze() *AnalysisReport {
	report := &AnalysisReport{
		TensorCount: len(a.file.Tensors),
	}
	report.Architecture, _ = a.file.KV["general.architecture"].(string)
	report.ModelName, _ = a.file.KV["general.name"].(string)

	for _, t := range a.file.Tensors {
		report.TotalParameters += int64(t.Elements())
		report.MemoryEstimate += int64(t.SizeBytes())
	}
	return report
}

func (r *AnalysisReport) String() string {
	return fmt.Sprintf("%s (%s): %d tensors, %d parameters, %d bytes",
		r.ModelName, r.Architecture, r.TensorCount, r.TotalParameters, r.MemoryEstimate)
}

// FindMissingTensors lists the required names absent from the file.
func (a *MetadataAnalyzer) FindMissingTensors(required []string) []string {
	existing := make(map[string]bool)
	for _, t := range a.file.Tensors {
		existing[t.Name] = true
	}

	var missing []string
	for _, name := range required {
		if !existing[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

type TensorStats struct {
	Name         string
	Type         string
	Dimensions   []uint64
	ElementCount uint64
	SizeBytes    uint64
	MinValue     float64
	MaxValue     float64
	MeanValue    float64
	HasNaN       bool
	HasInf       bool
}

func (a *MetadataAnalyzer) ComputeStats(tensorName string) (*TensorStats, error) {
	tensor, err := a.file.Tensor(tensorName)
	if err != nil {
		return nil, err
	}

	stats := &TensorStats{
		Name:         tensor.Name,
		Type:         tensor.Type.String(),
		Dimensions:   tensor.Dimensions,
		ElementCount: tensor.Elements(),
		SizeBytes:    tensor.SizeBytes(),
	}

	data, err := tensor.Float32s()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return stats, nil
	}
	stats.MinValue = math.Inf(1)
	stats.MaxValue = math.Inf(-1)
	sum := float64(0)
	for _, v := range data {
		f := float64(v)
		if math.IsNaN(f) {
			stats.HasNaN = true
			continue
		}
		if math.IsInf(f, 0) {
			stats.HasInf = true
		}
		stats.MinValue = math.Min(stats.MinValue, f)
		stats.MaxValue = math.Max(stats.MaxValue, f)
		sum += f
	}
	stats.MeanValue = sum / float64(len(data))
	return stats, nil
}

// GetString, GetFloat64 and GetUint64 read typed metadata, reporting
// whether the key was present with a compatible type.
func (f *GGUFFile) GetString(key string) (string, bool) {
	v, ok := f.KV[key].(string)
	return v, ok
}

func (f *GGUFFile) GetFloat64(key string) (float64, bool) {
	switch v := f.KV[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	}
	return 0, false
}

func (f *GGUFFile) GetUint64(key string) (uint64, bool) {
	if _, ok := f.KV[key]; !ok {
		return 0, false
	}
	switch f.KV[key].(type) {
	case uint64, int64, uint32, int32, int:
		return getKVInt(f.KV, key), true
	}
	return 0, false
}

func getKVInt(kv map[string]interface{}, keys ...string) uint64 {
	for _, key := range keys {
		if val, ok := kv[key]; ok {
			switch v := val.(type) {
			case uint64:
				return v
			case int64:
				return uint64(v)
			case uint32:
				return uint64(v)
			case int32:
				return uint64(v)
			case int:
				return uint64(v)
			}
		}
	}
	return 0
}

func castToFloat32(data []byte) []float32 {
	n := len(data) / 4
	result := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
