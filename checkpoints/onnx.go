package checkpoints

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers and enum values from onnx/onnx.proto. The export writes the
// small subset of the ModelProto schema needed to carry weight tensors, so
// the files open in netron and load from onnxruntime.
const (
	onnxIRVersion    = 8
	onnxOpsetVersion = 17

	tensorDataTypeFloat = 1

	fieldModelIRVersion       = 1
	fieldModelProducerName    = 2
	fieldModelProducerVersion = 3
	fieldModelGraph           = 7
	fieldModelOpsetImport     = 8

	fieldGraphName        = 2
	fieldGraphInitializer = 5

	fieldTensorDims      = 1
	fieldTensorDataType  = 2
	fieldTensorFloatData = 4
	fieldTensorName      = 8
	fieldTensorRawData   = 9

	fieldOpsetVersion = 2
)

// ONNXExporter handles conversion of checkpoints to ONNX format
type ONNXExporter struct{}

// NewONNXExporter creates a new ONNX exporter
func NewONNXExporter() *ONNXExporter {
	return &ONNXExporter{}
}

// ExportToONNX writes the checkpoint weights as the initializers of an ONNX
// model. Training state has no ONNX representation and is not exported.
func (oe *ONNXExporter) ExportToONNX(checkpoint *Checkpoint, path string) error {
	if checkpoint == nil {
		return fmt.Errorf("checkpoint cannot be nil")
	}

	data := oe.encodeModel(checkpoint)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ONNX file: %v", err)
	}

	return nil
}

func (oe *ONNXExporter) encodeModel(checkpoint *Checkpoint) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldModelIRVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxIRVersion)
	buf = protowire.AppendTag(buf, fieldModelProducerName, protowire.BytesType)
	buf = protowire.AppendString(buf, "nlpc")
	buf = protowire.AppendTag(buf, fieldModelProducerVersion, protowire.BytesType)
	buf = protowire.AppendString(buf, checkpoint.Metadata.Version)
	buf = protowire.AppendTag(buf, fieldModelGraph, protowire.BytesType)
	buf = protowire.AppendBytes(buf, oe.encodeGraph(checkpoint))
	buf = protowire.AppendTag(buf, fieldModelOpsetImport, protowire.BytesType)
	buf = protowire.AppendBytes(buf, oe.encodeOpset())
	return buf
}

func (oe *ONNXExporter) encodeOpset() []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldOpsetVersion, protowire.VarintType)
	buf = protowire.AppendVarint(buf, onnxOpsetVersion)
	return buf
}

func (oe *ONNXExporter) encodeGraph(checkpoint *Checkpoint) []byte {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldGraphName, protowire.BytesType)
	buf = protowire.AppendString(buf, "text_classifier")
	for _, weight := range checkpoint.Weights {
		buf = protowire.AppendTag(buf, fieldGraphInitializer, protowire.BytesType)
		buf = protowire.AppendBytes(buf, oe.encodeTensor(weight))
	}
	return buf
}

func (oe *ONNXExporter) encodeTensor(weight WeightTensor) []byte {
	var buf []byte

	// dims as a packed repeated int64
	var dims []byte
	for _, dim := range weight.Shape {
		dims = protowire.AppendVarint(dims, uint64(dim))
	}
	buf = protowire.AppendTag(buf, fieldTensorDims, protowire.BytesType)
	buf = protowire.AppendBytes(buf, dims)

	buf = protowire.AppendTag(buf, fieldTensorDataType, protowire.VarintType)
	buf = protowire.AppendVarint(buf, tensorDataTypeFloat)

	// float_data as packed fixed32
	var floats []byte
	for _, v := range weight.Data {
		floats = protowire.AppendFixed32(floats, math.Float32bits(v))
	}
	buf = protowire.AppendTag(buf, fieldTensorFloatData, protowire.BytesType)
	buf = protowire.AppendBytes(buf, floats)

	buf = protowire.AppendTag(buf, fieldTensorName, protowire.BytesType)
	buf = protowire.AppendString(buf, weight.Name)

	return buf
}

// ONNXImporter handles loading model weights from ONNX format
type ONNXImporter struct{}

// NewONNXImporter creates a new ONNX importer
func NewONNXImporter() *ONNXImporter {
	return &ONNXImporter{}
}

// ImportFromONNX reads the initializer tensors of an ONNX model into a
// checkpoint. The training state starts out zeroed since ONNX does not
// carry it.
func (oi *ONNXImporter) ImportFromONNX(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ONNX file: %v", err)
	}

	checkpoint := &Checkpoint{
		Metadata: CheckpointMetadata{Description: "imported from ONNX"},
	}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX model: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldModelProducerName && typ == protowire.BytesType:
			name, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to parse producer name: %v", protowire.ParseError(n))
			}
			checkpoint.Metadata.Framework = string(name)
			data = data[n:]
		case num == fieldModelProducerVersion && typ == protowire.BytesType:
			version, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to parse producer version: %v", protowire.ParseError(n))
			}
			checkpoint.Metadata.Version = string(version)
			data = data[n:]
		case num == fieldModelGraph && typ == protowire.BytesType:
			graph, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(n))
			}
			weights, err := oi.parseGraph(graph)
			if err != nil {
				return nil, err
			}
			checkpoint.Weights = append(checkpoint.Weights, weights...)
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return nil, fmt.Errorf("failed to parse ONNX model: %v", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	return checkpoint, nil
}

func (oi *ONNXImporter) parseGraph(data []byte) ([]WeightTensor, error) {
	var weights []WeightTensor

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(n))
		}
		data = data[n:]

		if num == fieldGraphInitializer && typ == protowire.BytesType {
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, fmt.Errorf("failed to parse initializer: %v", protowire.ParseError(n))
			}
			weight, err := oi.parseTensor(raw)
			if err != nil {
				return nil, err
			}
			weights = append(weights, weight)
			data = data[n:]
			continue
		}

		n = protowire.ConsumeFieldValue(num, typ, data)
		if n < 0 {
			return nil, fmt.Errorf("failed to parse ONNX graph: %v", protowire.ParseError(n))
		}
		data = data[n:]
	}

	return weights, nil
}

func (oi *ONNXImporter) parseTensor(data []byte) (WeightTensor, error) {
	var weight WeightTensor
	dataType := uint64(tensorDataTypeFloat)
	var rawData []byte

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return weight, fmt.Errorf("failed to parse tensor: %v", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldTensorDims && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor dims: %v", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				dim, m := protowire.ConsumeVarint(packed)
				if m < 0 {
					return weight, fmt.Errorf("failed to parse tensor dims: %v", protowire.ParseError(m))
				}
				weight.Shape = append(weight.Shape, int(dim))
				packed = packed[m:]
			}
			data = data[n:]
		case num == fieldTensorDims && typ == protowire.VarintType:
			dim, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor dims: %v", protowire.ParseError(n))
			}
			weight.Shape = append(weight.Shape, int(dim))
			data = data[n:]
		case num == fieldTensorDataType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor data type: %v", protowire.ParseError(n))
			}
			dataType = v
			data = data[n:]
		case num == fieldTensorFloatData && typ == protowire.BytesType:
			packed, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor values: %v", protowire.ParseError(n))
			}
			for len(packed) > 0 {
				bits, m := protowire.ConsumeFixed32(packed)
				if m < 0 {
					return weight, fmt.Errorf("failed to parse tensor values: %v", protowire.ParseError(m))
				}
				weight.Data = append(weight.Data, math.Float32frombits(uint32(bits)))
				packed = packed[m:]
			}
			data = data[n:]
		case num == fieldTensorFloatData && typ == protowire.Fixed32Type:
			bits, n := protowire.ConsumeFixed32(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor values: %v", protowire.ParseError(n))
			}
			weight.Data = append(weight.Data, math.Float32frombits(uint32(bits)))
			data = data[n:]
		case num == fieldTensorName && typ == protowire.BytesType:
			name, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor name: %v", protowire.ParseError(n))
			}
			weight.Name = string(name)
			data = data[n:]
		case num == fieldTensorRawData && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor raw data: %v", protowire.ParseError(n))
			}
			rawData = raw
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return weight, fmt.Errorf("failed to parse tensor: %v", protowire.ParseError(n))
			}
			data = data[n:]
		}
	}

	if dataType != tensorDataTypeFloat {
		return weight, fmt.Errorf("tensor %s has unsupported data type %d", weight.Name, dataType)
	}

	// Tensors written by other producers usually carry raw little-endian
	// bytes instead of float_data.
	if len(weight.Data) == 0 && len(rawData) > 0 {
		if len(rawData)%4 != 0 {
			return weight, fmt.Errorf("tensor %s has truncated raw data", weight.Name)
		}
		weight.Data = make([]float32, 0, len(rawData)/4)
		for i := 0; i+4 <= len(rawData); i += 4 {
			weight.Data = append(weight.Data, math.Float32frombits(binary.LittleEndian.Uint32(rawData[i:])))
		}
	}

	size := 1
	for _, dim := range weight.Shape {
		size *= dim
	}
	if len(weight.Shape) > 0 && size != len(weight.Data) {
		return weight, fmt.Errorf("tensor %s has %d values, expected %d", weight.Name, len(weight.Data), size)
	}

	return weight, nil
}
