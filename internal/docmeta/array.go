// Package docmeta serves per-document metadata addressed by a dense
// position: body norms, inverse body lengths, PageRank and titles. It also
// loads the doc_id -> value signal tables used by rank fusion.
package docmeta

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// Array file layout: 16-byte little-endian header followed by count
// little-endian elements of the header's dtype.
const (
	ArrayMagic      uint32 = 0x53504152
	ArrayVersion    uint16 = 1
	ArrayHeaderSize        = 16
)

// DType identifies the element encoding of an array file.
type DType uint16

const (
	DTypeUint32 DType = iota + 1
	DTypeUint64
	DTypeFloat16
	DTypeFloat32
	DTypeFloat64
)

func (d DType) size() int {
	switch d {
	case DTypeFloat16:
		return 2
	case DTypeUint32, DTypeFloat32:
		return 4
	case DTypeUint64, DTypeFloat64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeUint32:
		return "uint32"
	case DTypeUint64:
		return "uint64"
	case DTypeFloat16:
		return "float16"
	case DTypeFloat32:
		return "float32"
	case DTypeFloat64:
		return "float64"
	default:
		return fmt.Sprintf("dtype(%d)", uint16(d))
	}
}

// ParseFloatPrecision maps a config value to a float dtype.
func ParseFloatPrecision(s string) (DType, error) {
	switch s {
	case "float16":
		return DTypeFloat16, nil
	case "float32", "":
		return DTypeFloat32, nil
	case "float64":
		return DTypeFloat64, nil
	default:
		return 0, fmt.Errorf("unknown float precision %q", s)
	}
}

func arrayHeader(dtype DType, count int) []byte {
	h := make([]byte, ArrayHeaderSize)
	binary.LittleEndian.PutUint32(h[0:4], ArrayMagic)
	binary.LittleEndian.PutUint16(h[4:6], ArrayVersion)
	binary.LittleEndian.PutUint16(h[6:8], uint16(dtype))
	binary.LittleEndian.PutUint64(h[8:16], uint64(count))
	return h
}

// parseArray validates the header and returns the dtype and element bytes.
func parseArray(data []byte) (DType, []byte, error) {
	if len(data) < ArrayHeaderSize {
		return 0, nil, fmt.Errorf("array file too small: %d bytes", len(data))
	}
	if magic := binary.LittleEndian.Uint32(data[0:4]); magic != ArrayMagic {
		return 0, nil, fmt.Errorf("bad array magic 0x%08x", magic)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != ArrayVersion {
		return 0, nil, fmt.Errorf("unsupported array version %d", v)
	}
	dtype := DType(binary.LittleEndian.Uint16(data[6:8]))
	if dtype.size() == 0 {
		return 0, nil, fmt.Errorf("unknown dtype %d", uint16(dtype))
	}
	count := binary.LittleEndian.Uint64(data[8:16])
	body := data[ArrayHeaderSize:]
	if uint64(len(body)) != count*uint64(dtype.size()) {
		return 0, nil, fmt.Errorf("%s array of %d elements has %d data bytes", dtype, count, len(body))
	}
	return dtype, body, nil
}

func encodeFloats(dtype DType, values []float64) ([]byte, error) {
	out := arrayHeader(dtype, len(values))
	for _, v := range values {
		switch dtype {
		case DTypeFloat16:
			out = binary.LittleEndian.AppendUint16(out, float16.Fromfloat32(float32(v)).Bits())
		case DTypeFloat32:
			out = binary.LittleEndian.AppendUint32(out, math.Float32bits(float32(v)))
		case DTypeFloat64:
			out = binary.LittleEndian.AppendUint64(out, math.Float64bits(v))
		default:
			return nil, fmt.Errorf("%s is not a float dtype", dtype)
		}
	}
	return out, nil
}

// decodeFloats widens any float array to float32.
func decodeFloats(data []byte) ([]float32, error) {
	dtype, body, err := parseArray(data)
	if err != nil {
		return nil, err
	}
	n := len(body) / dtype.size()
	out := make([]float32, n)
	switch dtype {
	case DTypeFloat16:
		for i := range out {
			out[i] = float16.Frombits(binary.LittleEndian.Uint16(body[2*i:])).Float32()
		}
	case DTypeFloat32:
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[4*i:]))
		}
	case DTypeFloat64:
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(body[8*i:])))
		}
	default:
		return nil, fmt.Errorf("expected a float array, got %s", dtype)
	}
	return out, nil
}

func encodeUint32s(values []uint32) []byte {
	out := arrayHeader(DTypeUint32, len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint32(out, v)
	}
	return out
}

func encodeUint64s(values []uint64) []byte {
	out := arrayHeader(DTypeUint64, len(values))
	for _, v := range values {
		out = binary.LittleEndian.AppendUint64(out, v)
	}
	return out
}

func decodeUint64s(data []byte) ([]uint64, error) {
	dtype, body, err := parseArray(data)
	if err != nil {
		return nil, err
	}
	if dtype != DTypeUint64 {
		return nil, fmt.Errorf("expected uint64 array, got %s", dtype)
	}
	out := make([]uint64, len(body)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(body[8*i:])
	}
	return out, nil
}
