package safetensors

import (
	"encoding/binary"
	"fmt"
	"math"
)

var dtypeSize = map[string]int{
	"F64":  8,
	"F32":  4,
	"F16":  2,
	"BF16": 2,
	"I64":  8,
	"I32":  4,
	"I16":  2,
	"I8":   1,
	"U8":   1,
	"BOOL": 1,
}

func decodeFloat32(dtype string, b []byte) ([]float32, error) {
	switch dtype {
	case "F32":
		out := make([]float32, len(b)/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
		}
		return out, nil
	case "F64":
		out := make([]float32, len(b)/8)
		for i := range out {
			out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b[8*i:])))
		}
		return out, nil
	case "F16":
		out := make([]float32, len(b)/2)
		for i := range out {
			out[i] = fp16to32(binary.LittleEndian.Uint16(b[2*i:]))
		}
		return out, nil
	case "BF16":
		out := make([]float32, len(b)/2)
		for i := range out {
			out[i] = math.Float32frombits(uint32(binary.LittleEndian.Uint16(b[2*i:])) << 16)
		}
		return out, nil
	}
	return nil, fmt.Errorf("dtype %s is not a floating point type", dtype)
}

func fp16to32(h uint16) float32 {
	s := uint32(h>>15) & 0x1
	e := uint32(h>>10) & 0x1F
	m := uint32(h) & 0x3FF
	var f uint32
	switch {
	case e == 0 && m == 0:
		f = s << 31
	case e == 0:
		// subnormal: shift the mantissa up until the implicit bit appears
		e2 := uint32(127 - 15 + 1)
		m2 := m << 13
		for m2&(1<<23) == 0 {
			m2 <<= 1
			e2--
		}
		m2 &= (1 << 23) - 1
		f = s<<31 | e2<<23 | m2
	case e == 0x1F:
		f = s<<31 | 0xFF<<23 | m<<13
	default:
		f = s<<31 | (e-15+127)<<23 | m<<13
	}
	return math.Float32frombits(f)
}
