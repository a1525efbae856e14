package nmn

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/qrv0/morphnet/internal/metrics"
)

// decoder reads little-endian fields; the first failure sticks and later reads return zero values.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > len(d.data)-d.off {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrTruncated, n, d.off, len(d.data)-d.off)
		return nil
	}
	b := d.data[d.off : d.off+n]
	d.off += n
	return b
}

func (d *decoder) uint32() uint32 {
	b := d.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// count reads a dimension and bounds it by the bytes left, so a corrupt file cannot force a huge allocation.
func (d *decoder) count(elemSize int) int {
	v := int(d.uint32())
	if d.err == nil && v > (len(d.data)-d.off)/elemSize {
		d.err = fmt.Errorf("%w: dimension %d at offset %d exceeds remaining data", ErrTruncated, v, d.off-4)
		return 0
	}
	return v
}

// product multiplies dimensions one at a time, failing as soon as the running product
// of elemSize-byte elements could not fit in the bytes left.
func (d *decoder) product(elemSize int, dims ...int) int {
	if d.err != nil {
		return 0
	}
	limit := (len(d.data) - d.off) / elemSize
	n := 1
	for _, v := range dims {
		if v != 0 && n > limit/v {
			d.err = fmt.Errorf("%w: dimensions %v at offset %d exceed remaining data", ErrTruncated, dims, d.off)
			return 0
		}
		n *= v
	}
	return n
}

func (d *decoder) floats(n int) []float32 {
	if d.err != nil {
		return nil
	}
	if n < 0 || n > (len(d.data)-d.off)/4 {
		d.err = fmt.Errorf("%w: %d floats at offset %d", ErrTruncated, n, d.off)
		return nil
	}
	b := d.take(4 * n)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}

func (d *decoder) bytes(n int) []byte {
	b := d.take(n)
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

func (d *decoder) cstring() string {
	if d.err != nil {
		return ""
	}
	i := bytes.IndexByte(d.data[d.off:], 0)
	if i < 0 {
		d.err = fmt.Errorf("%w: unterminated string at offset %d", ErrTruncated, d.off)
		return ""
	}
	s := string(d.data[d.off : d.off+i])
	d.off += i + 1
	return s
}

func (d *decoder) align(a int) {
	d.take(alignUp(d.off, a) - d.off)
}

// Unmarshal decodes a file produced by Marshal.
func Unmarshal(data []byte) (*File, error) {
	f, err := unmarshal(data)
	if err != nil {
		metrics.Faults.WithLabelValues(metrics.FaultDecode).Inc()
		return nil, err
	}
	return f, nil
}

func unmarshal(data []byte) (*File, error) {
	d := &decoder{data: data}
	if m := d.uint32(); d.err == nil && m != Magic {
		return nil, fmt.Errorf("%w: 0x%08X", ErrInvalidMagic, m)
	}
	if v := d.uint32(); d.err == nil && v != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	var info [numInfoFields]uint32
	for i := range info {
		info[i] = d.uint32()
	}
	if d.err != nil {
		return nil, d.err
	}
	f := &File{Header: headerFromInfo(info)}
	if err := f.Header.validate(); err != nil {
		return nil, err
	}
	n := f.Header.NumInputs()
	f.InputMean = d.floats(n)
	f.InputStd = d.floats(n)
	f.Runtime = d.cstring()
	f.Main = d.block("main")
	if f.Header.HasGroups() {
		f.Groups = d.block("groups")
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.off != len(data) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTrailingData, len(data)-d.off)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

func (d *decoder) block(name string) *Network {
	size := int(d.uint32())
	d.align(BlockAlignment)
	if d.err != nil {
		return nil
	}
	if d.off%BlockAlignment != 0 {
		d.err = fmt.Errorf("%s block at %d: %w", name, d.off, ErrMisaligned)
		return nil
	}
	content := d.take(size)
	if content == nil {
		return nil
	}
	inner := &decoder{data: content}
	n := inner.network()
	if inner.err == nil && inner.off != size {
		inner.err = fmt.Errorf("%w: %s block declares %d bytes, decoded %d", ErrLayoutMismatch, name, size, inner.off)
	}
	if inner.err != nil {
		d.err = fmt.Errorf("%s block: %w", name, inner.err)
		return nil
	}
	return n
}

func (d *decoder) network() *Network {
	if k := LayerKind(d.uint32()); d.err == nil && k != KindSequence {
		d.err = fmt.Errorf("%w: model block starts with %s, want %s", ErrUnknownLayer, k, KindSequence)
		return nil
	}
	count := d.count(4)
	n := &Network{Layers: make([]Layer, 0, count)}
	for i := 0; i < count && d.err == nil; i++ {
		l := d.layer()
		if d.err != nil {
			d.err = fmt.Errorf("layer %d: %w", i, d.err)
			return nil
		}
		n.Layers = append(n.Layers, l)
	}
	return n
}

func (d *decoder) layer() Layer {
	kind := LayerKind(d.uint32())
	if d.err != nil {
		return nil
	}
	switch kind {
	case KindLinear:
		l := &Linear{Inputs: d.count(4), Outputs: d.count(4)}
		l.Weights = d.floats(d.product(4, l.Inputs, l.Outputs))
		l.Biases = d.floats(l.Outputs)
		return l
	case KindCompressedLinear:
		l := &CompressedLinear{Inputs: d.count(1), Outputs: d.count(1)}
		l.Codes = d.bytes(d.product(1, l.Inputs, l.Outputs))
		d.align(4)
		l.Offsets = d.floats(l.Inputs)
		l.Scales = d.floats(l.Inputs)
		l.Biases = d.floats(l.Outputs)
		return l
	case KindMultiLinear:
		l := &MultiLinear{Groups: d.count(4), Outputs: d.count(4), Inputs: d.count(4)}
		l.Weights = d.floats(d.product(4, l.Groups, l.Outputs, l.Inputs))
		l.Biases = d.floats(d.product(4, l.Outputs, l.Groups))
		return l
	case KindELU:
		return &ELU{Size: int(d.uint32())}
	default:
		d.err = fmt.Errorf("%w: %s at offset %d", ErrUnknownLayer, kind, d.off-4)
		return nil
	}
}

// Load reads and decodes a .nmn file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read neural morph network %s: %w", path, err)
	}
	f, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f, nil
}
