// Package safetensors reads and writes single-file safetensors checkpoints:
// [header_len:u64][header_json][tensor_data...].
package safetensors

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
)

const metadataKey = "__metadata__"

// maxHeaderLen bounds the JSON header, matching the reference implementation.
const maxHeaderLen = 100 << 20

var (
	ErrHeader   = errors.New("safetensors: invalid header")
	ErrNotFound = errors.New("safetensors: tensor not found")
)

// TensorInfo is one header entry. Offsets are relative to the start of the data region.
type TensorInfo struct {
	Dtype   string   `json:"dtype"`
	Shape   []int    `json:"shape"`
	Offsets [2]int64 `json:"data_offsets"`
}

// NumElements is the product of the shape; a scalar has one element.
func (t TensorInfo) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

type File struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
	data     []byte
}

// Open reads path fully and parses it.
func Open(path string) (*File, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a safetensors image. The returned File aliases b.
func Parse(b []byte) (*File, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("%w: file shorter than header length", ErrHeader)
	}
	hlen := binary.LittleEndian.Uint64(b[:8])
	if hlen > maxHeaderLen || hlen > uint64(len(b)-8) {
		return nil, fmt.Errorf("%w: header length %d exceeds file", ErrHeader, hlen)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b[8:8+hlen], &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeader, err)
	}
	f := &File{Tensors: make(map[string]TensorInfo, len(raw)), data: b[8+hlen:]}
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &f.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrHeader, err)
			}
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("%w: tensor %q: %v", ErrHeader, name, err)
		}
		if err := f.check(name, info); err != nil {
			return nil, err
		}
		f.Tensors[name] = info
	}
	return f, nil
}

func (f *File) check(name string, info TensorInfo) error {
	size, ok := dtypeSize[info.Dtype]
	if !ok {
		return fmt.Errorf("%w: tensor %q has unsupported dtype %q", ErrHeader, name, info.Dtype)
	}
	for _, d := range info.Shape {
		if d < 0 {
			return fmt.Errorf("%w: tensor %q has negative dimension", ErrHeader, name)
		}
	}
	start, end := info.Offsets[0], info.Offsets[1]
	if start < 0 || end < start || end > int64(len(f.data)) {
		return fmt.Errorf("%w: tensor %q offsets [%d, %d) outside %d data bytes", ErrHeader, name, start, end, len(f.data))
	}
	if want := int64(info.NumElements() * size); end-start != want {
		return fmt.Errorf("%w: tensor %q spans %d bytes, shape %v needs %d", ErrHeader, name, end-start, info.Shape, want)
	}
	return nil
}

// Names returns the tensor names in sorted order.
func (f *File) Names() []string {
	names := make([]string, 0, len(f.Tensors))
	for n := range f.Tensors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Raw returns the stored bytes of a tensor.
func (f *File) Raw(name string) ([]byte, TensorInfo, error) {
	info, ok := f.Tensors[name]
	if !ok {
		return nil, TensorInfo{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return f.data[info.Offsets[0]:info.Offsets[1]], info, nil
}

// Float32 returns a tensor converted to float32 along with its shape.
func (f *File) Float32(name string) ([]float32, []int, error) {
	b, info, err := f.Raw(name)
	if err != nil {
		return nil, nil, err
	}
	out, err := decodeFloat32(info.Dtype, b)
	if err != nil {
		return nil, nil, fmt.Errorf("tensor %q: %w", name, err)
	}
	return out, append([]int(nil), info.Shape...), nil
}
