package safetensors

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
)

// Writer accumulates F32 tensors and writes them as one safetensors file.
// Tensors are stored in insertion order.
type Writer struct {
	names    []string
	infos    map[string]TensorInfo
	data     [][]float32
	size     int64
	metadata map[string]string
}

func NewWriter() *Writer {
	return &Writer{infos: make(map[string]TensorInfo)}
}

// SetMetadata records a free-form string pair in the header.
func (w *Writer) SetMetadata(key, value string) {
	if w.metadata == nil {
		w.metadata = make(map[string]string)
	}
	w.metadata[key] = value
}

// AddFloat32 appends a tensor. data must hold exactly the elements described by shape.
func (w *Writer) AddFloat32(name string, shape []int, data []float32) error {
	if name == "" || name == metadataKey {
		return fmt.Errorf("safetensors: invalid tensor name %q", name)
	}
	if _, dup := w.infos[name]; dup {
		return fmt.Errorf("safetensors: duplicate tensor %q", name)
	}
	info := TensorInfo{Dtype: "F32", Shape: make([]int, len(shape))}
	copy(info.Shape, shape)
	if n := info.NumElements(); n != len(data) {
		return fmt.Errorf("safetensors: tensor %q shape %v needs %d values, got %d", name, shape, n, len(data))
	}
	info.Offsets = [2]int64{w.size, w.size + int64(4*len(data))}
	w.size = info.Offsets[1]
	w.names = append(w.names, name)
	w.infos[name] = info
	w.data = append(w.data, data)
	return nil
}

func (w *Writer) header() ([]byte, error) {
	hdr := make(map[string]any, len(w.infos)+1)
	for name, info := range w.infos {
		hdr[name] = info
	}
	if len(w.metadata) > 0 {
		hdr[metadataKey] = w.metadata
	}
	hb, err := json.Marshal(hdr)
	if err != nil {
		return nil, err
	}
	// pad with spaces so the data region starts 8-byte aligned
	if r := len(hb) % 8; r != 0 {
		hb = append(hb, bytes.Repeat([]byte{' '}, 8-r)...)
	}
	return hb, nil
}

// WriteTo streams the file to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	hb, err := w.header()
	if err != nil {
		return 0, err
	}
	bw := bufio.NewWriter(out)
	var b8 [8]byte
	binary.LittleEndian.PutUint64(b8[:], uint64(len(hb)))
	bw.Write(b8[:])
	bw.Write(hb)
	var b4 [4]byte
	for _, t := range w.data {
		for _, v := range t {
			binary.LittleEndian.PutUint32(b4[:], math.Float32bits(v))
			bw.Write(b4[:])
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(8+len(hb)) + w.size, nil
}

// Save writes the file to path.
func (w *Writer) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := w.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
