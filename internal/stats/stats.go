// Package stats computes the input normalization vectors stored in a network file.
package stats

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/stat"

	"github.com/qrv0/morphnet/internal/nmn"
)

// StdEpsilon keeps a constant input block from producing a zero divisor.
const StdEpsilon = 1e-5

// Compute returns the per-column mean of samples and the per-block std.
// The first boneValues columns form the bone block and the remainder the curve block.
// Every entry of a block gets the average of that block's per-column population std
// plus StdEpsilon.
func Compute(samples [][]float32, boneValues int) (mean, std []float32, err error) {
	if len(samples) == 0 {
		return nil, nil, fmt.Errorf("%w: no samples", nmn.ErrShape)
	}
	width := len(samples[0])
	if width == 0 {
		return nil, nil, fmt.Errorf("%w: samples have no columns", nmn.ErrShape)
	}
	if boneValues < 0 || boneValues > width {
		return nil, nil, &nmn.ShapeError{Field: "bone values", Want: width, Got: boneValues}
	}
	for i, row := range samples {
		if len(row) != width {
			return nil, nil, &nmn.ShapeError{Field: fmt.Sprintf("sample %d", i), Want: width, Got: len(row)}
		}
	}

	mean = make([]float32, width)
	colStd := make([]float64, width)
	col := make([]float64, len(samples))
	for c := 0; c < width; c++ {
		for r, row := range samples {
			col[r] = float64(row[c])
		}
		m, s := stat.PopMeanStdDev(col, nil)
		mean[c] = float32(m)
		colStd[c] = s
	}

	std = make([]float32, width)
	fillBlock(std[:boneValues], colStd[:boneValues])
	fillBlock(std[boneValues:], colStd[boneValues:])
	return mean, std, nil
}

func fillBlock(dst []float32, colStd []float64) {
	if len(dst) == 0 {
		return
	}
	v := float32(stat.Mean(colStd, nil) + StdEpsilon)
	for i := range dst {
		dst[i] = v
	}
}

// ReadSamples reads a row-major float32 little-endian sample matrix with numInputs columns.
func ReadSamples(path string, numInputs int) ([][]float32, error) {
	if numInputs <= 0 {
		return nil, fmt.Errorf("%w: %d inputs per sample", nmn.ErrShape, numInputs)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	rowBytes := 4 * numInputs
	if len(b)%rowBytes != 0 {
		return nil, fmt.Errorf("%w: %s holds %d bytes, not a multiple of %d-float rows", nmn.ErrShape, path, len(b), numInputs)
	}
	rows := make([][]float32, len(b)/rowBytes)
	for r := range rows {
		row := make([]float32, numInputs)
		for c := range row {
			row[c] = math.Float32frombits(binary.LittleEndian.Uint32(b[r*rowBytes+4*c:]))
		}
		rows[r] = row
	}
	return rows, nil
}

// WriteSamples is the inverse of ReadSamples.
func WriteSamples(path string, samples [][]float32) error {
	var buf []byte
	for _, row := range samples {
		for _, v := range row {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	}
	return os.WriteFile(path, buf, 0o644)
}
