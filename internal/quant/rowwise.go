package quant

import (
	"fmt"
	"math"
)

// MinScale is the scale given to rows with no dynamic range, so decoding never divides by zero.
const MinScale float32 = 1e-8

// levels is the largest 8-bit code.
const levels = 255

// Rows is a row-wise 8-bit affine quantization of a row-major matrix.
// Element (r, c) decodes to Codes[r*Cols+c]*Scales[r] + Offsets[r].
type Rows struct {
	Rows    int
	Cols    int
	Codes   []uint8
	Offsets []float32
	Scales  []float32
}

// QuantizeRows quantizes each row of w (rows x cols) independently onto [min, max] of that row.
func QuantizeRows(rows, cols int, w []float32) (*Rows, error) {
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("quant: negative shape %dx%d", rows, cols)
	}
	if len(w) != rows*cols {
		return nil, fmt.Errorf("quant: %d values for a %dx%d matrix", len(w), rows, cols)
	}
	q := &Rows{
		Rows:    rows,
		Cols:    cols,
		Codes:   make([]uint8, rows*cols),
		Offsets: make([]float32, rows),
		Scales:  make([]float32, rows),
	}
	for r := 0; r < rows; r++ {
		row := w[r*cols : (r+1)*cols]
		lo, hi, err := rowRange(row)
		if err != nil {
			return nil, fmt.Errorf("quant: row %d: %w", r, err)
		}
		if span := float64(hi) - float64(lo); span > math.MaxFloat32 {
			return nil, fmt.Errorf("quant: row %d: range %g exceeds float32", r, span)
		}
		scale := float32((float64(hi) - float64(lo)) / levels)
		if !(scale >= MinScale) {
			scale = MinScale
		}
		// Decoding runs in float32; the top code must stay finite there.
		if top := float32(levels)*scale + lo; math.IsInf(float64(top), 0) {
			return nil, fmt.Errorf("quant: row %d: decoded maximum overflows float32", r)
		}
		q.Offsets[r] = lo
		q.Scales[r] = scale
		codes := q.Codes[r*cols : (r+1)*cols]
		for c, v := range row {
			x := math.Round((float64(v) - float64(lo)) / float64(scale))
			if x < 0 {
				x = 0
			} else if x > levels {
				x = levels
			}
			codes[c] = uint8(x)
		}
	}
	return q, nil
}

func rowRange(row []float32) (lo, hi float32, err error) {
	if len(row) == 0 {
		return 0, 0, nil
	}
	lo, hi = row[0], row[0]
	for _, v := range row {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, 0, fmt.Errorf("non-finite weight %v", v)
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi, nil
}

// At decodes element (r, c).
func (q *Rows) At(r, c int) float32 {
	return float32(q.Codes[r*q.Cols+c])*q.Scales[r] + q.Offsets[r]
}

// Dequantize reconstructs the full row-major matrix.
func (q *Rows) Dequantize() []float32 {
	out := make([]float32, q.Rows*q.Cols)
	for r := 0; r < q.Rows; r++ {
		s, o := q.Scales[r], q.Offsets[r]
		for c := 0; c < q.Cols; c++ {
			out[r*q.Cols+c] = float32(q.Codes[r*q.Cols+c])*s + o
		}
	}
	return out
}

// SizeBytes is the encoded payload size: one byte per code plus a scale and offset per row.
func (q *Rows) SizeBytes() int {
	return len(q.Codes) + 8*q.Rows
}
