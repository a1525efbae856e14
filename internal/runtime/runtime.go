// Package runtime evaluates a decoded network file on the CPU.
package runtime

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/qrv0/morphnet/internal/nmn"
)

// Model runs the main and groups networks of a file.
type Model struct {
	file *nmn.File
}

// New validates f and wraps it for evaluation.
func New(f *nmn.File) (*Model, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &Model{file: f}, nil
}

func (m *Model) File() *nmn.File { return m.file }

// Normalize applies (x - mean) / std.
func (m *Model) Normalize(x []float32) ([]float32, error) {
	n := m.file.Header.NumInputs()
	if len(x) != n {
		return nil, &nmn.ShapeError{Field: "input", Want: n, Got: len(x)}
	}
	out := make([]float32, n)
	for i, v := range x {
		out[i] = (v - m.file.InputMean[i]) / m.file.InputStd[i]
	}
	return out, nil
}

// Main normalizes a raw input vector and runs the main network.
func (m *Model) Main(x []float32) ([]float32, error) {
	in, err := m.Normalize(x)
	if err != nil {
		return nil, err
	}
	return Forward(m.file.Main, in)
}

// Groups runs the groups network on an already assembled group input.
func (m *Model) Groups(x []float32) ([]float32, error) {
	if m.file.Groups == nil {
		return nil, fmt.Errorf("%w: file has no groups network", nmn.ErrShape)
	}
	return Forward(m.file.Groups, x)
}

// Forward evaluates n on x.
func Forward(n *nmn.Network, x []float32) ([]float32, error) {
	if len(x) != n.InputSize() {
		return nil, &nmn.ShapeError{Field: "input", Want: n.InputSize(), Got: len(x)}
	}
	for _, l := range n.Layers {
		x = apply(l, x)
	}
	return x, nil
}

func apply(l nmn.Layer, x []float32) []float32 {
	switch l := l.(type) {
	case *nmn.Linear:
		return linear(l, x)
	case *nmn.CompressedLinear:
		return compressedLinear(l, x)
	case *nmn.MultiLinear:
		return multiLinear(l, x)
	case *nmn.ELU:
		return elu(x)
	default:
		panic(fmt.Sprintf("runtime: unhandled layer type %T", l))
	}
}

// linear computes y = Wᵀx + b with W stored [in][out].
func linear(l *nmn.Linear, x []float32) []float32 {
	y := append([]float32(nil), l.Biases...)
	a := blas32.General{Rows: l.Inputs, Cols: l.Outputs, Stride: l.Outputs, Data: l.Weights}
	blas32.Gemv(blas.Trans, 1, a, vec(x), 1, vec(y))
	return y
}

// compressedLinear dequantizes one input row at a time and accumulates it.
func compressedLinear(l *nmn.CompressedLinear, x []float32) []float32 {
	y := append([]float32(nil), l.Biases...)
	row := make([]float32, l.Outputs)
	for r := 0; r < l.Inputs; r++ {
		codes := l.Codes[r*l.Outputs : (r+1)*l.Outputs]
		for c, q := range codes {
			row[c] = float32(q)*l.Scales[r] + l.Offsets[r]
		}
		blas32.Axpy(x[r], vec(row), vec(y))
	}
	return y
}

// multiLinear runs one independent linear map per group. Group g reads
// x[g*I:(g+1)*I] and writes y[g*O:(g+1)*O]; weights are [G][O][I] and biases [O][G].
func multiLinear(l *nmn.MultiLinear, x []float32) []float32 {
	g, o, in := l.Groups, l.Outputs, l.Inputs
	y := make([]float32, g*o)
	for gi := 0; gi < g; gi++ {
		yg := y[gi*o : (gi+1)*o]
		for oi := range yg {
			yg[oi] = l.Biases[oi*g+gi]
		}
		a := blas32.General{Rows: o, Cols: in, Stride: in, Data: l.Weights[gi*o*in : (gi+1)*o*in]}
		blas32.Gemv(blas.NoTrans, 1, a, vec(x[gi*in:(gi+1)*in]), 1, vec(yg))
	}
	return y
}

// elu is the exponential linear unit with alpha 1.
func elu(x []float32) []float32 {
	y := make([]float32, len(x))
	for i, v := range x {
		if v > 0 {
			y[i] = v
		} else {
			y[i] = float32(math.Expm1(float64(v)))
		}
	}
	return y
}

func vec(v []float32) blas32.Vector {
	return blas32.Vector{N: len(v), Inc: 1, Data: v}
}
