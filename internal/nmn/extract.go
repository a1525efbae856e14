package nmn

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/qrv0/morphnet/internal/metrics"
	"github.com/qrv0/morphnet/internal/quant"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NumElements is the product of the shape.
func (t Tensor) NumElements() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

func (t Tensor) check(name string) error {
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("%w: %s has shape %v", ErrShape, name, t.Shape)
		}
	}
	if n := t.NumElements(); n != len(t.Data) {
		return shapeErr(name, n, len(t.Data))
	}
	return nil
}

// WeightedLayer is one trained layer as stored by the trainer.
// Global mode expects Weight [out, in] and Bias [out].
// Local mode expects Weight [O, I, G] and Bias [O, G, 1] (or [O, G]).
type WeightedLayer struct {
	Weight Tensor
	Bias   Tensor
}

type ExtractOptions struct {
	Mode Mode
	// Compress emits CompressedLinear layers in Global mode. Local mode ignores it.
	Compress bool
}

// Extract converts trained layers into a network descriptor laid out for the inference
// runtime: one weighted descriptor per layer, each followed by an ELU of its output width.
func Extract(layers []WeightedLayer, opts ExtractOptions) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("%w: no weighted layers", ErrShape)
	}
	net := &Network{Layers: make([]Layer, 0, 2*len(layers))}
	for i, wl := range layers {
		var (
			l   Layer
			err error
		)
		switch opts.Mode {
		case ModeLocal:
			l, err = extractMultiLinear(wl)
		case ModeGlobal:
			l, err = extractLinear(wl, opts.Compress)
		default:
			return nil, fmt.Errorf("%w: unknown mode %d", ErrShape, uint32(opts.Mode))
		}
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
		act := &ELU{Size: wl.Bias.NumElements()}
		net.Layers = append(net.Layers, l, act)
		metrics.LayersExtracted.WithLabelValues(l.Kind().String()).Inc()
		metrics.LayersExtracted.WithLabelValues(act.Kind().String()).Inc()
	}
	if err := net.Validate(); err != nil {
		return nil, err
	}
	return net, nil
}

func extractLinear(wl WeightedLayer, compress bool) (Layer, error) {
	if len(wl.Weight.Shape) != 2 {
		return nil, fmt.Errorf("%w: linear weight must be 2D, got %v", ErrShape, wl.Weight.Shape)
	}
	if err := wl.Weight.check("weight"); err != nil {
		return nil, err
	}
	if err := wl.Bias.check("bias"); err != nil {
		return nil, err
	}
	out, in := wl.Weight.Shape[0], wl.Weight.Shape[1]
	if wl.Bias.NumElements() != out {
		return nil, shapeErr("bias", out, wl.Bias.NumElements())
	}

	// [out, in] -> [in, out]
	w := mat.NewDense(out, in, widen(wl.Weight.Data))
	var t mat.Dense
	t.CloneFrom(w.T())
	weights := make([]float32, in*out)
	for r := 0; r < in; r++ {
		for c := 0; c < out; c++ {
			weights[r*out+c] = float32(t.At(r, c))
		}
	}
	biases := append([]float32(nil), wl.Bias.Data...)

	if !compress {
		return &Linear{Inputs: in, Outputs: out, Weights: weights, Biases: biases}, nil
	}
	q, err := quant.QuantizeRows(in, out, weights)
	if err != nil {
		return nil, err
	}
	return &CompressedLinear{
		Inputs:  in,
		Outputs: out,
		Codes:   q.Codes,
		Offsets: q.Offsets,
		Scales:  q.Scales,
		Biases:  biases,
	}, nil
}

func extractMultiLinear(wl WeightedLayer) (Layer, error) {
	if len(wl.Weight.Shape) != 3 {
		return nil, fmt.Errorf("%w: multi linear weight must be 3D, got %v", ErrShape, wl.Weight.Shape)
	}
	if err := wl.Weight.check("weight"); err != nil {
		return nil, err
	}
	if err := wl.Bias.check("bias"); err != nil {
		return nil, err
	}
	o, in, g := wl.Weight.Shape[0], wl.Weight.Shape[1], wl.Weight.Shape[2]
	bs := wl.Bias.Shape
	switch {
	case len(bs) == 3 && bs[2] == 1, len(bs) == 2:
		if bs[0] != o || bs[1] != g {
			return nil, fmt.Errorf("%w: bias shape %v does not match weight shape %v", ErrShape, bs, wl.Weight.Shape)
		}
	default:
		return nil, fmt.Errorf("%w: multi linear bias must be [O, G, 1], got %v", ErrShape, bs)
	}

	// [O, I, G] -> [G, O, I]
	src := wl.Weight.Data
	weights := make([]float32, g*o*in)
	for oi := 0; oi < o; oi++ {
		for ii := 0; ii < in; ii++ {
			row := src[(oi*in+ii)*g : (oi*in+ii+1)*g]
			for gi, v := range row {
				weights[(gi*o+oi)*in+ii] = v
			}
		}
	}
	// (O, G, 1) -> (O, G) keeps the flat order.
	biases := append([]float32(nil), wl.Bias.Data...)
	return &MultiLinear{Groups: g, Outputs: o, Inputs: in, Weights: weights, Biases: biases}, nil
}

func widen(a []float32) []float64 {
	out := make([]float64, len(a))
	for i, v := range a {
		out[i] = float64(v)
	}
	return out
}
