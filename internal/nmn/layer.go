package nmn

import "fmt"

// LayerKind is the on-disk tag of a layer.
type LayerKind uint32

const (
	KindSequence         LayerKind = 1
	KindLinear           LayerKind = 4
	KindCompressedLinear LayerKind = 5
	KindMultiLinear      LayerKind = 6
	KindELU              LayerKind = 8
)

func (k LayerKind) String() string {
	switch k {
	case KindSequence:
		return "Sequence"
	case KindLinear:
		return "Linear"
	case KindCompressedLinear:
		return "CompressedLinear"
	case KindMultiLinear:
		return "MultiLinear"
	case KindELU:
		return "ELU"
	default:
		return fmt.Sprintf("LayerKind(%d)", uint32(k))
	}
}

// Layer is one descriptor of a network. The set of implementations is closed:
// *Linear, *CompressedLinear, *MultiLinear and *ELU.
type Layer interface {
	Kind() LayerKind
	InputSize() int
	OutputSize() int
	validate() error
}

// Linear is a dense layer. Weights are row-major [Inputs][Outputs].
type Linear struct {
	Inputs  int
	Outputs int
	Weights []float32
	Biases  []float32
}

func (l *Linear) Kind() LayerKind { return KindLinear }
func (l *Linear) InputSize() int  { return l.Inputs }
func (l *Linear) OutputSize() int { return l.Outputs }

func (l *Linear) validate() error {
	if l.Inputs <= 0 || l.Outputs <= 0 {
		return fmt.Errorf("%w: linear layer %dx%d", ErrShape, l.Inputs, l.Outputs)
	}
	if len(l.Weights) != l.Inputs*l.Outputs {
		return shapeErr("linear.weights", l.Inputs*l.Outputs, len(l.Weights))
	}
	if len(l.Biases) != l.Outputs {
		return shapeErr("linear.biases", l.Outputs, len(l.Biases))
	}
	return nil
}

// CompressedLinear is a Linear layer whose weights are 8-bit codes with a scale and
// offset per input row: w[r][c] = Codes[r*Outputs+c]*Scales[r] + Offsets[r].
type CompressedLinear struct {
	Inputs  int
	Outputs int
	Codes   []uint8
	Offsets []float32
	Scales  []float32
	Biases  []float32
}

func (l *CompressedLinear) Kind() LayerKind { return KindCompressedLinear }
func (l *CompressedLinear) InputSize() int  { return l.Inputs }
func (l *CompressedLinear) OutputSize() int { return l.Outputs }

func (l *CompressedLinear) validate() error {
	if l.Inputs <= 0 || l.Outputs <= 0 {
		return fmt.Errorf("%w: compressed linear layer %dx%d", ErrShape, l.Inputs, l.Outputs)
	}
	if len(l.Codes) != l.Inputs*l.Outputs {
		return shapeErr("compressed_linear.codes", l.Inputs*l.Outputs, len(l.Codes))
	}
	if len(l.Offsets) != l.Inputs {
		return shapeErr("compressed_linear.offsets", l.Inputs, len(l.Offsets))
	}
	if len(l.Scales) != l.Inputs {
		return shapeErr("compressed_linear.scales", l.Inputs, len(l.Scales))
	}
	if len(l.Biases) != l.Outputs {
		return shapeErr("compressed_linear.biases", l.Outputs, len(l.Biases))
	}
	return nil
}

// MultiLinear holds one independent dense layer per group. Weights are [Groups][Outputs][Inputs]
// and biases [Outputs][Groups]. Group g reads inputs [g*Inputs, (g+1)*Inputs) and writes
// outputs [g*Outputs, (g+1)*Outputs).
type MultiLinear struct {
	Groups  int
	Outputs int
	Inputs  int
	Weights []float32
	Biases  []float32
}

func (l *MultiLinear) Kind() LayerKind { return KindMultiLinear }
func (l *MultiLinear) InputSize() int  { return l.Groups * l.Inputs }
func (l *MultiLinear) OutputSize() int { return l.Groups * l.Outputs }

func (l *MultiLinear) validate() error {
	if l.Groups <= 0 || l.Inputs <= 0 || l.Outputs <= 0 {
		return fmt.Errorf("%w: multi linear layer %dx%dx%d", ErrShape, l.Groups, l.Outputs, l.Inputs)
	}
	if n := l.Groups * l.Outputs * l.Inputs; len(l.Weights) != n {
		return shapeErr("multi_linear.weights", n, len(l.Weights))
	}
	if n := l.Groups * l.Outputs; len(l.Biases) != n {
		return shapeErr("multi_linear.biases", n, len(l.Biases))
	}
	return nil
}

// ELU is the fixed exponential-linear activation (alpha 1) over Size elements.
type ELU struct {
	Size int
}

func (l *ELU) Kind() LayerKind { return KindELU }
func (l *ELU) InputSize() int  { return l.Size }
func (l *ELU) OutputSize() int { return l.Size }

func (l *ELU) validate() error {
	if l.Size <= 0 {
		return fmt.Errorf("%w: activation of size %d", ErrShape, l.Size)
	}
	return nil
}

func isWeighted(l Layer) bool {
	switch l.(type) {
	case *Linear, *CompressedLinear, *MultiLinear:
		return true
	}
	return false
}

// Network is an ordered sequence of layers, serialized as a Sequence.
type Network struct {
	Layers []Layer
}

// InputSize is the input width of the first layer.
func (n *Network) InputSize() int {
	if len(n.Layers) == 0 {
		return 0
	}
	return n.Layers[0].InputSize()
}

// OutputSize is the output width of the last layer.
func (n *Network) OutputSize() int {
	if len(n.Layers) == 0 {
		return 0
	}
	return n.Layers[len(n.Layers)-1].OutputSize()
}

// Validate checks per-layer shapes and the topology: every weighted layer is followed by
// exactly one activation of its output width (optional after the last weighted layer),
// activations never stand alone, and widths chain from layer to layer.
func (n *Network) Validate() error {
	if len(n.Layers) == 0 {
		return fmt.Errorf("%w: empty network", ErrShape)
	}
	for i, l := range n.Layers {
		if l == nil {
			return fmt.Errorf("%w: layer %d is nil", ErrShape, i)
		}
		if err := l.validate(); err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
		if i > 0 && l.InputSize() != n.Layers[i-1].OutputSize() {
			return fmt.Errorf("layer %d (%s): %w", i, l.Kind(), shapeErr("inputs", n.Layers[i-1].OutputSize(), l.InputSize()))
		}
		if isWeighted(l) {
			if i+1 < len(n.Layers) {
				if _, ok := n.Layers[i+1].(*ELU); !ok {
					return fmt.Errorf("%w: layer %d (%s) is not followed by an activation", ErrShape, i, l.Kind())
				}
			}
			continue
		}
		if i == 0 || !isWeighted(n.Layers[i-1]) {
			return fmt.Errorf("%w: activation at layer %d does not follow a weighted layer", ErrShape, i)
		}
	}
	return nil
}
