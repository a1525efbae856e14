package nmn

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func linear(in, out int) *Linear {
	return &Linear{Inputs: in, Outputs: out, Weights: make([]float32, in*out), Biases: make([]float32, out)}
}

func TestNetworkValidate(t *testing.T) {
	tests := []struct {
		name    string
		layers  []Layer
		wantErr bool
	}{
		{"weighted then activation", []Layer{linear(4, 3), &ELU{Size: 3}}, false},
		{"final layer without activation", []Layer{linear(4, 3), &ELU{Size: 3}, linear(3, 2)}, false},
		{"empty", nil, true},
		{"missing activation between weighted layers", []Layer{linear(4, 3), linear(3, 2)}, true},
		{"activation width mismatch", []Layer{linear(4, 3), &ELU{Size: 4}}, true},
		{"leading activation", []Layer{&ELU{Size: 4}, linear(4, 3)}, true},
		{"double activation", []Layer{linear(4, 3), &ELU{Size: 3}, &ELU{Size: 3}}, true},
		{"chained width mismatch", []Layer{linear(4, 3), &ELU{Size: 3}, linear(5, 2)}, true},
		{"bad weight length", []Layer{&Linear{Inputs: 2, Outputs: 2, Weights: make([]float32, 3), Biases: make([]float32, 2)}}, true},
		{"nil layer", []Layer{nil}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Network{Layers: tt.layers}).Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrShape), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLayerWidths(t *testing.T) {
	ml := &MultiLinear{Groups: 4, Outputs: 3, Inputs: 6}
	assert.Equal(t, 24, ml.InputSize())
	assert.Equal(t, 12, ml.OutputSize())

	cl := &CompressedLinear{Inputs: 7, Outputs: 2}
	assert.Equal(t, 7, cl.InputSize())
	assert.Equal(t, 2, cl.OutputSize())
}

func TestShapeErrorUnwraps(t *testing.T) {
	err := (&Linear{Inputs: 2, Outputs: 2, Weights: make([]float32, 4), Biases: make([]float32, 1)}).validate()
	var se *ShapeError
	assert.True(t, errors.As(err, &se))
	assert.Equal(t, "linear.biases", se.Field)
	assert.Equal(t, 2, se.Want)
	assert.Equal(t, 1, se.Got)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "MultiLinear", KindMultiLinear.String())
	assert.Equal(t, "LayerKind(99)", LayerKind(99).String())
	assert.Equal(t, "Global", ModeGlobal.String())
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("local")
	assert.NoError(t, err)
	assert.Equal(t, ModeLocal, m)
	m, err = ParseMode("1")
	assert.NoError(t, err)
	assert.Equal(t, ModeGlobal, m)
	_, err = ParseMode("shared")
	assert.Error(t, err)
}
