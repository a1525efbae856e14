package checkpoint

import (
	"math"
	"math/rand"

	"github.com/qrv0/morphnet/internal/config"
	"github.com/qrv0/morphnet/internal/nmn"
)

// DefaultSeed is the seed the trainer fixes for reproducible runs.
const DefaultSeed = 777

// Synthesize builds a randomly initialized checkpoint with the shapes cfg describes,
// for exercising the export pipeline without a trainer. cfg must be valid.
func Synthesize(cfg *config.Config, seed int64) (*Checkpoint, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(seed))
	mode, _ := cfg.ModeValue()
	ck := &Checkpoint{}

	if mode == nmn.ModeGlobal {
		in := cfg.NumInputs()
		for _, out := range widths(cfg, cfg.GlobalMorphs) {
			ck.Main = append(ck.Main, denseLayer(rng, out, in))
			in = out
		}
	} else {
		ck.Main = localLayers(rng, widths(cfg, cfg.MorphsPerBone), nmn.FloatsPerBone, cfg.LocalGroups())
		groups, err := cfg.Groups()
		if err != nil {
			return nil, err
		}
		if len(groups) > 0 {
			in := int(groups.ItemsPerGroup()) * nmn.FloatsPerBone
			ck.Groups = localLayers(rng, widths(cfg, cfg.MorphsPerBone), in, len(groups))
		}
	}

	n := cfg.NumInputs()
	ck.InputMean = make([]float32, n)
	ck.InputStd = make([]float32, n)
	for i := range ck.InputMean {
		ck.InputMean[i] = float32(rng.NormFloat64() * 0.1)
		ck.InputStd[i] = float32(0.5 + rng.Float64())
	}
	return ck, nil
}

// widths lists the output width of every weighted layer: the hidden layers then the output.
func widths(cfg *config.Config, out int) []int {
	w := make([]int, 0, cfg.HiddenLayers+1)
	for i := 0; i < cfg.HiddenLayers; i++ {
		w = append(w, cfg.UnitsPerLayer)
	}
	return append(w, out)
}

func localLayers(rng *rand.Rand, outs []int, in, groups int) []nmn.WeightedLayer {
	layers := make([]nmn.WeightedLayer, 0, len(outs))
	for _, out := range outs {
		layers = append(layers, nmn.WeightedLayer{
			Weight: nmn.Tensor{Shape: []int{out, in, groups}, Data: uniform(rng, out*in*groups, in)},
			Bias:   nmn.Tensor{Shape: []int{out, groups, 1}, Data: uniform(rng, out*groups, in)},
		})
		in = out
	}
	return layers
}

func denseLayer(rng *rand.Rand, out, in int) nmn.WeightedLayer {
	return nmn.WeightedLayer{
		Weight: nmn.Tensor{Shape: []int{out, in}, Data: uniform(rng, out*in, in)},
		Bias:   nmn.Tensor{Shape: []int{out}, Data: uniform(rng, out, in)},
	}
}

// uniform draws from U(-1/sqrt(fanIn), 1/sqrt(fanIn)), the default initialization of a linear layer.
func uniform(rng *rand.Rand, n, fanIn int) []float32 {
	bound := 1 / math.Sqrt(float64(fanIn))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((2*rng.Float64() - 1) * bound)
	}
	return out
}
