package nmn

import "testing"

// ramp returns n deterministic values in roughly [-1, 1].
func ramp(n int, seed float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((i*7+int(seed*13))%17-8) / 8
	}
	return out
}

func ones(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

// localLayer builds trainer-shaped local weights: weight [O, I, G], bias [O, G, 1].
func localLayer(o, in, g int, seed float32) WeightedLayer {
	return WeightedLayer{
		Weight: Tensor{Shape: []int{o, in, g}, Data: ramp(o*in*g, seed)},
		Bias:   Tensor{Shape: []int{o, g, 1}, Data: ramp(o*g, seed+1)},
	}
}

// globalLayer builds trainer-shaped global weights: weight [out, in], bias [out].
func globalLayer(out, in int, seed float32) WeightedLayer {
	return WeightedLayer{
		Weight: Tensor{Shape: []int{out, in}, Data: ramp(out*in, seed)},
		Bias:   Tensor{Shape: []int{out}, Data: ramp(out, seed+1)},
	}
}

// localFile is 4 bones, no curves, no groups, two hidden layers of 8 units, 3 morphs per bone.
func localFile(t *testing.T) *File {
	t.Helper()
	main, err := Extract([]WeightedLayer{
		localLayer(2, 6, 4, 1),
		localLayer(2, 2, 4, 2),
		localLayer(3, 2, 4, 3),
	}, ExtractOptions{Mode: ModeLocal})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	h := Header{Mode: ModeLocal, MorphsPerBone: 3, NumBones: 4, FloatsPerCurve: 6}
	return &File{
		Header:    h,
		InputMean: ramp(h.NumInputs(), 4),
		InputStd:  ones(h.NumInputs()),
		Runtime:   RuntimeName,
		Main:      main,
	}
}

// groupedFile is localFile plus two groups of two items and a groups network.
func groupedFile(t *testing.T) *File {
	t.Helper()
	f := localFile(t)
	groups, err := Extract([]WeightedLayer{
		localLayer(4, 12, 2, 5),
		localLayer(3, 4, 2, 6),
	}, ExtractOptions{Mode: ModeLocal})
	if err != nil {
		t.Fatalf("extract groups: %v", err)
	}
	f.Header.NumGroups = 2
	f.Header.ItemsPerGroup = 2
	f.Groups = groups
	return f
}

// globalFile is 3 bones and 2 single-float curves feeding a two layer network with 5 outputs.
func globalFile(t *testing.T, compress bool) *File {
	t.Helper()
	h := Header{Mode: ModeGlobal, NumOutputs: 5, NumBones: 3, NumCurves: 2, FloatsPerCurve: 1}
	main, err := Extract([]WeightedLayer{
		globalLayer(8, h.NumInputs(), 1),
		globalLayer(5, 8, 2),
	}, ExtractOptions{Mode: ModeGlobal, Compress: compress})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return &File{
		Header:    h,
		InputMean: ramp(h.NumInputs(), 3),
		InputStd:  ramp(h.NumInputs(), 9),
		Runtime:   RuntimeName,
		Main:      main,
	}
}
